package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ride-dispatch/internal/domain/driver"
	"ride-dispatch/internal/domain/offer"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/observability"
	"ride-dispatch/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
)

// ----- fixed clock -----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ----- pass-through unit of work -----

type fakeUoW struct{}

func (fakeUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ----- in-memory store backing every repository fake -----

type memStore struct {
	mu          sync.Mutex
	seq         int
	rides       map[string]*ride.Ride
	offers      map[string]*offer.Offer
	drivers     map[string]*driver.Driver
	kin         map[string][]string
	online      map[string]bool
	onlineOrder []string
	events      []memEvent
}

type memEvent struct {
	RideID    string
	EventType string
	CreatedAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		rides:   map[string]*ride.Ride{},
		offers:  map[string]*offer.Offer{},
		drivers: map[string]*driver.Driver{},
		kin:     map[string][]string{},
		online:  map[string]bool{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addDriver(id string, verified, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[id] = &driver.Driver{ID: id, IsVerified: verified}
	if online {
		m.online[id] = true
		m.onlineOrder = append(m.onlineOrder, id)
	}
}

func (m *memStore) addKin(riderID string, driverIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kin[riderID] = append(m.kin[riderID], driverIDs...)
}

func (m *memStore) addRide(r *ride.Ride) *ride.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.nextID("ride")
	}
	cp := *r
	m.rides[r.ID] = &cp
	return r
}

func (m *memStore) ride(id string) *ride.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.rides[id]
	return &cp
}

func (m *memStore) offersOf(rideID string) []*offer.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*offer.Offer
	for _, of := range m.offers {
		if of.RideID == rideID {
			cp := *of
			out = append(out, &cp)
		}
	}
	return out
}

// ----- ride repository -----

type memRideRepo struct{ s *memStore }

func (r *memRideRepo) Create(_ context.Context, rd *ride.Ride) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd.ID = r.s.nextID("ride")
	cp := *rd
	r.s.rides[rd.ID] = &cp
	return nil
}

func (r *memRideRepo) GetByID(_ context.Context, id string) (*ride.Ride, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd, ok := r.s.rides[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *rd
	return &cp, nil
}

func (r *memRideRepo) GetByIDForUpdate(ctx context.Context, id string) (*ride.Ride, error) {
	return r.GetByID(ctx, id)
}

func (r *memRideRepo) MarkOffered(_ context.Context, id string, at time.Time) error {
	return r.transition(id, ride.StatusRequested, ride.StatusOffered, at)
}

func (r *memRideRepo) MarkRequested(_ context.Context, id string, at time.Time) error {
	return r.transition(id, ride.StatusOffered, ride.StatusRequested, at)
}

func (r *memRideRepo) transition(id string, from, to ride.Status, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd, ok := r.s.rides[id]
	if !ok || rd.Status != from {
		return ports.ErrNotFound
	}
	rd.Status = to
	rd.UpdatedAt = at
	if to == ride.StatusOffered {
		t := at
		rd.OfferedAt = &t
	}
	return nil
}

func (r *memRideRepo) Accept(_ context.Context, id, driverID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd, ok := r.s.rides[id]
	if !ok || rd.Status != ride.StatusOffered || rd.DriverID != nil {
		return ports.ErrNotFound
	}
	rd.Status = ride.StatusAccepted
	rd.DriverID = &driverID
	t := at
	rd.AcceptedAt = &t
	return nil
}

func (r *memRideRepo) UpdateStatus(_ context.Context, id string, from, to ride.Status, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return ride.ErrInvalidStatusTransition
	}
	return r.transition(id, from, to, at)
}

func (r *memRideRepo) Cancel(_ context.Context, id, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd, ok := r.s.rides[id]
	if !ok {
		return ports.ErrNotFound
	}
	if rd.Status == ride.StatusCanceled {
		return nil
	}
	if !rd.Status.CanTransitionTo(ride.StatusCanceled) {
		return ride.ErrInvalidStatusTransition
	}
	rd.Status = ride.StatusCanceled
	t := at
	rd.CanceledAt = &t
	rd.CancellationReason = &reason
	return nil
}

func (r *memRideRepo) FindScheduledDue(_ context.Context, from, to time.Time) ([]*ride.Ride, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*ride.Ride
	for _, rd := range r.s.rides {
		if rd.Status != ride.StatusRequested || rd.ScheduledAt == nil {
			continue
		}
		if rd.ScheduledAt.Before(from) || rd.ScheduledAt.After(to) {
			continue
		}
		cp := *rd
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRideRepo) FindOverdueRequested(_ context.Context, cutoff time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for _, rd := range r.s.rides {
		if rd.Status != ride.StatusRequested {
			continue
		}
		if !rd.DispatchStart().Before(cutoff) {
			continue
		}
		pending := false
		for _, of := range r.s.offers {
			if of.RideID == rd.ID && of.Status == offer.StatusPending {
				pending = true
				break
			}
		}
		if !pending {
			out = append(out, rd.ID)
		}
	}
	return out, nil
}

// ----- offer repository -----

type memOfferRepo struct{ s *memStore }

func (o *memOfferRepo) CreateBatch(_ context.Context, offers []*offer.Offer) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, of := range offers {
		of.ID = o.s.nextID("offer")
		cp := *of
		o.s.offers[of.ID] = &cp
	}
	return nil
}

func (o *memOfferRepo) GetByID(_ context.Context, id string) (*offer.Offer, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	of, ok := o.s.offers[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *of
	return &cp, nil
}

func (o *memOfferRepo) GetByIDForUpdate(ctx context.Context, id string) (*offer.Offer, error) {
	return o.GetByID(ctx, id)
}

func (o *memOfferRepo) ListByRide(_ context.Context, rideID string) ([]*offer.Offer, error) {
	return o.s.offersOf(rideID), nil
}

func (o *memOfferRepo) ExpireStale(_ context.Context, now time.Time) (int, []string, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	expired := 0
	seen := map[string]struct{}{}
	var rideIDs []string
	for _, of := range o.s.offers {
		if of.Status == offer.StatusPending && of.ExpiresAt.Before(now) {
			of.Status = offer.StatusExpired
			expired++
			if _, ok := seen[of.RideID]; !ok {
				seen[of.RideID] = struct{}{}
				rideIDs = append(rideIDs, of.RideID)
			}
		}
	}
	return expired, rideIDs, nil
}

func (o *memOfferRepo) HasLive(_ context.Context, rideID string) (bool, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, of := range o.s.offers {
		if of.RideID == rideID && (of.Status == offer.StatusPending || of.Status == offer.StatusAccepted) {
			return true, nil
		}
	}
	return false, nil
}

func (o *memOfferRepo) Accept(_ context.Context, id string, at time.Time) error {
	return o.respond(id, offer.StatusAccepted, at)
}

func (o *memOfferRepo) Decline(_ context.Context, id string, at time.Time) error {
	return o.respond(id, offer.StatusDeclined, at)
}

func (o *memOfferRepo) respond(id string, to offer.Status, at time.Time) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	of, ok := o.s.offers[id]
	if !ok || of.Status != offer.StatusPending {
		return ports.ErrNotFound
	}
	of.Status = to
	t := at
	of.RespondedAt = &t
	return nil
}

func (o *memOfferRepo) DeclineSiblings(_ context.Context, rideID, winningOfferID string, at time.Time) (int, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	declined := 0
	for _, of := range o.s.offers {
		if of.RideID == rideID && of.ID != winningOfferID && of.Status == offer.StatusPending {
			of.Status = offer.StatusDeclined
			t := at
			of.RespondedAt = &t
			declined++
		}
	}
	return declined, nil
}

// ----- driver repository -----

type memDriverRepo struct{ s *memStore }

func (d *memDriverRepo) GetByID(_ context.Context, id string) (*driver.Driver, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	dr, ok := d.s.drivers[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *dr
	return &cp, nil
}

func (d *memDriverRepo) FilterVerified(_ context.Context, ids []string) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if dr, ok := d.s.drivers[id]; ok && dr.IsVerified {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *memDriverRepo) KinOf(_ context.Context, riderID string) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return append([]string(nil), d.s.kin[riderID]...), nil
}

// ----- presence store -----

type memPresence struct{ s *memStore }

func (p *memPresence) Heartbeat(_ context.Context, driverID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if !p.s.online[driverID] {
		p.s.online[driverID] = true
		p.s.onlineOrder = append(p.s.onlineOrder, driverID)
	}
	return nil
}

func (p *memPresence) MarkOffline(_ context.Context, driverID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	delete(p.s.online, driverID)
	return nil
}

func (p *memPresence) IsOnline(_ context.Context, driverID string) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.online[driverID], nil
}

func (p *memPresence) OnlineIDs(_ context.Context) ([]string, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	// insertion order keeps pool-cap assertions deterministic
	var ids []string
	for _, id := range p.s.onlineOrder {
		if p.s.online[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *memPresence) FilterOnline(_ context.Context, ids []string) ([]string, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if p.s.online[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ----- event repository -----

type memEventRepo struct{ s *memStore }

func (e *memEventRepo) Append(_ context.Context, rideID, eventType string, _ map[string]any) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.events = append(e.s.events, memEvent{RideID: rideID, EventType: eventType, CreatedAt: time.Now()})
	return nil
}

func (e *memEventRepo) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	var kept []memEvent
	var pruned int64
	for _, ev := range e.s.events {
		if ev.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, ev)
	}
	e.s.events = kept
	return pruned, nil
}

// ----- recording notifier -----

type notifyCall struct {
	Target string // driver or rider id
	Event  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	drivers []notifyCall
	rides   []notifyCall
}

func (n *recordingNotifier) NotifyDriver(_ context.Context, driverID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drivers = append(n.drivers, notifyCall{Target: driverID, Event: event})
}

func (n *recordingNotifier) NotifyRide(_ context.Context, _, riderID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rides = append(n.rides, notifyCall{Target: riderID, Event: event})
}

func (n *recordingNotifier) driverEvents(driverID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, c := range n.drivers {
		if c.Target == driverID {
			out = append(out, c.Event)
		}
	}
	return out
}

func (n *recordingNotifier) rideEvents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, c := range n.rides {
		out = append(out, c.Event)
	}
	return out
}

// ----- wiring -----

type testEnv struct {
	svc      *Service
	store    *memStore
	clock    *fakeClock
	notifier *recordingNotifier
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		OfferTTLSeconds:        30,
		SweepIntervalSeconds:   15,
		TriggerIntervalSeconds: 30,
		TriggerWindowMinutes:   5,
		PendingCeilingMinutes:  10,
		PoolCap:                5,
		StartupGraceSeconds:    1,
		PruneIntervalMinutes:   60,
		EventRetentionDays:     30,
		PresenceTTLSeconds:     90,
	}
}

func newTestEnv() *testEnv {
	store := newMemStore()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}

	svc := NewService(
		fakeUoW{},
		&memRideRepo{s: store},
		&memOfferRepo{s: store},
		&memDriverRepo{s: store},
		&memPresence{s: store},
		&memEventRepo{s: store},
		notifier,
		clock,
		observability.NewMetrics(prometheus.NewRegistry()),
		logger.New("dispatch-test"),
		testConfig(),
	)

	return &testEnv{svc: svc, store: store, clock: clock, notifier: notifier}
}

// requestedRide inserts a REQUESTED ride whose dispatch window opened at the
// clock's current time.
func (e *testEnv) requestedRide(riderID string) *ride.Ride {
	now := e.clock.Now()
	r := &ride.Ride{
		RiderID:     riderID,
		Status:      ride.StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
		RequestedAt: now,
	}
	return e.store.addRide(r)
}

// offeredRide inserts an OFFERED ride with one PENDING offer per driver, all
// expiring at expiresAt.
func (e *testEnv) offeredRide(riderID string, driverIDs []string, expiresAt time.Time) (*ride.Ride, []*offer.Offer) {
	r := e.requestedRide(riderID)

	e.store.mu.Lock()
	now := e.clock.Now()
	rd := e.store.rides[r.ID]
	rd.Status = ride.StatusOffered
	t := now
	rd.OfferedAt = &t

	var offers []*offer.Offer
	for _, driverID := range driverIDs {
		id := e.store.nextID("offer")
		of := &offer.Offer{
			ID:        id,
			RideID:    r.ID,
			DriverID:  driverID,
			Status:    offer.StatusPending,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}
		e.store.offers[id] = of
		cp := *of
		offers = append(offers, &cp)
	}
	e.store.mu.Unlock()

	return e.store.ride(r.ID), offers
}
