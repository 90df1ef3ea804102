package service

import (
	"context"
	"fmt"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/observability"
	"ride-dispatch/internal/ports"
)

// Service is the ride dispatch and offer lifecycle engine. All multi-row
// mutations run inside one unit of work so the atomic-accept and sweep
// invariants hold under concurrency.
type Service struct {
	uow      ports.UnitOfWork
	rides    ports.RideRepository
	offers   ports.OfferRepository
	drivers  ports.DriverRepository
	presence ports.PresenceStore
	events   ports.EventRepository
	notifier ports.Notifier
	clock    ports.Clock
	metrics  *observability.Metrics
	logger   *logger.Logger
	cfg      config.DispatchConfig
}

// NewService wires the dispatch engine.
func NewService(
	uow ports.UnitOfWork,
	rides ports.RideRepository,
	offers ports.OfferRepository,
	drivers ports.DriverRepository,
	presence ports.PresenceStore,
	events ports.EventRepository,
	notifier ports.Notifier,
	clock ports.Clock,
	metrics *observability.Metrics,
	log *logger.Logger,
	cfg config.DispatchConfig,
) *Service {
	return &Service{
		uow:      uow,
		rides:    rides,
		offers:   offers,
		drivers:  drivers,
		presence: presence,
		events:   events,
		notifier: notifier,
		clock:    clock,
		metrics:  metrics,
		logger:   log,
		cfg:      cfg,
	}
}

var _ ports.DispatchService = (*Service)(nil)

// PruneDispatchEvents deletes audit rows past the retention window.
func (s *Service) PruneDispatchEvents(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.cfg.EventRetention())

	var pruned int64
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		pruned, err = s.events.PruneOlderThan(txCtx, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune dispatch events: %w", err)
	}

	return pruned, nil
}
