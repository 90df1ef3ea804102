package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the dispatch engine.
type Metrics struct {
	OffersCreated  prometheus.Counter
	OffersExpired  prometheus.Counter
	OffersAccepted prometheus.Counter
	OffersDeclined prometheus.Counter
	RidesRequested prometheus.Counter
	RidesReoffered prometheus.Counter
	RidesCanceled  prometheus.Counter
	RidesTriggered prometheus.Counter
	SweepDuration  prometheus.Histogram
	JobRuns        *prometheus.CounterVec
}

// NewMetrics registers the dispatch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OffersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_created_total",
			Help: "Offers created by the matcher.",
		}),
		OffersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_expired_total",
			Help: "Pending offers expired by the sweeper.",
		}),
		OffersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_accepted_total",
			Help: "Offers accepted by drivers.",
		}),
		OffersDeclined: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_declined_total",
			Help: "Offers declined by drivers or auto-declined on accept.",
		}),
		RidesRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_rides_requested_total",
			Help: "Ride requests created.",
		}),
		RidesReoffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_rides_reoffered_total",
			Help: "Rides returned to REQUESTED after all offers terminated.",
		}),
		RidesCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_rides_canceled_total",
			Help: "Rides canceled, including pending-ceiling cancellations.",
		}),
		RidesTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_rides_triggered_total",
			Help: "Scheduled rides moved into active dispatch.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_job_runs_total",
			Help: "Background job runs by job name and outcome.",
		}, []string{"job", "outcome"}),
	}
}
