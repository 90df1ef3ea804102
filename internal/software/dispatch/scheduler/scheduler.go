package scheduler

import (
	"context"
	"sync"
	"time"

	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/observability"
)

// Job is one periodic maintenance task. Run returns how many rows it
// affected so quiet passes stay out of the logs.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (effect int, err error)
}

// Scheduler drives the background jobs of the dispatch engine. Each job runs
// on its own ticker goroutine; runs of the same job never overlap because
// each goroutine executes its job serially.
type Scheduler struct {
	logger  *logger.Logger
	metrics *observability.Metrics
	grace   time.Duration
	jobs    []Job

	wg sync.WaitGroup
}

// New constructs a Scheduler. grace delays the first run of every job so the
// process finishes wiring before background work starts.
func New(log *logger.Logger, metrics *observability.Metrics, grace time.Duration) *Scheduler {
	return &Scheduler{logger: log, metrics: metrics, grace: grace}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job and returns immediately. Jobs stop
// when ctx is canceled; Wait blocks until they have all exited.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}

	s.logger.Info(ctx, "scheduler_started", "Background jobs started", map[string]any{
		"jobs":          len(s.jobs),
		"startup_grace": s.grace.String(),
	})
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	select {
	case <-time.After(s.grace):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	// one run right after the grace period, then on every tick
	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	effect, err := job.Run(ctx)

	switch {
	case err != nil:
		s.metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
		s.logger.Error(ctx, "job_failed", "Background job failed", err, map[string]any{
			"job":         job.Name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	case effect > 0:
		s.metrics.JobRuns.WithLabelValues(job.Name, "ok").Inc()
		s.logger.Info(ctx, "job_completed", "Background job completed", map[string]any{
			"job":         job.Name,
			"effect":      effect,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	default:
		// quiet pass: count it, keep it out of the logs
		s.metrics.JobRuns.WithLabelValues(job.Name, "ok").Inc()
	}
}
