package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/repository"
	"github.com/adenalhardan/punchcard-backend/pkg/config"
)

const (
	defaultInterval = 5 * time.Minute
	defaultLifetime = 24 * time.Hour
	sweepTimeout    = time.Minute
)

// Sweeper purges expired events and their forms across all hosts.
type Sweeper struct {
	events   repository.EventRepository
	logger   *slog.Logger
	interval time.Duration
	lifetime time.Duration

	metricsOnce sync.Once
	purged      prometheus.Counter
	failures    prometheus.Counter
	passes      *prometheus.CounterVec

	now func() time.Time
}

// New constructs a Sweeper from the event lifetime and sweep interval in cfg.
func New(events repository.EventRepository, logger *slog.Logger, cfg config.APIConfig) *Sweeper {
	if events == nil {
		return nil
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	lifetime := cfg.EventLifetime
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	s := &Sweeper{
		events:   events,
		logger:   logger,
		interval: interval,
		lifetime: lifetime,
		now:      time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sweeper")
	s.initMetrics()
	return s
}

// Run sweeps once immediately and then on every interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "lifetime", s.lifetime)
	s.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Sweeper) runIteration(parent context.Context) {
	timeout := sweepTimeout
	if s.interval > 0 && s.interval < timeout {
		timeout = s.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	purged, err := s.Sweep(opCtx)
	if err != nil {
		s.logger.Warn("sweep pass incomplete", "purged", purged, "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("sweep pass finished", "purged", purged)
	}
}

// Sweep deletes every event whose lifetime has elapsed, together with its forms. A failure on one
// event does not stop the pass; the first failure is returned alongside the number purged.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := domain.ExpiryCutoff(s.now(), s.lifetime)
	expired, err := s.events.ListEventsCreatedBefore(ctx, cutoff)
	if err != nil {
		s.recordPass("failed")
		return 0, domain.Unavailable("list expired events", err)
	}

	var (
		purged   int
		firstErr error
	)
	for _, event := range expired {
		deleted, err := s.events.DeleteEventCreatedBefore(ctx, event.HostID, event.Title, cutoff)
		if err != nil {
			s.failures.Inc()
			s.logger.Error("failed to purge expired event", "host_id", event.HostID, "title", event.Title, "error", err)
			if firstErr == nil {
				firstErr = domain.Unavailable(fmt.Sprintf("purge %s/%s", event.HostID, event.Title), err)
			}
			continue
		}
		if deleted {
			purged++
			s.purged.Inc()
			s.logger.Info("purged expired event", "host_id", event.HostID, "title", event.Title, "created_at", event.CreatedAt)
		}
	}
	if firstErr != nil {
		s.recordPass("partial")
	} else {
		s.recordPass("ok")
	}
	return purged, firstErr
}

func (s *Sweeper) recordPass(result string) {
	s.passes.With(prometheus.Labels{"result": result}).Inc()
}

func (s *Sweeper) initMetrics() {
	s.metricsOnce.Do(func() {
		s.purged = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "punchcard",
			Subsystem: "sweeper",
			Name:      "events_purged_total",
			Help:      "Number of expired events removed by the sweeper",
		})
		s.failures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "punchcard",
			Subsystem: "sweeper",
			Name:      "purge_failures_total",
			Help:      "Number of expired events the sweeper failed to remove",
		})
		s.passes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "punchcard",
			Subsystem: "sweeper",
			Name:      "passes_total",
			Help:      "Count of sweep passes by result",
		}, []string{"result"})

		if err := prometheus.Register(s.purged); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					s.purged = existing
				}
			}
		}
		if err := prometheus.Register(s.failures); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					s.failures = existing
				}
			}
		}
		if err := prometheus.Register(s.passes); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					s.passes = existing
				}
			}
		}
	})
}
