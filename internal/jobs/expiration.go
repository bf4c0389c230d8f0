package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Ananth-NQI/signdesk-backend/internal/metrics"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

// SweepReport summarises one expiration sweep.
type SweepReport struct {
	Scanned        int           `json:"scanned"`
	Expired        int           `json:"expired"`
	CancelFailures int           `json:"cancel_failures"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// SweeperConfig controls when and how much the sweeper works.
type SweeperConfig struct {
	Hour           int
	BatchSize      int
	GatewayTimeout time.Duration
}

// ExpirationSweeper moves pending sessions past their deadline to expired and
// cancels their envelopes at the provider.
type ExpirationSweeper struct {
	store    storage.Store
	gateway  services.EnvelopeGateway
	notifier *services.Notifier
	cfg      SweeperConfig

	Now func() time.Time

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewExpirationSweeper creates a new expiration job
func NewExpirationSweeper(store storage.Store, gateway services.EnvelopeGateway, notifier *services.Notifier, cfg SweeperConfig) *ExpirationSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return &ExpirationSweeper{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		Now:      time.Now,
	}
}

// Start runs the sweep every day at the configured hour until Stop or ctx ends.
func (e *ExpirationSweeper) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		log.Warn().Msg("expiration sweeper already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.stop = cancel
	e.done = make(chan struct{})
	go e.schedule(ctx, e.done)

	log.Info().Int("hour", e.cfg.Hour).Msg("expiration sweeper started")
}

// Stop halts the schedule and waits for a running sweep to return.
func (e *ExpirationSweeper) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stop()
	done := e.done
	e.mu.Unlock()

	<-done
	log.Info().Msg("expiration sweeper stopped")
}

func (e *ExpirationSweeper) schedule(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := e.Now()
		next := NextRun(now, e.cfg.Hour)
		log.Info().Time("next_run", next).Msg("next expiration sweep scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := e.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("expiration sweep failed")
		}
	}
}

// NextRun returns the next occurrence of hour:00 strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce expires every pending session whose deadline has passed. It works in
// batches and stops when a batch makes no progress, so it is safe to re-run.
func (e *ExpirationSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := time.Now()
	now := e.Now()
	defer func() {
		report.Duration = time.Since(start)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
		metrics.SweepExpired.Add(float64(report.Expired))
		metrics.SweepCancelFailures.Add(float64(report.CancelFailures))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := e.store.ListExpirableSessions(ctx, now, e.cfg.BatchSize)
		if err != nil {
			return report, errors.Wrap(err, "list expirable sessions")
		}
		if len(batch) == 0 {
			break
		}

		progress := 0
		for _, session := range batch {
			report.Scanned++
			if e.expire(ctx, session, now, &report) {
				progress++
			}
		}
		if progress == 0 || len(batch) < e.cfg.BatchSize {
			break
		}
	}

	log.Info().
		Int("scanned", report.Scanned).
		Int("expired", report.Expired).
		Int("cancel_failures", report.CancelFailures).
		Int("errors", report.Errors).
		Msg("expiration sweep finished")
	return report, nil
}

// expire handles one session and reports whether it left the pending set.
func (e *ExpirationSweeper) expire(ctx context.Context, session *models.SigningSession, now time.Time, report *SweepReport) bool {
	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	err := e.gateway.CancelEnvelope(gctx, session.EnvelopeID, "Signing session expired")
	cancel()
	if err != nil {
		report.CancelFailures++
		log.Warn().Err(err).Str("session_id", session.ID).Str("envelope_id", session.EnvelopeID).Msg("failed to cancel expired envelope")
	}

	applied, err := e.store.TransitionSession(ctx, session.ID, storage.SessionTransition{
		From: models.SessionStatusPending,
		To:   models.SessionStatusExpired,
		At:   now,
	})
	if err != nil {
		report.Errors++
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to expire session")
		return false
	}
	if !applied {
		// another writer finished the session first
		return true
	}

	report.Expired++
	metrics.SessionTransitions.WithLabelValues(models.SessionStatusExpired, "sweeper").Inc()
	e.notifier.SessionExpired(ctx, session)
	log.Info().Str("session_id", session.ID).Str("transaction_id", session.TransactionID).Msg("session expired")
	return true
}
