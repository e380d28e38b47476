package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/config"
	"github.com/dokzlo13/imagebatch/internal/ledger"
)

// MonitorService reports open batches that grew or aged past the configured
// limits and prunes the ledger. It never drains or evicts anything: batches
// that are never drained keep growing, and this is where that shows up.
type MonitorService struct {
	cfg    *config.Config
	acc    *batch.Accumulator
	ledger *ledger.Ledger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(cfg *config.Config, acc *batch.Accumulator, l *ledger.Ledger) *MonitorService {
	return &MonitorService{
		cfg:    cfg,
		acc:    acc,
		ledger: l,
	}
}

// Start begins the periodic checks.
func (s *MonitorService) Start(ctx context.Context) {
	if s.cfg.Batch.CheckInterval > 0 {
		go s.runInspection(ctx)
	}
	if s.ledger != nil && s.cfg.Ledger.CleanupInterval > 0 {
		go s.runLedgerCleanup(ctx)
	}
}

// runInspection periodically logs anomalies among open batches.
func (s *MonitorService) runInspection(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Batch.CheckInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check()
		}
	}
}

// Check inspects open batches once and returns the anomalies found.
func (s *MonitorService) Check() []batch.Anomaly {
	pending, err := s.acc.Pending()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list open batches")
		return nil
	}

	limits := batch.Limits{
		MaxAge:   s.cfg.Batch.MaxAge.Duration(),
		MaxItems: s.cfg.Batch.MaxItems,
	}
	anomalies := batch.Inspect(pending, s.acc.Now(), limits)

	for _, a := range anomalies {
		log.Warn().
			Str("session", string(a.Session)).
			Str("kind", string(a.Kind)).
			Int("count", a.Count).
			Dur("age", a.Age).
			Msg("Open batch exceeds limit")
	}

	total := 0
	for _, p := range pending {
		total += p.Count
	}
	log.Debug().Int("batches", len(pending)).Int("items", total).Msg("Open batch inspection")

	return anomalies
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *MonitorService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
