package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/config"
	"github.com/dokzlo13/imagebatch/internal/db"
	"github.com/dokzlo13/imagebatch/internal/dispatch"
	"github.com/dokzlo13/imagebatch/internal/flush"
	"github.com/dokzlo13/imagebatch/internal/ledger"
	"github.com/dokzlo13/imagebatch/internal/script"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger

	// Batching
	Store       batch.Store
	Accumulator *batch.Accumulator
	Policy      *script.Policy

	// Delivery
	Bus     *dispatch.Bus
	Drainer *dispatch.Drainer
	Trigger flush.Trigger

	// High-level services
	Ingest  *IngestService
	Health  *HealthService
	Monitor *MonitorService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize batch store
	switch cfg.Batch.Store {
	case config.StoreSQLite:
		s.Store = batch.NewSQLiteStore(database.DB)
	default:
		s.Store = batch.NewMemoryStore()
	}
	s.Accumulator = batch.New(s.Store)

	// Initialize dispatch bus and sinks
	s.Bus = dispatch.NewBus(cfg.Dispatch.GetWorkers(), cfg.Dispatch.GetQueueSize())
	if cfg.Dispatch.LogEnabled() {
		s.Bus.Subscribe(dispatch.NewLogSink())
	}
	if cfg.Dispatch.LedgerEnabled() {
		s.Bus.Subscribe(dispatch.NewLedgerSink(s.Ledger))
	}
	if cfg.Dispatch.ForwardURL != "" {
		s.Bus.Subscribe(dispatch.NewForwardSink(
			cfg.Dispatch.ForwardURL,
			cfg.Dispatch.ForwardTimeout.Duration(),
			cfg.Dispatch.RateLimitRPS,
		))
	}
	s.Bus.OnFailure(dispatch.RecordFailure(s.Ledger))
	s.Drainer = dispatch.NewDrainer(s.Accumulator, s.Bus)

	// Load readiness policy for the script strategy
	if cfg.Flush.Strategy == flush.StrategyScript {
		s.Policy, err = script.Load(cfg.Flush.Script)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	// Initialize flush trigger
	s.Trigger, err = flush.New(flush.Options{
		Strategy: cfg.Flush.Strategy,
		Quiet:    cfg.Flush.Quiet.Duration(),
		Window:   cfg.Flush.Window.Duration(),
		Count:    cfg.Flush.Count,
		Poll:     cfg.Flush.Poll.Duration(),
		Now:      s.Accumulator.Now,
		Policy:   s.Policy,
		Pending:  s.Accumulator,
	}, s.Drainer.Drain)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Ingest = NewIngestService(cfg, s.Accumulator, s.Trigger)
	s.Health = NewHealthService(cfg, s.Accumulator)
	s.Monitor = NewMonitorService(cfg, s.Accumulator, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Batches persisted by a previous run need their triggers re-armed
	pending, err := s.Accumulator.Pending()
	if err != nil {
		return err
	}
	for _, p := range pending {
		s.Trigger.Observe(p)
	}
	if len(pending) > 0 {
		log.Info().Int("batches", len(pending)).Msg("Resumed open batches")
	}

	s.Monitor.Start(ctx)
	s.Health.Start(ctx)
	s.Ingest.Start(ctx)

	return nil
}

// ClearState discards every open batch.
func (s *Services) ClearState() error {
	return s.Store.Clear()
}

// Stop gracefully stops all services.
// Intake stops first; in-memory batches would be lost on exit, so they are then
// drained to the sinks.
func (s *Services) Stop() error {
	if s.Ingest != nil {
		s.Ingest.Stop()
	}

	if s.Trigger != nil {
		s.Trigger.Close()
	}

	if s.cfg.Batch.Store == config.StoreMemory && s.Accumulator != nil {
		s.drainAll()
	}

	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}

	s.Close()
	return nil
}

func (s *Services) drainAll() {
	pending, err := s.Accumulator.Pending()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list open batches on shutdown")
		return
	}
	if len(pending) == 0 {
		return
	}
	log.Info().Int("batches", len(pending)).Msg("Draining open batches before shutdown")
	for _, p := range pending {
		s.Drainer.Drain(p.Session)
	}
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Policy != nil {
		s.Policy.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
