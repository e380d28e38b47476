package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
	"github.com/dokzlo13/imagebatch/internal/config"
	"github.com/dokzlo13/imagebatch/internal/ingest"
)

// IngestService wraps the ingest HTTP server.
type IngestService struct {
	cfg    *config.Config
	server *ingest.Server
	done   chan struct{}
}

// NewIngestService creates a new IngestService.
func NewIngestService(cfg *config.Config, acc *batch.Accumulator, observer ingest.Observer) *IngestService {
	server := ingest.NewServer(cfg.Ingest.Host, cfg.Ingest.Port, cfg.Ingest.MaxBodyBytes, acc, observer)
	return &IngestService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the ingest server if enabled.
func (s *IngestService) Start(ctx context.Context) {
	if !s.cfg.Ingest.Enabled {
		log.Debug().Msg("Ingest server disabled")
		return
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("Ingest server error")
		}
	}()
}

// Stop rejects further events and waits for the server to finish shutting
// down. The server itself stops when the context passed to Start is cancelled.
func (s *IngestService) Stop() {
	s.server.Close()
	if s.done != nil {
		<-s.done
	}
}
