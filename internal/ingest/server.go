// Package ingest receives image events over HTTP and appends them to batches.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// Event fields read from the upstream JSON body. Everything else is passed through.
const (
	FieldSessionID = "sessionId"
	FieldURL       = "publicUrl"
	FieldCaption   = "chatInput"
	FieldSenderID  = "senderJID"
	FieldBinary    = "binary"
)

// Observer is notified of every successful append (see flush.Trigger)
type Observer interface {
	Observe(s batch.Stats)
}

// Response is the body returned for an accepted event: the original payload
// annotated with batch metadata, and the binary handle unchanged.
type Response struct {
	JSON   map[string]any `json:"json"`
	Binary any            `json:"binary,omitempty"`
}

// Server is an HTTP server that appends incoming events to the accumulator.
type Server struct {
	addr         string
	acc          *batch.Accumulator
	observer     Observer
	maxBodyBytes int64
	httpServer   *http.Server

	// Held for reading across append and observe; Close takes it for writing
	mu        sync.RWMutex
	closed    bool
	stop      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new ingest server.
func NewServer(host string, port int, maxBodyBytes int64, acc *batch.Accumulator, observer Observer) *Server {
	return &Server{
		addr:         fmt.Sprintf("%s:%d", host, port),
		acc:          acc,
		observer:     observer,
		maxBodyBytes: maxBodyBytes,
		stop:         make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving POST /events.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvent)
	return mux
}

// Run starts the ingest server. It blocks until the context is cancelled or
// Close is called and the server has shut down, or until the listener fails.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting ingest server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	case <-s.stop:
	}

	// Stop accepting events before waiting for in-flight requests
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ingest server shutdown error")
	}

	log.Info().Msg("Ingest server stopped")
	return nil
}

// Close rejects further events with 503. It returns once no append is in flight,
// so the store can be drained safely afterwards.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})
}

// handleEvent appends one image event and returns the annotated payload.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer body.Close()

	// Numbers stay json.Number so numeric session IDs keep their exact digits
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		log.Debug().Err(err).Msg("Rejected event with invalid JSON body")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key, item := ToItem(payload)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	snap, err := s.acc.Append(key, item)
	if err == nil && s.observer != nil {
		s.observer.Observe(snap.Stats)
	}
	s.mu.RUnlock()

	if errors.Is(err, batch.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session", string(key)).Msg("Failed to append event")
		writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}

	log.Debug().
		Str("session", string(key)).
		Str("item_id", string(snap.ItemID)).
		Int("count", snap.Count).
		Msg("Accepted image event")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(Response{JSON: snap.Annotated(), Binary: snap.Binary}); err != nil {
		log.Debug().Err(err).Str("session", string(key)).Msg("Failed to write event response")
	}
}

// ToItem maps an upstream event body to a session key and batch item.
// The binary field is lifted out of the payload; the rest passes through.
func ToItem(payload map[string]any) (batch.SessionKey, batch.Item) {
	binary := payload[FieldBinary]
	passThrough := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != FieldBinary {
			passThrough[k] = v
		}
	}

	return batch.SessionKey(stringField(payload, FieldSessionID)), batch.Item{
		URL:      stringField(payload, FieldURL),
		Caption:  stringField(payload, FieldCaption),
		SenderID: stringField(payload, FieldSenderID),
		Binary:   binary,
		Payload:  passThrough,
	}
}

func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Debug().Err(err).Int("status", status).Msg("Failed to write error response")
	}
}
