package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// Envelope is the JSON body POSTed for a drained batch
type Envelope struct {
	Session      string         `json:"session"`
	Count        int            `json:"count"`
	FirstArrival int64          `json:"first_arrival_ms"`
	LastArrival  int64          `json:"last_arrival_ms"`
	Items        []EnvelopeItem `json:"items"`
}

// EnvelopeItem is one image of a forwarded batch, in arrival order
type EnvelopeItem struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Caption   string         `json:"caption,omitempty"`
	SenderID  string         `json:"sender_id,omitempty"`
	ArrivedAt int64          `json:"arrived_at_ms"`
	Binary    any            `json:"binary,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEnvelope converts a batch to its wire form
func NewEnvelope(b *batch.Batch) Envelope {
	env := Envelope{
		Session:      string(b.Session),
		Count:        b.Count(),
		FirstArrival: b.FirstArrival.UnixMilli(),
		LastArrival:  b.LastArrival.UnixMilli(),
		Items:        make([]EnvelopeItem, 0, b.Count()),
	}
	for _, item := range b.Ordered() {
		env.Items = append(env.Items, EnvelopeItem{
			ID:        string(item.ID),
			URL:       item.URL,
			Caption:   item.Caption,
			SenderID:  item.SenderID,
			ArrivedAt: item.ArrivedAt.UnixMilli(),
			Binary:    item.Binary,
			Payload:   item.Payload,
		})
	}
	return env
}

// ForwardSink POSTs batches to the image-analysis endpoint, paced by a rate limiter
type ForwardSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewForwardSink creates a ForwardSink. rps <= 0 disables rate limiting.
func NewForwardSink(url string, timeout time.Duration, rps float64) *ForwardSink {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &ForwardSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Name returns "forward"
func (s *ForwardSink) Name() string {
	return "forward"
}

// Deliver POSTs the batch envelope; any non-2xx response is an error
func (s *ForwardSink) Deliver(ctx context.Context, b *batch.Batch) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(NewEnvelope(b))
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to forward batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("forward endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	log.Debug().
		Str("session", string(b.Session)).
		Int("count", b.Count()).
		Int("status", resp.StatusCode).
		Msg("Batch forwarded")
	return nil
}
