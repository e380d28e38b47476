package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// statsRecorder is an Observer that keeps every observation
type statsRecorder struct {
	mu    sync.Mutex
	stats []batch.Stats
}

func (r *statsRecorder) Observe(s batch.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestServer() (*Server, *batch.Accumulator, *statsRecorder) {
	acc := batch.New(batch.NewMemoryStore())
	obs := &statsRecorder{}
	return NewServer("127.0.0.1", 0, 1<<20, acc, obs), acc, obs
}

func TestHandleEvent_Accepts(t *testing.T) {
	srv, acc, obs := newTestServer()
	h := srv.Handler()

	rec := post(t, h, `{"sessionId":"A","publicUrl":"https://cdn/1.jpg","chatInput":"front","senderJID":"1@s.whatsapp.net","binary":{"data":{"mimeType":"image/jpeg"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	post(t, h, `{"sessionId":"A","publicUrl":"https://cdn/2.jpg"}`)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.JSON["sessionId"] != "A" || resp.JSON["chatInput"] != "front" {
		t.Errorf("pass-through fields missing: %v", resp.JSON)
	}
	if resp.JSON[batch.KeyCurrentCount] != 1.0 || resp.JSON[batch.KeySessionID] != "A" {
		t.Errorf("annotation = %v", resp.JSON)
	}
	if _, ok := resp.JSON[FieldBinary]; ok {
		t.Error("binary should not be duplicated into json")
	}
	bin, _ := resp.Binary.(map[string]any)
	if bin == nil || bin["data"] == nil {
		t.Errorf("binary = %v", resp.Binary)
	}

	b, _ := acc.Peek("A")
	if b == nil || b.Count() != 2 {
		t.Fatalf("batch = %+v, want 2 items", b)
	}
	for _, item := range b.Items {
		if item.URL == "https://cdn/1.jpg" && (item.Caption != "front" || item.SenderID != "1@s.whatsapp.net") {
			t.Errorf("item = %+v", item)
		}
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.stats) != 2 || obs.stats[1].Count != 2 {
		t.Errorf("observations = %+v", obs.stats)
	}
}

func TestHandleEvent_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "missing_session", method: http.MethodPost, body: `{"publicUrl":"u"}`, want: http.StatusBadRequest},
		{name: "missing_url", method: http.MethodPost, body: `{"sessionId":"A"}`, want: http.StatusBadRequest},
		{name: "invalid_json", method: http.MethodPost, body: `{not json`, want: http.StatusBadRequest},
		{name: "wrong_method", method: http.MethodGet, body: ``, want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, acc, obs := newTestServer()

			req := httptest.NewRequest(tt.method, "/events", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			pending, _ := acc.Pending()
			if len(pending) != 0 {
				t.Errorf("store mutated: %+v", pending)
			}
			if len(obs.stats) != 0 {
				t.Errorf("observer notified: %+v", obs.stats)
			}
		})
	}
}

func TestHandleEvent_NumericSessionID(t *testing.T) {
	srv, acc, _ := newTestServer()
	h := srv.Handler()

	for _, body := range []string{
		`{"sessionId":972501234567,"publicUrl":"https://cdn/1.jpg"}`,
		`{"sessionId":9007199254740993,"publicUrl":"https://cdn/2.jpg"}`,
		`{"sessionId":9007199254740992,"publicUrl":"https://cdn/3.jpg"}`,
	} {
		if rec := post(t, h, body); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}

	for _, key := range []batch.SessionKey{"972501234567", "9007199254740993", "9007199254740992"} {
		b, err := acc.Peek(key)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if b == nil || b.Count() != 1 {
			t.Errorf("batch %q = %+v, want 1 item", key, b)
		}
	}
}

func TestServer_CloseRejectsEvents(t *testing.T) {
	srv, acc, obs := newTestServer()
	h := srv.Handler()

	post(t, h, `{"sessionId":"A","publicUrl":"https://cdn/1.jpg"}`)
	srv.Close()
	srv.Close()

	rec := post(t, h, `{"sessionId":"A","publicUrl":"https://cdn/2.jpg"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	b, _ := acc.Peek("A")
	if b == nil || b.Count() != 1 {
		t.Errorf("batch = %+v, want only the item accepted before Close", b)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.stats) != 1 {
		t.Errorf("observations = %+v, want 1", obs.stats)
	}
}

func TestToItem(t *testing.T) {
	payload := map[string]any{
		"sessionId":   "5511999",
		"publicUrl":   "https://cdn/x.png",
		"senderJID":   12345.0,
		"binary":      "handle",
		"senderPhone": "+55 11 999",
	}

	key, item := ToItem(payload)
	if key != "5511999" {
		t.Errorf("key = %q", key)
	}
	if item.URL != "https://cdn/x.png" || item.Caption != "" || item.SenderID != "12345" {
		t.Errorf("item = %+v", item)
	}
	if item.Binary != "handle" {
		t.Errorf("binary = %v", item.Binary)
	}
	if _, ok := item.Payload["binary"]; ok {
		t.Error("binary left in payload")
	}
	if item.Payload["senderPhone"] != "+55 11 999" {
		t.Errorf("payload = %v", item.Payload)
	}
	if _, ok := payload["binary"]; !ok {
		t.Error("ToItem mutated its input")
	}

	key, item = ToItem(map[string]any{
		"sessionId": json.Number("972501234567"),
		"publicUrl": "u",
		"senderJID": json.Number("5511999"),
	})
	if key != "972501234567" || item.SenderID != "5511999" {
		t.Errorf("numeric fields: key = %q, sender = %q", key, item.SenderID)
	}
}

func TestServer_RunStopsOnClose(t *testing.T) {
	srv, _, _ := newTestServer()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(context.Background(), time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	srv.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

// brokenWriter fails every body write, like a client that hung up
type brokenWriter struct {
	header http.Header
	status int
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(status int)    { w.status = status }
func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteError_BrokenConnection(t *testing.T) {
	w := &brokenWriter{header: http.Header{}}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	if w.status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.status)
	}
}
