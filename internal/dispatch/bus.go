// Package dispatch hands drained batches to downstream sinks on a bounded
// worker pool.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Sink receives drained batches
type Sink interface {
	Name() string
	Deliver(ctx context.Context, b *batch.Batch) error
}

// FailureFunc is called when a sink fails to deliver a batch
type FailureFunc func(sink string, b *batch.Batch, err error)

// work represents a unit of work for the worker pool
type work struct {
	batch *batch.Batch
	sink  Sink
}

// Bus delivers batches to every subscribed sink with a bounded worker pool
type Bus struct {
	mu        sync.RWMutex
	sinks     []Sink
	onFailure FailureFunc

	ctx    context.Context
	cancel context.CancelFunc

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// NewBus creates a new bus with custom worker count and queue size
func NewBus(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		ctx:       ctx,
		cancel:    cancel,
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Dispatch worker pool started")
	return b
}

// worker processes batches from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		b.deliver(id, w)
	}
}

func (b *Bus) deliver(id int, w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("sink", w.sink.Name()).
				Str("session", string(w.batch.Session)).
				Int("worker", id).
				Msg("Sink panicked")
		}
	}()

	if err := w.sink.Deliver(b.ctx, w.batch); err != nil {
		log.Error().
			Err(err).
			Str("sink", w.sink.Name()).
			Str("session", string(w.batch.Session)).
			Int("count", w.batch.Count()).
			Msg("Failed to deliver batch")

		b.mu.RLock()
		onFailure := b.onFailure
		b.mu.RUnlock()
		if onFailure != nil {
			onFailure(w.sink.Name(), w.batch, err)
		}
	}
}

// Subscribe registers a sink for every published batch
func (b *Bus) Subscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks = append(b.sinks, sink)
}

// OnFailure sets the callback for failed deliveries
func (b *Bus) OnFailure(fn FailureFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.onFailure = fn
}

// Publish queues a batch for every sink.
// Non-blocking: returns false if the queue is full or the bus is closing for
// any sink; that sink does not receive the batch. With no sinks subscribed the
// batch goes nowhere, and Publish returns false.
func (b *Bus) Publish(bt *batch.Batch) bool {
	// Held across sends so Close cannot close the queue under us
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.sinks) == 0 {
		log.Warn().
			Str("session", string(bt.Session)).
			Int("count", bt.Count()).
			Msg("No dispatch sinks configured, dropping batch")
		return false
	}

	ok := true
	for _, sink := range b.sinks {
		select {
		case <-b.closing:
			log.Warn().Str("session", string(bt.Session)).Msg("Dispatch bus closing, dropping batch")
			return false
		default:
		}

		select {
		case b.workQueue <- work{batch: bt, sink: sink}:
			// Successfully queued
		default:
			log.Warn().
				Str("session", string(bt.Session)).
				Str("sink", sink.Name()).
				Int("count", bt.Count()).
				Msg("Dispatch queue full, dropping batch")
			ok = false
		}
	}
	return ok
}

// Close shuts down the worker pool gracefully.
// Queued batches are still delivered until ctx expires; then in-flight
// deliveries are cancelled.
func (b *Bus) Close(ctx context.Context) {
	first := false
	b.closeOnce.Do(func() {
		close(b.closing)
		first = true
	})
	if !first {
		return
	}

	// Publishers check closing first; take the write lock so none is mid-send
	b.mu.Lock()
	close(b.workQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Dispatch workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Dispatch shutdown timed out, cancelling deliveries")
		b.cancel()
		<-done
	}
	b.cancel()
}
