package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/metrics"
)

// Sink persists audit records
type Sink interface {
	Write(ctx context.Context, rec any) error
}

const (
	writeTimeout = 5 * time.Second
	drainTimeout = 10 * time.Second
)

// Recorder queues audit records for a background writer. Record never blocks
// the trading loop: when the buffer is full the record is dropped and counted.
// A nil *Recorder discards everything.
type Recorder struct {
	sink    Sink
	ch      chan any
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder creates a recorder with the given buffer size
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &Recorder{sink: sink, ch: make(chan any, buffer)}
}

// Record queues rec; false when it was dropped
func (r *Recorder) Record(rec any) bool {
	if r == nil {
		return false
	}
	select {
	case r.ch <- rec:
		return true
	default:
		n := r.dropped.Add(1)
		metrics.RecorderDropped.Inc()
		if n == 1 || n%100 == 0 {
			log.Warn().Uint64("dropped", n).Msg("⚠️ Audit buffer full, dropping records")
		}
		return false
	}
}

// Run writes queued records until ctx ends, then drains what is left
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.ch:
			r.write(context.Background(), rec)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case rec := <-r.ch:
			r.write(context.Background(), rec)
		default:
			return
		}
	}
	log.Warn().Int("pending", len(r.ch)).Msg("Audit drain timed out")
}

func (r *Recorder) write(parent context.Context, rec any) {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	if err := r.sink.Write(ctx, rec); err != nil {
		log.Error().Err(err).Msgf("Failed to persist %T", rec)
		return
	}
	r.written.Add(1)
}

// Dropped returns how many records were discarded
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Written returns how many records reached the sink
func (r *Recorder) Written() uint64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}
