package coord

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/metrics"
	"github.com/web3guy0/windowbot/types"
)

const (
	mirrorWriteTimeout = 2 * time.Second
	mirrorDrainTimeout = 5 * time.Second
)

type mirrorOp func(ctx context.Context, m Mirror) error

// AsyncMirror queues mirror writes for a background worker so a slow store
// never stalls the trading loop. Writes keep their order; when the queue is
// full they are dropped and counted. Every method returns nil at once.
type AsyncMirror struct {
	next    Mirror
	ch      chan mirrorOp
	dropped atomic.Uint64
}

// NewAsyncMirror wraps next with a queue of the given size
func NewAsyncMirror(next Mirror, buffer int) *AsyncMirror {
	if buffer <= 0 {
		buffer = 1
	}
	return &AsyncMirror{next: next, ch: make(chan mirrorOp, buffer)}
}

func (a *AsyncMirror) PutPosition(_ context.Context, pos types.Position) error {
	a.enqueue(func(ctx context.Context, m Mirror) error { return m.PutPosition(ctx, pos) })
	return nil
}

func (a *AsyncMirror) RemovePosition(_ context.Context, id string) error {
	a.enqueue(func(ctx context.Context, m Mirror) error { return m.RemovePosition(ctx, id) })
	return nil
}

func (a *AsyncMirror) IncrBets(_ context.Context, window time.Time, kind types.StrategyKind) error {
	a.enqueue(func(ctx context.Context, m Mirror) error { return m.IncrBets(ctx, window, kind) })
	return nil
}

func (a *AsyncMirror) StampBet(_ context.Context, kind types.StrategyKind, at time.Time) error {
	a.enqueue(func(ctx context.Context, m Mirror) error { return m.StampBet(ctx, kind, at) })
	return nil
}

func (a *AsyncMirror) enqueue(op mirrorOp) {
	select {
	case a.ch <- op:
	default:
		n := a.dropped.Add(1)
		metrics.MirrorDropped.Inc()
		if n == 1 || n%100 == 0 {
			log.Warn().Uint64("dropped", n).Msg("⚠️ Mirror queue full, dropping writes")
		}
	}
}

// Run applies queued writes until ctx ends, then drains what is left
func (a *AsyncMirror) Run(ctx context.Context) error {
	for {
		select {
		case op := <-a.ch:
			a.apply(op)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *AsyncMirror) drain() {
	deadline := time.Now().Add(mirrorDrainTimeout)
	for time.Now().Before(deadline) {
		select {
		case op := <-a.ch:
			a.apply(op)
		default:
			return
		}
	}
	log.Warn().Int("pending", len(a.ch)).Msg("Mirror drain timed out")
}

func (a *AsyncMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := op(ctx, a.next); err != nil {
		log.Warn().Err(err).Msg("Redis mirror write failed")
	}
}

// Dropped returns how many writes were discarded
func (a *AsyncMirror) Dropped() uint64 {
	return a.dropped.Load()
}
