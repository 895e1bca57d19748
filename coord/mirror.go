package coord

import (
	"context"
	"time"

	"github.com/web3guy0/windowbot/types"
)

// Mirror publishes lifecycle state so other instances and dashboards can see
// it. Writes are best-effort: the local lifecycle manager stays the source of
// truth and callers only log mirror errors.
type Mirror interface {
	PutPosition(ctx context.Context, pos types.Position) error
	RemovePosition(ctx context.Context, id string) error
	IncrBets(ctx context.Context, window time.Time, kind types.StrategyKind) error
	StampBet(ctx context.Context, kind types.StrategyKind, at time.Time) error
}

// NopMirror discards everything
type NopMirror struct{}

func (NopMirror) PutPosition(context.Context, types.Position) error { return nil }

func (NopMirror) RemovePosition(context.Context, string) error { return nil }

func (NopMirror) IncrBets(context.Context, time.Time, types.StrategyKind) error { return nil }

func (NopMirror) StampBet(context.Context, types.StrategyKind, time.Time) error { return nil }
