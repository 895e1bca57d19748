package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/windowbot/coord"
	"github.com/web3guy0/windowbot/exec"
	"github.com/web3guy0/windowbot/metrics"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/storage"
	"github.com/web3guy0/windowbot/strategy"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE - Owns positions and the account
// ═══════════════════════════════════════════════════════════════════════════════
//
// Single writer: only the trading loop calls the mutating methods. Telegram
// and metrics read through Positions/Snapshot under the read lock.
//
// Positions only come into existence from confirmed fills. The bankroll
// moves by realized P&L only: sale proceeds and settlements.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	mirrorTimeout = 2 * time.Second
	recentTrades  = 50
)

// Resolver returns the outcome of a finished window; false when unknown
type Resolver func(window time.Time) (types.Outcome, bool)

// Notifier receives trade events (Telegram)
type Notifier interface {
	NotifyTrade(rec types.TradeRecord)
}

// Settlement is one position closed at a window transition
type Settlement struct {
	Position types.Position
	Outcome  types.Outcome
	Resolved bool
	PnL      float64
}

// EntryContext is market context captured with an entry fill
type EntryContext struct {
	TokenID string
	Window  time.Time
	Elapsed int
}

type Lifecycle struct {
	mu sync.RWMutex

	account   *risk.Account
	cooldowns risk.Cooldowns
	positions map[string]*types.Position
	recent    []types.TradeRecord

	mirror   coord.Mirror
	recorder *storage.Recorder
	notifier Notifier
}

// NewLifecycle creates the manager. mirror may be nil (no sharing) and so may
// the recorder.
func NewLifecycle(account *risk.Account, cooldowns risk.Cooldowns, mirror coord.Mirror, recorder *storage.Recorder) *Lifecycle {
	if mirror == nil {
		mirror = coord.NopMirror{}
	}
	return &Lifecycle{
		account:   account,
		cooldowns: cooldowns,
		positions: make(map[string]*types.Position),
		mirror:    mirror,
		recorder:  recorder,
	}
}

// SetNotifier sets the trade notification sink
func (l *Lifecycle) SetNotifier(n Notifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifier = n
}

// Snapshot is the read-only view handed to the decision engine
func (l *Lifecycle) Snapshot(now time.Time) strategy.Snapshot {
	acct := l.account.Snapshot(now)
	l.mu.RLock()
	open := len(l.positions)
	l.mu.RUnlock()

	var cooling [2]bool
	for _, k := range types.StrategyKinds {
		cooling[k] = l.cooldowns.Remaining(k, acct.LastBet[k], now) > 0
	}
	return strategy.Snapshot{Account: acct, OpenPositions: open, CoolingDown: cooling}
}

// CooldownRemaining is how long kind must still wait before its next bet
func (l *Lifecycle) CooldownRemaining(kind types.StrategyKind, now time.Time) time.Duration {
	acct := l.account.Snapshot(now)
	return l.cooldowns.Remaining(kind, acct.LastBet[kind], now)
}

// Account exposes the account for read-only callers
func (l *Lifecycle) Account() *risk.Account {
	return l.account
}

// Window is the window the lifecycle last transitioned into
func (l *Lifecycle) Window() time.Time {
	return l.account.Window()
}

// BeginWindow moves the lifecycle into start. Every position tagged with an
// earlier window is closed: settled at its realized outcome when resolve
// knows it, written off at cost otherwise. Calling it again for the current
// window is a no-op.
func (l *Lifecycle) BeginWindow(start time.Time, resolve Resolver, now time.Time) []Settlement {
	if start.Equal(l.account.Window()) {
		return nil
	}

	// pass 1: decide what to close without touching the map
	l.mu.RLock()
	stale := make([]types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if !pos.Window.Equal(start) {
			stale = append(stale, *pos)
		}
	}
	l.mu.RUnlock()
	sort.Slice(stale, func(i, j int) bool { return stale[i].OpenedAt.Before(stale[j].OpenedAt) })

	outcomes := make(map[time.Time]types.Outcome)
	known := make(map[time.Time]bool)
	settlements := make([]Settlement, 0, len(stale))
	for _, pos := range stale {
		if _, seen := known[pos.Window]; !seen && resolve != nil {
			out, ok := resolve(pos.Window)
			outcomes[pos.Window], known[pos.Window] = out, ok
		}
		s := Settlement{Position: pos}
		if known[pos.Window] {
			s.Outcome = outcomes[pos.Window]
			s.Resolved = true
			s.PnL = strategy.SettlementPnL(pos, s.Outcome)
		} else {
			s.PnL = -pos.Cost
		}
		settlements = append(settlements, s)
	}

	// pass 2: remove and book
	l.mu.Lock()
	for _, s := range settlements {
		delete(l.positions, s.Position.ID)
	}
	open := len(l.positions)
	l.mu.Unlock()

	for _, s := range settlements {
		l.account.RecordResult(s.PnL, now)
		l.closed(s.Position, settleEvent(s), s.PnL, s.payout(), s.reason(), now)
	}
	l.account.ResetWindow(start)
	metrics.OpenPositions.Set(float64(open))

	log.Info().
		Time("window", start).
		Int("settled", len(settlements)).
		Float64("bankroll", l.account.Bankroll()).
		Msgf("═══ New 15-minute window: %s ═══", start.Format("15:04 UTC"))
	return settlements
}

func settleEvent(s Settlement) string {
	if s.Resolved {
		return "SETTLE"
	}
	return "DISCARD"
}

// payout is what one share paid at resolution
func (s Settlement) payout() float64 {
	if s.Resolved && s.Outcome == s.Position.Direction {
		return 1
	}
	return 0
}

func (s Settlement) reason() string {
	if !s.Resolved {
		return "window outcome unknown, written off at cost"
	}
	return "resolved " + s.Outcome.String()
}

// RecordEntry creates a position from a confirmed fill
func (l *Lifecycle) RecordEntry(e strategy.Enter, fill exec.Filled, ec EntryContext, now time.Time) types.Position {
	pos := types.Position{
		ID:               uuid.NewString(),
		Direction:        e.Direction,
		TokenID:          ec.TokenID,
		EntryPrice:       fill.Price,
		Shares:           fill.Shares,
		Cost:             fill.Cost,
		EntryTimeBucket:  e.TimeBucket,
		EntryDeltaBucket: e.DeltaBucket,
		EntryElapsed:     ec.Elapsed,
		ExitTarget:       e.ExitTarget,
		Window:           ec.Window,
		Strategy:         e.Strategy,
		OpenedAt:         now,
	}

	l.mu.Lock()
	l.positions[pos.ID] = &pos
	open := len(l.positions)
	l.mu.Unlock()
	l.account.RecordBet(e.Strategy, now)
	metrics.OpenPositions.Set(float64(open))

	log.Info().
		Str("id", pos.ID).
		Str("dir", pos.Direction.String()).
		Str("strategy", pos.Strategy.String()).
		Str("entry", fmt.Sprintf("%.0f¢", pos.EntryPrice*100)).
		Float64("shares", pos.Shares).
		Str("target", targetLabel(pos.ExitTarget)).
		Msg("✅ Position opened")

	l.withMirror(func(ctx context.Context) error {
		if err := l.mirror.PutPosition(ctx, pos); err != nil {
			return err
		}
		if err := l.mirror.IncrBets(ctx, pos.Window, pos.Strategy); err != nil {
			return err
		}
		return l.mirror.StampBet(ctx, pos.Strategy, now)
	})
	l.recorder.Record(&storage.Execution{
		PositionID:  pos.ID,
		OrderID:     fill.OrderID,
		Side:        string(types.Buy),
		TokenID:     pos.TokenID,
		Direction:   pos.Direction.String(),
		Strategy:    pos.Strategy.String(),
		Price:       decimal.NewFromFloat(fill.Price),
		Shares:      decimal.NewFromFloat(fill.Shares),
		Amount:      decimal.NewFromFloat(fill.Cost),
		WindowStart: pos.Window,
	})
	l.event(pos, "OPEN", 0, 0, e.Reason)
	l.notify(types.TradeRecord{
		PositionID: pos.ID,
		Action:     "OPEN",
		Direction:  pos.Direction.String(),
		Strategy:   pos.Strategy.String(),
		Price:      pos.EntryPrice,
		Shares:     pos.Shares,
		Timestamp:  now,
	})
	return pos
}

// BeginExit marks a position as having a sell in flight. A position whose
// earlier sell was rejected is still pending and may be retried at once; one
// whose sell errored waits until ExitRetryAt.
func (l *Lifecycle) BeginExit(id string, now time.Time) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[id]
	if !ok || now.Before(pos.ExitRetryAt) {
		return types.Position{}, false
	}
	pos.ExitPending = true
	return *pos, true
}

// RecordExitFill closes a position from a confirmed sell
func (l *Lifecycle) RecordExitFill(id string, fill exec.Filled, reason string, now time.Time) (float64, bool) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	if ok {
		delete(l.positions, id)
	}
	open := len(l.positions)
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	metrics.OpenPositions.Set(float64(open))

	closedPos := *pos
	pnl := strategy.ExitPnL(closedPos, fill.Price)
	l.account.RecordResult(pnl, now)

	l.recorder.Record(&storage.Execution{
		PositionID:  closedPos.ID,
		OrderID:     fill.OrderID,
		Side:        string(types.Sell),
		TokenID:     closedPos.TokenID,
		Direction:   closedPos.Direction.String(),
		Strategy:    closedPos.Strategy.String(),
		Price:       decimal.NewFromFloat(fill.Price),
		Shares:      decimal.NewFromFloat(fill.Shares),
		Amount:      decimal.NewFromFloat(fill.Cost),
		WindowStart: closedPos.Window,
	})
	l.closed(closedPos, "EXIT", pnl, fill.Price, reason, now)
	return pnl, true
}

// ExitFailed records a sell that did not execute. The position stays open
// and pending; the next tick evaluates it again.
func (l *Lifecycle) ExitFailed(id, reason string) {
	l.mu.RLock()
	pos, ok := l.positions[id]
	var snap types.Position
	if ok {
		snap = *pos
	}
	l.mu.RUnlock()
	if !ok {
		return
	}
	log.Warn().Str("id", id).Str("reason", reason).Msg("⚠️ Exit failed, will retry")
	l.event(snap, "EXIT_FAILED", 0, 0, reason)
}

// ExitErrored records a sell that hit a gateway error. The position stays
// pending but is not sold again until its kind's cooldown has passed.
func (l *Lifecycle) ExitErrored(id, reason string, now time.Time) {
	l.mu.Lock()
	pos, ok := l.positions[id]
	var snap types.Position
	if ok {
		pos.ExitRetryAt = now.Add(l.cooldowns.For(pos.Strategy))
		snap = *pos
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	l.RecordAttemptError(snap.Strategy, now)
	log.Warn().
		Str("id", id).
		Str("reason", reason).
		Time("retry_at", snap.ExitRetryAt).
		Msg("⚠️ Exit errored, retrying after cooldown")
	l.event(snap, "EXIT_FAILED", 0, 0, reason)
}

// RecordAttemptError applies the standard cooldown after a gateway error.
// Clean rejections never call this.
func (l *Lifecycle) RecordAttemptError(kind types.StrategyKind, now time.Time) {
	l.account.StampCooldown(kind, now)
	l.withMirror(func(ctx context.Context) error {
		return l.mirror.StampBet(ctx, kind, now)
	})
}

// Positions returns copies of the open positions, oldest first
func (l *Lifecycle) Positions() []types.Position {
	l.mu.RLock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// RecentTrades returns up to limit trade records, newest first
func (l *Lifecycle) RecentTrades(limit int) []types.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.recent[i])
	}
	return out
}

// closed books the side effects shared by every way a position ends
func (l *Lifecycle) closed(pos types.Position, event string, pnl, exitPrice float64, reason string, now time.Time) {
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	metrics.Settlements.WithLabelValues(pos.Strategy.String(), result).Inc()
	acct := l.account.Snapshot(now)
	metrics.Bankroll.Set(acct.Bankroll)
	metrics.PeriodPnL.Set(acct.PeriodPnL)

	emoji := "💰"
	if pnl < 0 {
		emoji = "💸"
	}
	log.Info().
		Str("id", pos.ID).
		Str("event", event).
		Str("dir", pos.Direction.String()).
		Str("strategy", pos.Strategy.String()).
		Float64("pnl", pnl).
		Float64("bankroll", acct.Bankroll).
		Msg(emoji + " Position closed")

	l.withMirror(func(ctx context.Context) error {
		return l.mirror.RemovePosition(ctx, pos.ID)
	})
	l.event(pos, event, pnl, exitPrice, reason)
	l.notify(types.TradeRecord{
		PositionID: pos.ID,
		Action:     event,
		Direction:  pos.Direction.String(),
		Strategy:   pos.Strategy.String(),
		Price:      exitPrice,
		Shares:     pos.Shares,
		PnL:        pnl,
		Timestamp:  now,
	})
}

func (l *Lifecycle) event(pos types.Position, event string, pnl, exitPrice float64, reason string) {
	l.recorder.Record(&storage.PositionEvent{
		PositionID:  pos.ID,
		Event:       event,
		Strategy:    pos.Strategy.String(),
		Direction:   pos.Direction.String(),
		EntryPrice:  decimal.NewFromFloat(pos.EntryPrice),
		ExitPrice:   decimal.NewFromFloat(exitPrice),
		Shares:      decimal.NewFromFloat(pos.Shares),
		PnL:         decimal.NewFromFloat(pnl),
		Bankroll:    decimal.NewFromFloat(l.account.Bankroll()),
		Reason:      reason,
		WindowStart: pos.Window,
	})
}

func (l *Lifecycle) notify(rec types.TradeRecord) {
	l.mu.Lock()
	l.recent = append(l.recent, rec)
	if len(l.recent) > recentTrades {
		l.recent = l.recent[len(l.recent)-recentTrades:]
	}
	n := l.notifier
	l.mu.Unlock()
	if n != nil {
		n.NotifyTrade(rec)
	}
}

// withMirror runs a best-effort mirror write; failures are logged only. In
// production the mirror is a coord.AsyncMirror, so this only enqueues.
func (l *Lifecycle) withMirror(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msg("Redis mirror write failed")
	}
}

func targetLabel(target float64) string {
	if target >= types.HoldToSettlement {
		return "HOLD"
	}
	return fmt.Sprintf("%.0f¢", target*100)
}
