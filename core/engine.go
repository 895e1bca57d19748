package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/windowbot/coord"
	"github.com/web3guy0/windowbot/exec"
	"github.com/web3guy0/windowbot/feeds"
	"github.com/web3guy0/windowbot/metrics"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/storage"
	"github.com/web3guy0/windowbot/strategy"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - The trading loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per tick:
//   State → window transition → exits → entry → guard → lease → gateway → lifecycle
//
// One attempt at a time: the in-process guard stops overlap inside this
// instance, the lease stops overlap across instances. An attempt that has
// started always runs to completion; cancellation is only honoured between
// attempts.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrAttemptSkipped means the attempt never reached the gateway
var ErrAttemptSkipped = errors.New("attempt skipped")

// EngineConfig is the loop's slice of the bot configuration
type EngineConfig struct {
	Interval       time.Duration
	SubmitTimeout  time.Duration
	LeaseTTL       time.Duration
	Resource       string
	MaxSlippagePct float64
	OrderType      string
	Mode           string // "paper" or "live", metrics label only
	LogSkipped     bool
	LogCooldown    time.Duration
}

// Engine runs decisions against live state and executes them
type Engine struct {
	cfg      EngineConfig
	state    *feeds.State
	decider  *strategy.Engine
	life     *Lifecycle
	gateway  exec.Gateway
	leaser   coord.Leaser
	owner    string
	guard    *coord.Guard
	breaker  *risk.CircuitBreaker
	recorder *storage.Recorder
	now      func() time.Time

	paused atomic.Bool
	ticks  atomic.Uint64

	logMu    sync.Mutex
	limiters map[strategy.Code]*rate.Limiter
}

// NewEngine wires the loop. leaser may be nil for a single instance.
func NewEngine(
	cfg EngineConfig,
	state *feeds.State,
	decider *strategy.Engine,
	life *Lifecycle,
	gateway exec.Gateway,
	leaser coord.Leaser,
	breaker *risk.CircuitBreaker,
	recorder *storage.Recorder,
) *Engine {
	if leaser == nil {
		leaser = coord.NewMemoryLeaser()
	}
	if cfg.Resource == "" {
		cfg.Resource = "trade_lock"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "FOK"
	}
	return &Engine{
		cfg:      cfg,
		state:    state,
		decider:  decider,
		life:     life,
		gateway:  gateway,
		leaser:   leaser,
		owner:    coord.NewOwner(),
		guard:    &coord.Guard{},
		breaker:  breaker,
		recorder: recorder,
		now:      time.Now,
		limiters: make(map[strategy.Code]*rate.Limiter),
	}
}

// Run ticks until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", e.cfg.Interval).
		Str("mode", e.cfg.Mode).
		Str("owner", e.owner).
		Msg("⚡ Engine started")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("ticks", e.ticks.Load()).Msg("Engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one decision cycle
func (e *Engine) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	e.ticks.Add(1)
	now := e.now()
	v := e.state.Snapshot()
	if v.Window.IsZero() {
		return
	}

	if prev := e.life.Window(); !v.Window.Equal(prev) {
		e.life.BeginWindow(v.Window, e.resolve, now)
		if !prev.IsZero() {
			e.recordOutcome(prev)
		}
	}

	if !v.Ready() {
		e.logSkip(strategy.NoAction{Code: strategy.CodeNoQuote, Reason: waitingFor(v)})
		return
	}
	metrics.Spot.Set(v.Spot)

	m := strategy.Market{
		Elapsed:   v.Elapsed(now),
		Delta:     v.Delta(),
		OpenPrice: v.Open,
		Up:        v.Up,
		Down:      v.Down,
	}

	// exits first: freeing a position can matter more than opening one
	for _, pos := range e.life.Positions() {
		if !pos.Window.Equal(v.Window) {
			continue
		}
		if now.Before(pos.ExitRetryAt) {
			log.Debug().Str("id", pos.ID).Time("retry_at", pos.ExitRetryAt).Msg("Exit cooling down after gateway error")
			continue
		}
		switch d := e.decider.EvaluateExit(pos, m).(type) {
		case strategy.Exit:
			metrics.Decisions.WithLabelValues("exit", "").Inc()
			e.exit(ctx, pos, d, v)
		case strategy.NoAction:
			log.Debug().Str("id", pos.ID).Str("code", string(d.Code)).Msg(d.Reason)
		}
	}

	if e.paused.Load() {
		return
	}

	switch d := e.decider.EvaluateEntry(m, e.life.Snapshot(now)).(type) {
	case strategy.Enter:
		metrics.Decisions.WithLabelValues("enter", "").Inc()
		e.enter(ctx, d, v, m)
	case strategy.NoAction:
		metrics.Decisions.WithLabelValues("none", string(d.Code)).Inc()
		e.logSkip(d)
	}
}

func waitingFor(v feeds.View) string {
	switch {
	case v.Spot <= 0:
		return "waiting for spot price"
	case v.Open <= 0:
		return "waiting for window open price"
	default:
		return "waiting for market tokens"
	}
}

func (e *Engine) resolve(window time.Time) (types.Outcome, bool) {
	c, ok := e.state.Closed(window)
	if !ok {
		return types.Up, false
	}
	return c.Outcome()
}

func (e *Engine) recordOutcome(window time.Time) {
	c, ok := e.state.Closed(window)
	if !ok {
		return
	}
	out, resolved := c.Outcome()
	if !resolved {
		log.Warn().Time("window", window).Msg("Window closed without an open price, outcome not recorded")
		return
	}
	log.Info().
		Time("window", window).
		Str("outcome", out.String()).
		Float64("change_pct", c.ChangePct()).
		Msg("📊 Window resolved")
	e.recorder.Record(&storage.WindowOutcome{
		WindowStart:    c.Start,
		WindowEnd:      c.End(),
		MarketSlug:     c.Slug,
		OpenPrice:      decimal.NewFromFloat(c.Open),
		ClosePrice:     decimal.NewFromFloat(c.Close),
		HighPrice:      decimal.NewFromFloat(c.High),
		LowPrice:       decimal.NewFromFloat(c.Low),
		Outcome:        out.String(),
		PriceChange:    decimal.NewFromFloat(c.Close - c.Open),
		PriceChangePct: decimal.NewFromFloat(c.ChangePct()),
	})
}

func (e *Engine) enter(ctx context.Context, d strategy.Enter, v feeds.View, m strategy.Market) {
	req := exec.OrderRequest{
		TokenID: v.Token(d.Direction),
		Side:    types.Buy,
		Price:   buyLimit(d.Price, e.cfg.MaxSlippagePct),
		Amount:  d.Size,
	}
	log.Info().
		Str("decision", d.String()).
		Str("conf", d.Confidence.String()).
		Str("target_src", string(d.TargetSource)).
		Msg("🎯 ENTRY SIGNAL")

	// the cooldown could have been stamped by another path since the decision
	res, err := e.attempt(ctx, req, func(now time.Time) bool {
		if left := e.life.CooldownRemaining(d.Strategy, now); left > 0 {
			e.logSkip(strategy.NoAction{Code: strategy.CodeCooldown, Reason: fmt.Sprintf("%s cooldown %s", d.Strategy, left.Round(time.Second))})
			return false
		}
		return true
	})
	if errors.Is(err, ErrAttemptSkipped) {
		return
	}
	now := e.now()
	attempt := e.attemptRecord(req, d.Strategy, d.Direction, v, m)
	attempt.OurProbability = decimal.NewFromFloat(d.OurProbability)
	attempt.MarketPrice = decimal.NewFromFloat(d.MarketProbability)
	attempt.Edge = decimal.NewFromFloat(d.Edge)
	attempt.TimeBucket = d.TimeBucket
	attempt.DeltaBucket = d.DeltaBucket
	attempt.Confidence = d.Confidence.String()

	switch r := res.(type) {
	case nil:
		e.life.RecordAttemptError(d.Strategy, now)
		attempt.Result, attempt.Reason = "error", err.Error()
		log.Error().Err(err).Str("order", req.String()).Msg("❌ Entry order failed")
	case exec.Rejected:
		attempt.Result, attempt.Reason = "rejected", r.Reason
		log.Warn().Str("reason", r.Reason).Str("order", req.String()).Msg("🚫 Entry rejected")
	case exec.Filled:
		pos := e.life.RecordEntry(d, r, EntryContext{TokenID: req.TokenID, Window: v.Window, Elapsed: m.Elapsed}, now)
		attempt.Result, attempt.PositionID = "filled", pos.ID
	}
	e.recorder.Record(attempt)
}

func (e *Engine) exit(ctx context.Context, pos types.Position, d strategy.Exit, v feeds.View) {
	req := exec.OrderRequest{
		TokenID: pos.TokenID,
		Side:    types.Sell,
		Price:   sellLimit(d.ExitPrice, e.cfg.MaxSlippagePct),
		Shares:  pos.Shares,
	}
	log.Info().Str("decision", d.String()).Msg("🏃 EXIT SIGNAL")

	// pending is only flagged once the order is certain to go out
	res, err := e.attempt(ctx, req, func(now time.Time) bool {
		_, ok := e.life.BeginExit(pos.ID, now)
		return ok
	})
	if errors.Is(err, ErrAttemptSkipped) {
		return
	}
	now := e.now()
	attempt := e.attemptRecord(req, pos.Strategy, pos.Direction, v, strategy.Market{})
	attempt.PositionID = pos.ID
	attempt.MarketPrice = decimal.NewFromFloat(d.ExitPrice)

	switch r := res.(type) {
	case nil:
		e.life.ExitErrored(pos.ID, err.Error(), now)
		attempt.Result, attempt.Reason = "error", err.Error()
	case exec.Rejected:
		e.life.ExitFailed(pos.ID, r.Reason)
		attempt.Result, attempt.Reason = "rejected", r.Reason
	case exec.Filled:
		e.life.RecordExitFill(pos.ID, r, d.Reason, now)
		attempt.Result = "filled"
	}
	e.recorder.Record(attempt)
}

// attempt runs one order through breaker, guard and lease. ready runs with
// the lease held and may veto the order; nothing before it mutates state. The
// gateway call gets a context detached from ctx so shutdown cannot abandon a
// live order.
func (e *Engine) attempt(ctx context.Context, req exec.OrderRequest, ready func(now time.Time) bool) (exec.Result, error) {
	if ctx.Err() != nil {
		return nil, ErrAttemptSkipped
	}
	now := e.now()
	if !e.breaker.Allow(now) {
		metrics.BreakerTripped.Set(1)
		e.logSkip(strategy.NoAction{Code: "breaker", Reason: "gateway error breaker open"})
		return nil, ErrAttemptSkipped
	}
	metrics.BreakerTripped.Set(0)

	if !e.guard.TryEnter() {
		log.Debug().Msg("Attempt already in flight")
		return nil, ErrAttemptSkipped
	}
	defer e.guard.Leave()

	acquired, err := e.leaser.TryAcquire(ctx, e.cfg.Resource, e.owner, e.cfg.LeaseTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Lease acquire failed")
		return nil, ErrAttemptSkipped
	}
	if !acquired {
		metrics.LeaseContention.Inc()
		e.logSkip(strategy.NoAction{Code: "lease", Reason: "another instance holds the trade lease"})
		return nil, ErrAttemptSkipped
	}
	defer e.releaseLease()

	if ready != nil && !ready(now) {
		return nil, ErrAttemptSkipped
	}

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.gateway.Submit(submitCtx, req)
	metrics.OrderLatency.WithLabelValues(e.cfg.Mode).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		e.breaker.RecordError(err, e.now())
		metrics.Orders.WithLabelValues(e.cfg.Mode, string(req.Side), "error").Inc()
		return nil, err
	case res == nil:
		e.breaker.RecordError(errors.New("empty gateway result"), e.now())
		return nil, errors.New("gateway returned no result")
	}
	e.breaker.RecordSuccess()
	if _, ok := res.(exec.Filled); ok {
		metrics.Orders.WithLabelValues(e.cfg.Mode, string(req.Side), "filled").Inc()
	} else {
		metrics.Orders.WithLabelValues(e.cfg.Mode, string(req.Side), "rejected").Inc()
	}
	return res, nil
}

func (e *Engine) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := e.leaser.Release(ctx, e.cfg.Resource, e.owner); err != nil {
		log.Warn().Err(err).Msg("Lease release failed, it will expire")
	}
}

func (e *Engine) attemptRecord(req exec.OrderRequest, kind types.StrategyKind, dir types.Direction, v feeds.View, m strategy.Market) *storage.TradeAttempt {
	shares := req.Shares
	if req.Side == types.Buy && req.Price > 0 {
		shares = req.Amount / req.Price
	}
	return &storage.TradeAttempt{
		MarketSlug:  v.Slug,
		TokenID:     req.TokenID,
		Direction:   dir.String(),
		Side:        string(req.Side),
		Strategy:    kind.String(),
		OrderType:   e.cfg.OrderType,
		Amount:      decimal.NewFromFloat(req.Notional()),
		Shares:      decimal.NewFromFloat(shares),
		Elapsed:     m.Elapsed,
		BTCPrice:    decimal.NewFromFloat(v.Spot),
		BTCDelta:    decimal.NewFromFloat(v.Delta()),
		WindowStart: v.Window,
	}
}

// logSkip logs a NoAction at most once per cooldown per code
func (e *Engine) logSkip(d strategy.NoAction) {
	if !e.cfg.LogSkipped || d.Code == strategy.CodeHold {
		return
	}
	e.logMu.Lock()
	lim, ok := e.limiters[d.Code]
	if !ok {
		every := e.cfg.LogCooldown
		if every <= 0 {
			every = time.Second
		}
		lim = rate.NewLimiter(rate.Every(every), 1)
		e.limiters[d.Code] = lim
	}
	e.logMu.Unlock()

	if lim.Allow() {
		log.Info().Str("code", string(d.Code)).Msg("⏭️ " + d.Reason)
	}
}

// buyLimit pads the ask by slippage, on the cent grid, inside (0, 1)
func buyLimit(ask, slippage float64) float64 {
	return math.Min(0.99, math.Ceil(ask*(1+slippage)*100-1e-9)/100)
}

// sellLimit shades the bid by slippage, on the cent grid, inside (0, 1)
func sellLimit(bid, slippage float64) float64 {
	return math.Max(0.01, math.Floor(bid*(1-slippage)*100+1e-9)/100)
}

// Pause stops new entries; exits keep running
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		log.Warn().Msg("⏸️ Trading paused")
	}
}

// Resume re-enables entries
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		log.Info().Msg("▶️ Trading resumed")
	}
}

// Paused reports whether entries are paused
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Status is a point-in-time summary for the Telegram bot
type Status struct {
	Mode       string
	Account    risk.AccountSnapshot
	View       feeds.View
	Elapsed    int
	Positions  []types.Position
	Paused     bool
	Tripped    bool
	LastErr    string
	Ticks      uint64
	AuditDrops uint64
}

// Status returns the current summary
func (e *Engine) Status() Status {
	now := e.now()
	v := e.state.Snapshot()
	_, tripped, lastErr := e.breaker.GetStats()
	return Status{
		Mode:       e.cfg.Mode,
		Account:    e.life.Account().Snapshot(now),
		View:       v,
		Elapsed:    v.Elapsed(now),
		Positions:  e.life.Positions(),
		Paused:     e.paused.Load(),
		Tripped:    tripped,
		LastErr:    lastErr,
		Ticks:      e.ticks.Load(),
		AuditDrops: e.recorder.Dropped(),
	}
}

// ResetBreaker closes the gateway error breaker by hand
func (e *Engine) ResetBreaker() {
	e.breaker.ForceReset()
	metrics.BreakerTripped.Set(0)
}

// RecentTrades returns the newest trade events first
func (e *Engine) RecentTrades(limit int) []types.TradeRecord {
	return e.life.RecentTrades(limit)
}
