package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION ENGINE - Matrix-driven entries for 15-minute up/down windows
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each tick: look up the (time, delta) cell, compare our conservative win
// probability against the ask, and size the best candidate with Kelly.
//
// Two position policies compete for every entry:
//   TERMINAL - buy and hold to settlement, sell only on a sell-edge
//   EXIT     - buy and sell when the bid reaches a model target
//
// The engine is pure: it never mutates account state and never does I/O.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoMatrix is returned when the engine is built without a probability matrix
var ErrNoMatrix = errors.New("strategy: probability matrix is required")

// Models are the read-only statistical tables the engine decides from.
// Crossing and Passage are optional; without either the EXIT policy is off.
type Models struct {
	Matrix   *model.Matrix
	Crossing *model.CrossingMatrix
	Passage  *model.PassageMatrix
}

// Engine evaluates entries and exits. Safe for concurrent use.
type Engine struct {
	cfg      Config
	matrix   *model.Matrix
	crossing *model.CrossingMatrix
	passage  *model.PassageMatrix
	sizer    *risk.Sizer
	gate     *risk.Gate
	tp       *risk.TakeProfit
}

// NewEngine wires the decision engine
func NewEngine(cfg Config, models Models, sizer *risk.Sizer, gate *risk.Gate, tp *risk.TakeProfit) (*Engine, error) {
	if models.Matrix == nil {
		return nil, ErrNoMatrix
	}
	if sizer == nil || gate == nil {
		return nil, errors.New("strategy: sizer and gate are required")
	}
	if tp == nil {
		tp = risk.NewTakeProfit(false, nil)
	}
	e := &Engine{
		cfg:      cfg,
		matrix:   models.Matrix,
		crossing: models.Crossing,
		passage:  models.Passage,
		sizer:    sizer,
		gate:     gate,
		tp:       tp,
	}

	log.Info().
		Bool("terminal", cfg.Terminal.Enabled).
		Bool("exit", e.exitAvailable()).
		Bool("crossing", e.crossing != nil).
		Bool("passage", e.passage != nil).
		Int("cells", e.matrix.PopulatedCells()).
		Msg("🧠 Decision engine ready")

	return e, nil
}

// Config returns the engine settings
func (e *Engine) Config() Config {
	return e.cfg
}

// Matrix returns the primary probability matrix
func (e *Engine) Matrix() *model.Matrix {
	return e.matrix
}

func (e *Engine) exitAvailable() bool {
	return e.cfg.Exit.Enabled && (e.crossing != nil || e.passage != nil)
}

func (e *Engine) kindEnabled(kind types.StrategyKind) bool {
	if kind == types.Exit {
		return e.exitAvailable()
	}
	return e.cfg.Terminal.Enabled
}

func (e *Engine) kindMinRemaining(kind types.StrategyKind) int {
	if kind == types.Exit {
		return e.cfg.Exit.MinSecondsRemaining
	}
	return e.cfg.Terminal.MinSecondsRemaining
}

func (e *Engine) kindMinEdge(kind types.StrategyKind) float64 {
	if kind == types.Exit {
		return e.cfg.Exit.MinEdge
	}
	return e.cfg.Terminal.MinEdge
}

func (e *Engine) kindMaxBet(kind types.StrategyKind) float64 {
	if kind == types.Exit {
		return e.cfg.Exit.MaxBetUSDC
	}
	return e.cfg.Terminal.MaxBetUSDC
}

// Edge is the relative advantage of our probability over the market's
func Edge(our, market float64) float64 {
	if market <= 0 {
		return 0
	}
	return (our - market) / market
}

type candidate struct {
	kind   types.StrategyKind
	dir    types.Direction
	our    float64
	market float64
	edge   float64
	target Target
}

// EvaluateEntry decides whether to open a position this tick. Checks run in
// a fixed order and the first failing one names the NoAction code.
func (e *Engine) EvaluateEntry(m Market, s Snapshot) Decision {
	if !m.Up.Valid() || !m.Down.Valid() {
		return skip(CodeNoQuote, "missing or crossed book (up %.2f/%.2f, down %.2f/%.2f)",
			m.Up.BestBid, m.Up.BestAsk, m.Down.BestBid, m.Down.BestAsk)
	}

	// Timing
	remaining := m.Remaining()
	if m.Elapsed < e.cfg.MinSecondsElapsed {
		return skip(CodeTiming, "too early: %ds elapsed < %ds", m.Elapsed, e.cfg.MinSecondsElapsed)
	}
	if remaining < e.cfg.MinSecondsRemaining {
		return skip(CodeTiming, "too late: %ds remaining < %ds", remaining, e.cfg.MinSecondsRemaining)
	}
	var kinds []types.StrategyKind
	for _, k := range types.StrategyKinds {
		if e.kindEnabled(k) && remaining >= e.kindMinRemaining(k) {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return skip(CodeTiming, "no strategy eligible with %ds remaining", remaining)
	}

	// Ceilings and per-kind window budget
	if reason := e.gate.CheckCeilings(s.Account, s.OpenPositions, kinds); reason != "" {
		return skip(CodeCeiling, "%s", reason)
	}
	kinds = filterKinds(kinds, func(k types.StrategyKind) bool { return e.gate.KindAvailable(s.Account, k) })

	if reason := e.gate.CheckDailyLoss(s.Account); reason != "" {
		return skip(CodeDailyLoss, "%s", reason)
	}

	// Price filters
	if math.Abs(m.Delta) > e.cfg.MaxPriceDelta {
		return skip(CodePriceDelta, "|delta| $%.2f > max $%.2f", math.Abs(m.Delta), e.cfg.MaxPriceDelta)
	}
	if m.OpenPrice > 0 {
		if pct := math.Abs(m.Delta) / m.OpenPrice * 100; pct > e.cfg.MaxPriceChangePct {
			return skip(CodePriceDelta, "move %.3f%% > max %.3f%%", pct, e.cfg.MaxPriceChangePct)
		}
	}

	// Market quality
	for _, dir := range []types.Direction{types.Up, types.Down} {
		q := m.Quote(dir)
		if mid := q.Mid(); mid > 0 && q.Spread()/mid > e.cfg.MaxSpreadPct {
			return skip(CodeSpread, "%s spread %.1f%% > max %.1f%%", dir, q.Spread()/mid*100, e.cfg.MaxSpreadPct*100)
		}
	}
	if m.Up.AskLiquidity < e.cfg.MinLiquidityUSDC && m.Down.AskLiquidity < e.cfg.MinLiquidityUSDC {
		return skip(CodeLiquidity, "ask liquidity up $%.0f down $%.0f < min $%.0f",
			m.Up.AskLiquidity, m.Down.AskLiquidity, e.cfg.MinLiquidityUSDC)
	}

	// Model cell
	tb, db := model.TimeBucket(m.Elapsed), model.DeltaBucket(m.Delta)
	cell := e.matrix.Lookup(tb, db)
	if n := cell.Total(); n < e.cfg.MinSamplesInBucket {
		return skip(CodeSamples, "cell t=%d d=%s has %d samples < %d", tb, model.DeltaLabel(db), n, e.cfg.MinSamplesInBucket)
	}
	if cell.Confidence == model.Unreliable && !e.cfg.AllowUnreliable {
		return skip(CodeConfidence, "cell t=%d d=%s is %s", tb, model.DeltaLabel(db), cell.Confidence)
	}

	kinds = filterKinds(kinds, func(k types.StrategyKind) bool { return !s.CoolingDown[k] })
	if len(kinds) == 0 {
		return skip(CodeCooldown, "all eligible strategies cooling down")
	}

	// Candidates
	required := e.cfg.MinEdge.Get(cell.Confidence)
	var (
		best  *candidate
		notes []string
	)
	for _, kind := range kinds {
		threshold := math.Max(required, e.kindMinEdge(kind))
		for _, c := range e.candidates(kind, cell, tb, db, m) {
			notes = append(notes, fmt.Sprintf("%s/%s %.1f%%", c.kind, c.dir, c.edge*100))
			if c.edge < threshold {
				continue
			}
			if best == nil || c.edge > best.edge {
				best = &c
			}
		}
	}
	if best == nil {
		return skip(CodeNoEdge, "no edge above threshold %.1f%% (%s) [%s]",
			required*100, cell.Confidence, strings.Join(notes, ", "))
	}

	price := m.Quote(best.dir).BestAsk
	size := e.sizer.Size(price, best.edge, cell.Confidence, s.Account.Bankroll,
		s.Account.ConsecutiveLosses, e.kindMaxBet(best.kind))
	if size < e.sizer.MinBet() {
		return skip(CodeSize, "size $%.2f < min $%.2f", size, e.sizer.MinBet())
	}

	enter := Enter{
		Direction:         best.dir,
		Strategy:          best.kind,
		Edge:              best.edge,
		OurProbability:    best.our,
		MarketProbability: best.market,
		Price:             price,
		Size:              size,
		Confidence:        cell.Confidence,
		ExitTarget:        types.HoldToSettlement,
		TargetSource:      SourceHold,
		TimeBucket:        tb,
		DeltaBucket:       db,
	}
	if best.kind == types.Exit {
		enter.ExitTarget = best.target.Price
		enter.TargetSource = best.target.Source
		enter.Reason = fmt.Sprintf("%s cell t=%d d=%s our %.1f%% vs ask %.0f¢, target %.0f¢ p=%.2f (%s)",
			cell.Confidence, tb, model.DeltaLabel(db), best.our*100, price*100,
			best.target.Price*100, best.target.PReach, best.target.Source)
	} else {
		enter.Reason = fmt.Sprintf("%s cell t=%d d=%s our %.1f%% vs ask %.0f¢, hold to settlement",
			cell.Confidence, tb, model.DeltaLabel(db), best.our*100, price*100)
	}
	return enter
}

// candidates returns the entry options of one strategy kind, unfiltered by edge
func (e *Engine) candidates(kind types.StrategyKind, cell model.Cell, tb, db int, m Market) []candidate {
	if kind == types.Terminal {
		up := candidate{kind: kind, dir: types.Up, our: cell.Conservative(types.Up), market: m.Up.BestAsk}
		down := candidate{kind: kind, dir: types.Down, our: cell.Conservative(types.Down), market: m.Down.BestAsk}
		up.edge = Edge(up.our, up.market)
		down.edge = Edge(down.our, down.market)
		if down.edge > up.edge {
			return []candidate{down}
		}
		return []candidate{up}
	}

	var out []candidate
	for _, dir := range []types.Direction{types.Up, types.Down} {
		ask := m.Quote(dir).BestAsk
		target, ok := e.EntryTarget(tb, db, dir, ask)
		if !ok || target.Hold() {
			continue
		}
		if e.cfg.Exit.OnlyStrongConfidence && cell.Confidence != model.Strong {
			continue
		}
		out = append(out, candidate{
			kind:   kind,
			dir:    dir,
			our:    cell.Conservative(dir),
			market: ask,
			edge:   target.Return(ask),
			target: target,
		})
	}
	return out
}

func filterKinds(kinds []types.StrategyKind, keep func(types.StrategyKind) bool) []types.StrategyKind {
	out := kinds[:0:0]
	for _, k := range kinds {
		if keep(k) {
			out = append(out, k)
		}
	}
	return out
}
