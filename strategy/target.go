package strategy

import (
	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT TARGETS - Where a target-based position should sell
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every candidate target T is scored against holding to settlement:
//
//   hold_ev = p_win * (1 - entry) - (1 - p_win) * entry
//   exit_ev = P(reach T) * (T - entry) + (1 - P(reach T)) * hold_ev
//
// The best exit_ev wins; if nothing beats hold_ev the answer is "hold".
//
// Precedence: crossing model, then first-passage model. At exit time the
// crossing model recomputes the target; without enough data the target
// stored at entry stands. The two models are never blended.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TargetSource names the model that produced a target
type TargetSource string

const (
	SourceHold     TargetSource = "hold"
	SourceCrossing TargetSource = "crossing"
	SourcePassage  TargetSource = "first_passage"
	SourceStored   TargetSource = "stored"
)

const (
	entryReachFloor     = 0.20
	recomputeReachFloor = 0.15
	minTargetGain       = 0.01
)

var passageGrid = [...]float64{0.35, 0.40, 0.45, 0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90, 0.95}

// Target is a scored exit price
type Target struct {
	Price  float64
	EV     float64 // expected profit per share
	PReach float64
	Source TargetSource
}

// Hold reports whether the target means "wait for settlement"
func (t Target) Hold() bool {
	return t.Price >= types.HoldToSettlement
}

// Return is EV as a fraction of entry price
func (t Target) Return(entry float64) float64 {
	if entry <= 0 {
		return 0
	}
	return t.EV / entry
}

func holdEV(pWin, entry float64) float64 {
	return pWin*(1-entry) - (1-pWin)*entry
}

// EntryTarget picks the best target for a new position
func (e *Engine) EntryTarget(timeBucket, deltaBucket int, dir types.Direction, entry float64) (Target, bool) {
	if t, ok := e.crossingTarget(timeBucket, deltaBucket, dir, entry, entryReachFloor); ok {
		return t, true
	}
	return e.passageTarget(timeBucket, deltaBucket, dir, entry)
}

// CurrentTarget returns the live target for an open target-based position
func (e *Engine) CurrentTarget(pos *types.Position, timeBucket, deltaBucket int) Target {
	stored := Target{Price: pos.ExitTarget, Source: SourceStored}
	if !e.cfg.Exit.DynamicTarget {
		return stored
	}
	if t, ok := e.crossingTarget(timeBucket, deltaBucket, pos.Direction, pos.EntryPrice, recomputeReachFloor); ok {
		return t
	}
	return stored
}

func (e *Engine) crossingTarget(timeBucket, deltaBucket int, dir types.Direction, entry, floor float64) (Target, bool) {
	if e.crossing == nil {
		return Target{}, false
	}
	state := e.crossing.Lookup(timeBucket, deltaBucket)
	if !state.Sufficient() {
		return Target{}, false
	}

	pWin := e.matrix.Lookup(timeBucket, deltaBucket).Point(dir)
	hold := holdEV(pWin, entry)
	best := Target{Price: types.HoldToSettlement, EV: hold, PReach: pWin, Source: SourceHold}

	for level := 0; level < model.PriceLevels; level++ {
		price := model.LevelPrice(level)
		if price <= entry+minTargetGain {
			continue
		}
		p := state.PReach(level)
		if p < floor {
			continue
		}
		ev := p*(price-entry) + (1-p)*hold
		if ev > best.EV {
			best = Target{Price: price, EV: ev, PReach: p, Source: SourceCrossing}
		}
	}
	return best, true
}

func (e *Engine) passageTarget(timeBucket, deltaBucket int, dir types.Direction, entry float64) (Target, bool) {
	if e.passage == nil {
		return Target{}, false
	}
	state := e.passage.Lookup(timeBucket, deltaBucket)
	pWin := e.matrix.Lookup(timeBucket, deltaBucket).Point(dir)
	hold := holdEV(pWin, entry)
	best := Target{Price: types.HoldToSettlement, EV: hold, PReach: pWin, Source: SourceHold}

	for _, price := range passageGrid {
		if price <= entry+minTargetGain {
			continue
		}
		cell := state.Target(dir, model.PriceToDeltaBucket(price, dir))
		if e.cfg.Exit.OnlyStrongConfidence && cell.Confidence != model.Strong {
			continue
		}
		ev := cell.PReach*(price-entry) + (1-cell.PReach)*hold
		if ev > best.EV {
			best = Target{Price: price, EV: ev, PReach: cell.PReach, Source: SourcePassage}
		}
	}
	return best, true
}
