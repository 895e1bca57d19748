package strategy

import (
	"fmt"

	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/types"
)

// EvaluateExit applies the position's own policy: the policy is fixed by
// the strategy kind recorded at entry, never re-chosen.
func (e *Engine) EvaluateExit(pos types.Position, m Market) Decision {
	q := m.Quote(pos.Direction)
	if q.BestBid <= 0 {
		return skip(CodeNoQuote, "no bid for %s", pos.Direction)
	}
	tb, db := model.TimeBucket(m.Elapsed), model.DeltaBucket(m.Delta)

	if pos.Strategy == types.Exit {
		return e.evaluateTargetExit(pos, q.BestBid, tb, db)
	}
	return e.evaluateTerminalExit(pos, q.BestBid, m.Elapsed, tb, db)
}

// SellEdge is how far the bid sits above our probability, relative to the bid
func SellEdge(bid, our float64) float64 {
	if bid <= 0.01 {
		return 0
	}
	return (bid - our) / bid
}

// Profit is the unrealized return of selling at bid
func Profit(entry, bid float64) float64 {
	if entry <= 0.01 {
		return 0
	}
	return (bid - entry) / entry
}

func (e *Engine) evaluateTerminalExit(pos types.Position, bid float64, elapsed, tb, db int) Decision {
	if ok, reason := e.tp.CheckExit(pos.EntryPrice, bid, elapsed); ok {
		return Exit{PositionID: pos.ID, ExitPrice: bid, Reason: reason}
	}

	our := e.matrix.Lookup(tb, db).Conservative(pos.Direction)
	sellEdge := SellEdge(bid, our)
	profit := Profit(pos.EntryPrice, bid)

	if sellEdge >= e.cfg.Terminal.MinSellEdge && profit >= e.cfg.Terminal.MinProfitBeforeSell {
		return Exit{
			PositionID: pos.ID,
			ExitPrice:  bid,
			Reason: fmt.Sprintf("sell edge %.1f%% (bid %.0f¢ vs our %.1f%%), profit %+.1f%%",
				sellEdge*100, bid*100, our*100, profit*100),
		}
	}
	return skip(CodeHold, "terminal hold: sell edge %.1f%% profit %+.1f%%", sellEdge*100, profit*100)
}

func (e *Engine) evaluateTargetExit(pos types.Position, bid float64, tb, db int) Decision {
	target := e.CurrentTarget(&pos, tb, db)
	if target.Hold() {
		return skip(CodeHold, "target hold (%s)", target.Source)
	}
	if bid >= target.Price {
		return Exit{
			PositionID: pos.ID,
			ExitPrice:  bid,
			Reason:     fmt.Sprintf("target hit: bid %.0f¢ >= %.0f¢ (%s)", bid*100, target.Price*100, target.Source),
		}
	}
	return skip(CodeHold, "bid %.0f¢ below target %.0f¢ (%s)", bid*100, target.Price*100, target.Source)
}
