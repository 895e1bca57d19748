package risk

import (
	"fmt"
	"sort"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TAKE PROFIT - Time-tiered profit targets for hold-to-settlement positions
// ═══════════════════════════════════════════════════════════════════════════════
//
// Early in the window a big move is needed to cash out; late in the window a
// smaller gain is accepted. Tiers are sorted by MaxSeconds; the first tier
// whose MaxSeconds exceeds elapsed applies.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TakeProfitTier is one elapsed-time bracket
type TakeProfitTier struct {
	MaxSeconds int
	ProfitPct  float64
}

type TakeProfit struct {
	enabled bool
	tiers   []TakeProfitTier
}

// NewTakeProfit creates the schedule
func NewTakeProfit(enabled bool, tiers []TakeProfitTier) *TakeProfit {
	sorted := append([]TakeProfitTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxSeconds < sorted[j].MaxSeconds })
	return &TakeProfit{enabled: enabled, tiers: sorted}
}

// Target returns the profit target for elapsed seconds
func (tp *TakeProfit) Target(elapsed int) (float64, bool) {
	if tp == nil || !tp.enabled {
		return 0, false
	}
	for _, t := range tp.tiers {
		if elapsed < t.MaxSeconds {
			return t.ProfitPct, true
		}
	}
	return 0, false
}

// CheckExit reports whether selling at bid locks in the tier's profit
func (tp *TakeProfit) CheckExit(entry, bid float64, elapsed int) (bool, string) {
	target, ok := tp.Target(elapsed)
	if !ok || entry <= 0.01 {
		return false, ""
	}
	profit := (bid - entry) / entry
	if profit >= target {
		return true, fmt.Sprintf("take profit: +%.0f%% >= +%.0f%% at %ds", profit*100, target*100, elapsed)
	}
	return false, ""
}
