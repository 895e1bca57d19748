package risk

import (
	"fmt"
	"math"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GATE - Account-wide ceilings checked before any entry
// ═══════════════════════════════════════════════════════════════════════════════
//
// The gate never mutates state; it answers from an AccountSnapshot.
// A non-empty reason means the entry is blocked.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Limits are the account-wide risk ceilings
type Limits struct {
	MaxOpenPositions  int
	MaxBetsPerWindow  int
	DailyLossLimitPct float64
	// PerKind is the per-window bet budget of each strategy kind
	PerKind KindCount
}

type Gate struct {
	limits Limits
}

// NewGate creates the gate
func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// Limits returns the configured ceilings
func (g *Gate) Limits() Limits {
	return g.limits
}

// KindAvailable reports whether kind still has window budget
func (g *Gate) KindAvailable(s AccountSnapshot, kind types.StrategyKind) bool {
	return s.WindowBets[kind] < g.limits.PerKind[kind]
}

// CheckCeilings blocks when position or bet ceilings are reached. kinds are
// the strategy kinds otherwise eligible this tick; if none has budget left
// the entry is blocked.
func (g *Gate) CheckCeilings(s AccountSnapshot, openPositions int, kinds []types.StrategyKind) string {
	if openPositions >= g.limits.MaxOpenPositions {
		return fmt.Sprintf("open positions %d >= max %d", openPositions, g.limits.MaxOpenPositions)
	}
	if total := s.WindowBets.Total(); total >= g.limits.MaxBetsPerWindow {
		return fmt.Sprintf("window bets %d >= max %d", total, g.limits.MaxBetsPerWindow)
	}
	for _, k := range kinds {
		if g.KindAvailable(s, k) {
			return ""
		}
	}
	return fmt.Sprintf("per-strategy window budget used (terminal %d/%d, exit %d/%d)",
		s.WindowBets[types.Terminal], g.limits.PerKind[types.Terminal],
		s.WindowBets[types.Exit], g.limits.PerKind[types.Exit])
}

// CheckDailyLoss blocks once the period's realized loss reaches the limit
func (g *Gate) CheckDailyLoss(s AccountSnapshot) string {
	if s.PeriodPnL >= 0 {
		return ""
	}
	limit := s.Bankroll * g.limits.DailyLossLimitPct
	if math.Abs(s.PeriodPnL) >= limit {
		return fmt.Sprintf("daily loss $%.2f >= limit $%.2f", -s.PeriodPnL, limit)
	}
	return ""
}
