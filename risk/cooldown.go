package risk

import (
	"time"

	"github.com/web3guy0/windowbot/types"
)

// Cooldowns holds the per-strategy minimum gap between bets. Global is a
// floor applied to every kind.
type Cooldowns struct {
	PerKind [2]time.Duration
	Global  time.Duration
}

// For returns the effective cooldown for kind
func (c Cooldowns) For(kind types.StrategyKind) time.Duration {
	d := c.PerKind[kind]
	if c.Global > d {
		d = c.Global
	}
	return d
}

// Remaining is how long kind must still wait; zero means ready.
func (c Cooldowns) Remaining(kind types.StrategyKind, lastBet, now time.Time) time.Duration {
	if lastBet.IsZero() {
		return 0
	}
	left := c.For(kind) - now.Sub(lastBet)
	if left < 0 {
		return 0
	}
	return left
}
