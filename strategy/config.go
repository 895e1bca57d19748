package strategy

import (
	"time"

	"github.com/web3guy0/windowbot/internal/config"
	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/types"
)

// TerminalParams configure the hold-to-settlement strategy
type TerminalParams struct {
	Enabled             bool
	MinEdge             float64
	MinSellEdge         float64
	MinProfitBeforeSell float64
	MaxBetUSDC          float64
	MinSecondsRemaining int
}

// ExitParams configure the target-based strategy
type ExitParams struct {
	Enabled              bool
	MinEdge              float64
	MaxBetUSDC           float64
	MinSecondsRemaining  int
	OnlyStrongConfidence bool
	DynamicTarget        bool
}

// Config is everything the decision engine reads. Immutable after startup.
type Config struct {
	MinSecondsElapsed   int
	MinSecondsRemaining int
	MinSamplesInBucket  int

	MaxPriceDelta     float64
	MaxPriceChangePct float64

	MaxSpreadPct     float64
	MinLiquidityUSDC float64

	// MinEdge per confidence level, strictly decreasing with confidence
	MinEdge         model.ConfidenceTable[float64]
	AllowUnreliable bool

	Terminal TerminalParams
	Exit     ExitParams
}

// ConfigFrom maps the bot configuration onto the engine's view of it
func ConfigFrom(c *config.Config) Config {
	return Config{
		MinSecondsElapsed:   c.Timing.MinSecondsElapsed,
		MinSecondsRemaining: c.Timing.MinSecondsRemaining,
		MinSamplesInBucket:  c.Timing.MinSamplesInBucket,
		MaxPriceDelta:       c.PriceFilters.MaxPriceDelta,
		MaxPriceChangePct:   c.PriceFilters.MaxPriceChangePct,
		MaxSpreadPct:        c.Markets.MaxSpreadPct,
		MinLiquidityUSDC:    c.Markets.MinLiquidityUSDC,
		MinEdge: model.ConfidenceTable[float64]{
			model.Unreliable: c.Edge.MinEdgeUnreliable,
			model.Weak:       c.Edge.MinEdgeWeak,
			model.Moderate:   c.Edge.MinEdgeModerate,
			model.Strong:     c.Edge.MinEdgeStrong,
		},
		AllowUnreliable: c.Edge.AllowUnreliable,
		Terminal: TerminalParams{
			Enabled:             c.Terminal.Enabled,
			MinEdge:             c.Terminal.MinEdge,
			MinSellEdge:         c.Terminal.MinSellEdge,
			MinProfitBeforeSell: c.Terminal.MinProfitBeforeSell,
			MaxBetUSDC:          c.Terminal.MaxBetUSDC,
			MinSecondsRemaining: c.Terminal.MinSecondsRemaining,
		},
		Exit: ExitParams{
			Enabled:              c.Exit.Enabled,
			MinEdge:              c.Exit.MinEdge,
			MaxBetUSDC:           c.Exit.MaxBetUSDC,
			MinSecondsRemaining:  c.Exit.MinSecondsRemaining,
			OnlyStrongConfidence: c.Exit.OnlyStrongConfidence,
			DynamicTarget:        c.Exit.DynamicTarget,
		},
	}
}

// SizerConfigFrom builds the Kelly sizer settings. Unreliable cells always
// size to zero, even when allow_unreliable lets them past the entry filter.
func SizerConfigFrom(c *config.Config) risk.SizerConfig {
	return risk.SizerConfig{
		KellyFraction:       c.Betting.KellyFraction,
		MaxBetPct:           c.Betting.MaxBetPct,
		MinBetUSDC:          c.Betting.MinBetUSDC,
		MaxBetUSDC:          c.Betting.MaxBetUSDC,
		LossReductionFactor: c.Risk.LossReductionFactor,
		Multipliers: model.ConfidenceTable[float64]{
			model.Unreliable: 0,
			model.Weak:       c.Betting.ConfidenceMultipliers.Weak,
			model.Moderate:   c.Betting.ConfidenceMultipliers.Moderate,
			model.Strong:     c.Betting.ConfidenceMultipliers.Strong,
		},
	}
}

// LimitsFrom builds the risk gate ceilings
func LimitsFrom(c *config.Config) risk.Limits {
	var perKind risk.KindCount
	perKind[types.Terminal] = c.Terminal.MaxBetsPerWindow
	perKind[types.Exit] = c.Exit.MaxBetsPerWindow
	return risk.Limits{
		MaxOpenPositions:  c.Risk.MaxOpenPositions,
		MaxBetsPerWindow:  c.Risk.MaxBetsPerWindow,
		DailyLossLimitPct: c.Risk.DailyLossLimitPct,
		PerKind:           perKind,
	}
}

// CooldownsFrom builds the per-strategy cooldowns
func CooldownsFrom(c *config.Config) risk.Cooldowns {
	var cd risk.Cooldowns
	cd.PerKind[types.Terminal] = time.Duration(c.Terminal.CooldownSeconds) * time.Second
	cd.PerKind[types.Exit] = time.Duration(c.Exit.CooldownSeconds) * time.Second
	cd.Global = time.Duration(c.Cooldown.MinSecondsBetweenBets) * time.Second
	return cd
}

// TakeProfitFrom builds the terminal take-profit schedule
func TakeProfitFrom(c *config.Config) *risk.TakeProfit {
	tiers := make([]risk.TakeProfitTier, 0, len(c.Terminal.TakeProfit.Targets))
	for _, t := range c.Terminal.TakeProfit.Targets {
		tiers = append(tiers, risk.TakeProfitTier{MaxSeconds: t.MaxSeconds, ProfitPct: t.ProfitPct})
	}
	return risk.NewTakeProfit(c.Terminal.TakeProfit.Enabled, tiers)
}
