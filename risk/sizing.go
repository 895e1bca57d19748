package risk

import (
	"math"

	"github.com/web3guy0/windowbot/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - Fractional Kelly for a binary contract
// ═══════════════════════════════════════════════════════════════════════════════
//
// For a contract bought at price p paying 1:
//   b     = (1 - p) / p                  net odds
//   p'    = p + edge * p                 our win probability implied by edge
//   kelly = max(0, (p' * b - (1 - p')) / b)
//
// bet = bankroll * kelly * fraction * confidence mult * reduction^losses,
// capped at bankroll * max_bet_pct, the global max bet and the strategy max.
//
// ═══════════════════════════════════════════════════════════════════════════════

type SizerConfig struct {
	KellyFraction       float64
	MaxBetPct           float64
	MinBetUSDC          float64
	MaxBetUSDC          float64
	LossReductionFactor float64
	// Multipliers per confidence level; Unreliable should be 0 unless allowed
	Multipliers model.ConfidenceTable[float64]
}

type Sizer struct {
	cfg SizerConfig
}

// NewSizer creates a new position sizer
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// MinBet is the smallest bet worth placing
func (s *Sizer) MinBet() float64 {
	return s.cfg.MinBetUSDC
}

// KellyFraction returns the raw full-Kelly fraction for the given price and edge
func KellyFraction(price, edge float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := (1 - price) / price
	p := math.Min(1, price+edge*price)
	k := (p*b - (1 - p)) / b
	return math.Max(0, k)
}

// Size returns the USDC amount to bet. strategyCap is the strategy's own
// max bet; zero means no extra cap.
func (s *Sizer) Size(price, edge float64, conf model.Confidence, bankroll float64, consecutiveLosses int, strategyCap float64) float64 {
	if bankroll <= 0 {
		return 0
	}
	kelly := KellyFraction(price, edge)
	lossMult := math.Pow(s.cfg.LossReductionFactor, float64(consecutiveLosses))
	adjusted := kelly * s.cfg.KellyFraction * s.cfg.Multipliers.Get(conf) * lossMult

	bet := bankroll * adjusted
	bet = math.Min(bet, bankroll*s.cfg.MaxBetPct)
	bet = math.Min(bet, s.cfg.MaxBetUSDC)
	if strategyCap > 0 {
		bet = math.Min(bet, strategyCap)
	}
	return math.Floor(bet*100+1e-6) / 100
}
