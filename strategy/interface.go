package strategy

import (
	"fmt"

	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION - What the engine wants to do this tick
// ═══════════════════════════════════════════════════════════════════════════════
//
// A Decision is exactly one of NoAction, Enter or Exit. The set is closed:
// only this package can add variants.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Decision is the sealed result of an evaluation
type Decision interface {
	decision()
	String() string
}

// Code classifies why nothing happened
type Code string

const (
	CodeNoQuote    Code = "no_quote"
	CodeTiming     Code = "timing"
	CodeCeiling    Code = "ceiling"
	CodeDailyLoss  Code = "daily_loss"
	CodePriceDelta Code = "price_delta"
	CodeSpread     Code = "spread"
	CodeLiquidity  Code = "liquidity"
	CodeSamples    Code = "samples"
	CodeConfidence Code = "confidence"
	CodeCooldown   Code = "cooldown"
	CodeNoEdge     Code = "no_edge"
	CodeSize       Code = "size"
	CodeHold       Code = "hold"
)

// NoAction carries a machine code and a human-readable reason
type NoAction struct {
	Code   Code
	Reason string
}

// Enter opens a new position
type Enter struct {
	Direction         types.Direction
	Strategy          types.StrategyKind
	Edge              float64
	OurProbability    float64
	MarketProbability float64
	Price             float64 // limit price for the FOK buy (best ask)
	Size              float64 // USDC
	Confidence        model.Confidence
	ExitTarget        float64 // types.HoldToSettlement for terminal
	TargetSource      TargetSource
	TimeBucket        int
	DeltaBucket       int
	Reason            string
}

// Shares is the contract count bought at Price
func (e Enter) Shares() float64 {
	if e.Price <= 0 {
		return 0
	}
	return e.Size / e.Price
}

// Exit sells an open position
type Exit struct {
	PositionID string
	ExitPrice  float64
	Reason     string
}

func (NoAction) decision() {}
func (Enter) decision()    {}
func (Exit) decision()     {}

func (n NoAction) String() string {
	return fmt.Sprintf("NO_ACTION[%s] %s", n.Code, n.Reason)
}

func (e Enter) String() string {
	target := "HOLD"
	if e.ExitTarget < types.HoldToSettlement {
		target = fmt.Sprintf("%.0f¢", e.ExitTarget*100)
	}
	return fmt.Sprintf("ENTER %s [%s] @ %.0f¢ $%.2f edge=%.1f%% exit=%s",
		e.Direction, e.Strategy, e.Price*100, e.Size, e.Edge*100, target)
}

func (x Exit) String() string {
	return fmt.Sprintf("EXIT %s @ %.0f¢ (%s)", x.PositionID, x.ExitPrice*100, x.Reason)
}

func skip(code Code, format string, args ...any) NoAction {
	return NoAction{Code: code, Reason: fmt.Sprintf(format, args...)}
}
