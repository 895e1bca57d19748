package types

import (
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction is the outcome a contract pays out on.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "DOWN"
	}
	return "UP"
}

// Opposite returns the other side of the binary contract
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// Outcome is the realized direction of a closed window.
type Outcome = Direction

// OutcomeFor resolves a window: a close at or above the open counts as UP.
func OutcomeFor(open, close float64) Outcome {
	if close >= open {
		return Up
	}
	return Down
}

// Side is the order side sent to the exchange
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// StrategyKind identifies which position-management policy created a position.
type StrategyKind int

const (
	// Terminal holds to settlement and exits only on sell-edge
	Terminal StrategyKind = iota
	// Exit sells once the bid reaches a target price
	Exit
)

// StrategyKinds lists every kind, in evaluation order
var StrategyKinds = []StrategyKind{Terminal, Exit}

func (k StrategyKind) String() string {
	switch k {
	case Terminal:
		return "TERMINAL"
	case Exit:
		return "EXIT"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// ParseStrategyKind is the inverse of StrategyKind.String
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch s {
	case "TERMINAL":
		return Terminal, nil
	case "EXIT":
		return Exit, nil
	}
	return 0, fmt.Errorf("unknown strategy kind %q", s)
}

// HoldToSettlement is the exit target meaning "never sell, wait for resolution".
const HoldToSettlement = 1.0

// Quote is a top-of-book snapshot for one side of the contract.
type Quote struct {
	TokenID      string
	BestBid      float64
	BestAsk      float64
	BidLiquidity float64 // USDC notional resting on the bid side
	AskLiquidity float64 // USDC notional resting on the ask side
	UpdatedAt    time.Time
}

// Mid returns the mid price, or 0 when either side is empty
func (q Quote) Mid() float64 {
	if q.BestBid <= 0 || q.BestAsk <= 0 {
		return 0
	}
	return (q.BestBid + q.BestAsk) / 2
}

// Spread returns ask - bid
func (q Quote) Spread() float64 {
	if q.BestBid <= 0 || q.BestAsk <= 0 {
		return 0
	}
	return q.BestAsk - q.BestBid
}

// Valid reports whether the quote has both sides populated
func (q Quote) Valid() bool {
	return q.BestBid > 0 && q.BestAsk > 0 && q.BestAsk >= q.BestBid
}

// Position is open exposure created by a confirmed fill.
type Position struct {
	ID               string
	Direction        Direction
	TokenID          string
	EntryPrice       float64
	Shares           float64
	Cost             float64 // USDC paid
	EntryTimeBucket  int
	EntryDeltaBucket int
	EntryElapsed     int
	ExitTarget       float64 // HoldToSettlement for terminal positions
	Window           time.Time
	Strategy         StrategyKind
	ExitPending      bool
	ExitRetryAt      time.Time // no sell before this after a gateway error
	OpenedAt         time.Time
}

// HoldsToSettlement reports whether the position has no sell target
func (p *Position) HoldsToSettlement() bool {
	return p.ExitTarget >= HoldToSettlement
}

// TradeRecord for display (Telegram bot)
type TradeRecord struct {
	PositionID string
	Action     string // OPEN, EXIT, SETTLE
	Direction  string
	Strategy   string
	Price      float64
	Shares     float64
	PnL        float64
	Timestamp  time.Time
}
