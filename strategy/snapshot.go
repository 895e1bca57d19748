package strategy

import (
	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/types"
)

// Market is the live state the engine decides on
type Market struct {
	Elapsed   int     // seconds since window open
	Delta     float64 // spot minus window open, in dollars
	OpenPrice float64 // window open price; 0 when unknown
	Up        types.Quote
	Down      types.Quote
}

// Remaining seconds until the window settles
func (m Market) Remaining() int {
	r := model.WindowSeconds - m.Elapsed
	if r < 0 {
		return 0
	}
	return r
}

// Quote returns the book for dir
func (m Market) Quote(dir types.Direction) types.Quote {
	if dir == types.Down {
		return m.Down
	}
	return m.Up
}

// Snapshot is the read-only account view handed to the engine each tick.
type Snapshot struct {
	Account       risk.AccountSnapshot
	OpenPositions int
	// CoolingDown marks strategy kinds whose cooldown has not elapsed
	CoolingDown [2]bool
}
