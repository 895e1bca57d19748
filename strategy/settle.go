package strategy

import "github.com/web3guy0/windowbot/types"

// SettlementPnL is the realized result of holding to resolution
func SettlementPnL(pos types.Position, outcome types.Outcome) float64 {
	if pos.Direction == outcome {
		return pos.Shares * (1 - pos.EntryPrice)
	}
	return -pos.Shares * pos.EntryPrice
}

// ExitPnL is the realized result of selling shares at price
func ExitPnL(pos types.Position, price float64) float64 {
	return pos.Shares * (price - pos.EntryPrice)
}
