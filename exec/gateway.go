package exec

import (
	"context"
	"fmt"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER GATEWAY - Where orders go
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every order is fill-or-kill. Submit has exactly three outcomes:
//   Filled   - the whole order executed
//   Rejected - the venue declined it cleanly (nothing happened)
//   error    - transport or venue failure, state unknown
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderRequest is one FOK order. Buys spend Amount USDC; sells deliver Shares.
type OrderRequest struct {
	TokenID string
	Side    types.Side
	Price   float64 // limit price
	Amount  float64 // USDC, buys only
	Shares  float64 // sells only
}

// Notional returns the USDC value of the order at its limit
func (r OrderRequest) Notional() float64 {
	if r.Side == types.Sell {
		return r.Shares * r.Price
	}
	return r.Amount
}

func (r OrderRequest) String() string {
	if r.Side == types.Sell {
		return fmt.Sprintf("SELL %.2f sh @ %.0f¢", r.Shares, r.Price*100)
	}
	return fmt.Sprintf("BUY $%.2f @ %.0f¢", r.Amount, r.Price*100)
}

// Result is Filled or Rejected
type Result interface {
	result()
}

// Filled confirms execution
type Filled struct {
	OrderID string
	Price   float64
	Shares  float64
	Cost    float64 // USDC paid (buy) or received (sell)
}

// Rejected means the order was declined and nothing executed
type Rejected struct {
	Reason string
}

func (Filled) result()   {}
func (Rejected) result() {}

// Gateway submits orders to a venue
type Gateway interface {
	Submit(ctx context.Context, req OrderRequest) (Result, error)
}

func filledFor(req OrderRequest, orderID string) Filled {
	f := Filled{OrderID: orderID, Price: req.Price}
	if req.Side == types.Sell {
		f.Shares = req.Shares
		f.Cost = req.Shares * req.Price
	} else {
		f.Cost = req.Amount
		if req.Price > 0 {
			f.Shares = req.Amount / req.Price
		}
	}
	return f
}
