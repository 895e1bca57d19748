package feeds

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERBOOK - Book snapshot to top-of-book quote
// ═══════════════════════════════════════════════════════════════════════════════

// Level is one price level as the CLOB sends it
type Level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceLevel is a parsed level
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook is a parsed book for one token
type Orderbook struct {
	TokenID string
	Bids    []PriceLevel // best first
	Asks    []PriceLevel // best first
}

// NewOrderbook parses raw levels; unparsable or empty levels are dropped
func NewOrderbook(tokenID string, bids, asks []Level) *Orderbook {
	ob := &Orderbook{
		TokenID: tokenID,
		Bids:    parseLevels(bids),
		Asks:    parseLevels(asks),
	}

	// Sort: bids descending, asks ascending
	sort.Slice(ob.Bids, func(i, j int) bool {
		return ob.Bids[i].Price.GreaterThan(ob.Bids[j].Price)
	})
	sort.Slice(ob.Asks, func(i, j int) bool {
		return ob.Asks[i].Price.LessThan(ob.Asks[j].Price)
	})
	return ob
}

func parseLevels(raw []Level) []PriceLevel {
	out := make([]PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil || !size.IsPositive() {
			continue
		}
		out = append(out, PriceLevel{Price: price, Size: size})
	}
	return out
}

// BestBid returns the highest bid price
func (ob *Orderbook) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price
func (ob *Orderbook) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// Depth returns the USDC notional resting on each side
func (ob *Orderbook) Depth() (bidDepth, askDepth decimal.Decimal) {
	for _, l := range ob.Bids {
		bidDepth = bidDepth.Add(l.Price.Mul(l.Size))
	}
	for _, l := range ob.Asks {
		askDepth = askDepth.Add(l.Price.Mul(l.Size))
	}
	return bidDepth, askDepth
}

// Quote converts the book to the shared quote type
func (ob *Orderbook) Quote(at time.Time) types.Quote {
	bidDepth, askDepth := ob.Depth()
	return types.Quote{
		TokenID:      ob.TokenID,
		BestBid:      ob.BestBid().InexactFloat64(),
		BestAsk:      ob.BestAsk().InexactFloat64(),
		BidLiquidity: bidDepth.InexactFloat64(),
		AskLiquidity: askDepth.InexactFloat64(),
		UpdatedAt:    at,
	}
}
