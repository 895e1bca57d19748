package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/types"
)

// QuoteSource gives the paper gateway the current book for a token
type QuoteSource interface {
	QuoteFor(tokenID string) (types.Quote, bool)
}

// Paper fills orders against the live quoted book without touching a venue.
// A buy fills at the limit when the ask is at or under it and ask liquidity
// covers the notional; sells mirror that on the bid side.
type Paper struct {
	mu     sync.Mutex
	quotes QuoteSource
	fills  int
}

// NewPaper creates the dry-run gateway
func NewPaper(quotes QuoteSource) *Paper {
	log.Info().Msg("📝 Paper gateway active (DRY_RUN)")
	return &Paper{quotes: quotes}
}

func (p *Paper) Submit(ctx context.Context, req OrderRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, ok := p.quotes.QuoteFor(req.TokenID)
	if !ok {
		return Rejected{Reason: "no book for token"}, nil
	}

	switch req.Side {
	case types.Buy:
		if q.BestAsk <= 0 || q.BestAsk > req.Price {
			return Rejected{Reason: fmt.Sprintf("ask %.0f¢ above limit %.0f¢", q.BestAsk*100, req.Price*100)}, nil
		}
		if q.AskLiquidity < req.Amount {
			return Rejected{Reason: fmt.Sprintf("ask liquidity $%.0f < $%.2f", q.AskLiquidity, req.Amount)}, nil
		}
	case types.Sell:
		if q.BestBid <= 0 || q.BestBid < req.Price {
			return Rejected{Reason: fmt.Sprintf("bid %.0f¢ below limit %.0f¢", q.BestBid*100, req.Price*100)}, nil
		}
		if q.BidLiquidity < req.Notional() {
			return Rejected{Reason: fmt.Sprintf("bid liquidity $%.0f < $%.2f", q.BidLiquidity, req.Notional())}, nil
		}
	default:
		return nil, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	p.mu.Lock()
	p.fills++
	p.mu.Unlock()

	orderID := "PAPER_" + uuid.NewString()
	log.Info().
		Str("order_id", orderID).
		Str("order", req.String()).
		Msg("📝 DRY RUN: Order filled on paper")
	return filledFor(req, orderID), nil
}

// Fills returns how many paper orders executed
func (p *Paper) Fills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills
}
