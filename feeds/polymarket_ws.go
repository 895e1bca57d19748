package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLYMARKET WEBSOCKET FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to the market channel for the current up/down tokens and keeps
// their top of book in State. The server sends an array of book snapshots
// first, then objects carrying price_changes. When the scanner installs a new
// token pair the connection is dropped and re-subscribed.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolymarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	reconnectDelay  = 2 * time.Second
	pingInterval    = 5 * time.Second
	tokenWait       = time.Second
)

var errTokensChanged = errors.New("market tokens changed")

// PolymarketFeed streams books for the current window's tokens into State
type PolymarketFeed struct {
	wsURL  string
	state  *State
	dialer *websocket.Dialer
	now    func() time.Time
}

// NewPolymarketFeed creates a new feed instance
func NewPolymarketFeed(wsURL string, state *State) *PolymarketFeed {
	if wsURL == "" {
		wsURL = PolymarketWSURL
	}
	return &PolymarketFeed{
		wsURL:  wsURL,
		state:  state,
		dialer: websocket.DefaultDialer,
		now:    time.Now,
	}
}

// Run maintains the connection until ctx is cancelled
func (f *PolymarketFeed) Run(ctx context.Context) error {
	log.Info().Str("url", f.wsURL).Msg("📡 Polymarket feed started")
	for {
		up, down := f.state.Tokens()
		if up == "" || down == "" {
			if !sleepCtx(ctx, tokenWait) {
				return nil
			}
			continue
		}

		err := f.session(ctx, up, down)
		switch {
		case ctx.Err() != nil:
			log.Info().Msg("Polymarket feed stopped")
			return nil
		case errors.Is(err, errTokensChanged):
			log.Info().Msg("🔄 Market changed, reconnecting to new tokens")
			continue
		case err != nil:
			log.Warn().Err(err).Msg("Polymarket WebSocket error, reconnecting")
		}
		if !sleepCtx(ctx, reconnectDelay) {
			return nil
		}
	}
}

func (f *PolymarketFeed) session(ctx context.Context, up, down string) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"type":       "market",
		"assets_ids": []string{up, down},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Info().
		Str("up", shortID(up)).
		Str("down", shortID(down)).
		Msg("🔌 WebSocket connected")

	// gorilla allows one concurrent reader and one writer: the reader runs
	// here, all writes stay on this goroutine
	readErr := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			f.HandleMessage(message)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if u, d := f.state.Tokens(); u != up || d != down {
				return errTokensChanged
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

type bookMessage struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Bids         []Level       `json:"bids"`
	Asks         []Level       `json:"asks"`
	PriceChanges []priceChange `json:"price_changes"`
}

type priceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// HandleMessage applies one websocket frame to State
func (f *PolymarketFeed) HandleMessage(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	var msgs []bookMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			log.Debug().Err(err).Msg("Unparsable book snapshot")
			return
		}
	} else {
		var msg bookMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("msg", truncate(string(data), 200)).Msg("Unknown WS message format")
			return
		}
		msgs = []bookMessage{msg}
	}

	now := f.now()
	for _, msg := range msgs {
		if len(msg.PriceChanges) > 0 {
			for _, pc := range msg.PriceChanges {
				f.state.UpdateTop(pc.AssetID, parsePrice(pc.BestBid), parsePrice(pc.BestAsk), now)
			}
			continue
		}
		if msg.AssetID == "" || (msg.EventType != "" && msg.EventType != "book") {
			continue
		}
		ob := NewOrderbook(msg.AssetID, msg.Bids, msg.Asks)
		if f.state.SetQuote(ob.Quote(now)) {
			log.Debug().
				Str("asset", shortID(msg.AssetID)).
				Str("bid", ob.BestBid().String()).
				Str("ask", ob.BestAsk().String()).
				Msg("Book snapshot")
		}
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func shortID(id string) string {
	return truncate(id, 16)
}

// sleepCtx waits d or until ctx ends; false means ctx ended
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
