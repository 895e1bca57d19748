package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE PRICE FEED - BTC spot and window open
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls the ticker endpoint for spot. The window open is the open of the 1m
// kline starting at the window boundary, fetched once per window and retried
// on every poll until it lands.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BinanceFeed polls Binance REST into State
type BinanceFeed struct {
	baseURL  string
	symbol   string
	interval time.Duration
	client   *http.Client
	state    *State
	now      func() time.Time
}

// NewBinanceFeed creates a new Binance feed
func NewBinanceFeed(baseURL, symbol string, interval, timeout time.Duration, state *State) *BinanceFeed {
	return &BinanceFeed{
		baseURL:  strings.TrimRight(baseURL, "/"),
		symbol:   symbol,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		state:    state,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled
func (f *BinanceFeed) Run(ctx context.Context) error {
	log.Info().
		Str("symbol", f.symbol).
		Dur("interval", f.interval).
		Msg("📈 Binance feed started")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Binance feed stopped")
			return nil
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *BinanceFeed) poll(ctx context.Context) {
	price, err := f.FetchSpot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to get BTC price")
		}
		return
	}
	f.state.SetSpot(price.InexactFloat64(), f.now())

	window, haveOpen := f.state.Window()
	if haveOpen || window.IsZero() {
		return
	}
	open, err := f.FetchOpen(ctx, window)
	if err != nil {
		log.Warn().Err(err).Time("window", window).Msg("Failed to get window open price")
		return
	}
	if f.state.SetOpen(window, open.InexactFloat64()) {
		log.Info().
			Time("window", window).
			Str("open", open.StringFixed(2)).
			Msg("🕐 Window open price")
	}
}

// FetchSpot gets the current ticker price
func (f *BinanceFeed) FetchSpot(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", f.baseURL, f.symbol)
	body, err := f.get(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
	}
	return decimal.NewFromString(result.Price)
}

// FetchOpen gets the open of the 1m kline starting at window
func (f *BinanceFeed) FetchOpen(ctx context.Context, window time.Time) (decimal.Decimal, error) {
	start := window.UnixMilli()
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1m&startTime=%d&endTime=%d&limit=1",
		f.baseURL, f.symbol, start, start+60_000)
	body, err := f.get(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	// klines are positional arrays; index 1 is the open
	var klines [][]json.RawMessage
	if err := json.Unmarshal(body, &klines); err != nil {
		return decimal.Zero, fmt.Errorf("parse klines: %w", err)
	}
	if len(klines) == 0 || len(klines[0]) < 2 {
		return decimal.Zero, fmt.Errorf("no kline for %s", window.Format(time.RFC3339))
	}
	var open string
	if err := json.Unmarshal(klines[0][1], &open); err != nil {
		return decimal.Zero, fmt.Errorf("kline open: %w", err)
	}
	return decimal.NewFromString(open)
}

func (f *BinanceFeed) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
