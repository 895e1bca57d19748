package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WINDOW SCANNER - Finds the up/down market for the current 15-minute window
// ═══════════════════════════════════════════════════════════════════════════════
//
// Markets are named by settlement time: btc-updown-15m-<window end unix>.
// The gamma events endpoint returns the market with clobTokenIds and outcomes
// as JSON-encoded strings. Once found, both books are seeded over REST; the
// websocket takes over from there. REST is polled again whenever a book goes
// stale.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	windowScanFreq = 2 * time.Second
	bookStaleAfter = 10 * time.Second
)

// Market is the contract pair for one window
type Market struct {
	Slug        string
	ConditionID string
	UpToken     string
	DownToken   string
	End         time.Time
}

// WindowScanner discovers markets and keeps the REST book fallback
type WindowScanner struct {
	gammaURL   string
	clobURL    string
	slugPrefix string
	client     *http.Client
	state      *State
	now        func() time.Time

	// window the last "waiting for market" line was logged for
	waitLogged time.Time
}

// NewWindowScanner creates a new scanner
func NewWindowScanner(gammaURL, clobURL, slugPrefix string, timeout time.Duration, state *State) *WindowScanner {
	return &WindowScanner{
		gammaURL:   strings.TrimRight(gammaURL, "/"),
		clobURL:    strings.TrimRight(clobURL, "/"),
		slugPrefix: slugPrefix,
		client:     &http.Client{Timeout: timeout},
		state:      state,
		now:        time.Now,
	}
}

// SlugFor names the market settling at the end of window
func (s *WindowScanner) SlugFor(window time.Time) string {
	return fmt.Sprintf("%s-%d", s.slugPrefix, window.Add(WindowLength).Unix())
}

// Run scans until ctx is cancelled
func (s *WindowScanner) Run(ctx context.Context) error {
	log.Info().Str("prefix", s.slugPrefix).Msg("🔍 Window scanner started")

	ticker := time.NewTicker(windowScanFreq)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Window scanner stopped")
			return nil
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *WindowScanner) scan(ctx context.Context) {
	window, _ := s.state.Window()
	if window.IsZero() {
		return
	}

	up, down := s.state.Tokens()
	if up == "" || down == "" {
		m, err := s.Discover(ctx, window)
		if err != nil {
			if !s.waitLogged.Equal(window) && ctx.Err() == nil {
				log.Info().Err(err).Str("slug", s.SlugFor(window)).Msg("⏳ Waiting for market")
				s.waitLogged = window
			}
			return
		}
		if !s.state.SetMarket(window, m.Slug, m.UpToken, m.DownToken) {
			return
		}
		log.Info().
			Str("slug", m.Slug).
			Str("up", shortID(m.UpToken)).
			Str("down", shortID(m.DownToken)).
			Msg("🎯 Market found")
		s.refreshBooks(ctx, m.UpToken, m.DownToken)
		return
	}

	v := s.state.Snapshot()
	now := s.now()
	if now.Sub(v.Up.UpdatedAt) > bookStaleAfter || now.Sub(v.Down.UpdatedAt) > bookStaleAfter {
		s.refreshBooks(ctx, up, down)
	}
}

// Discover looks up the market for window on the gamma API
func (s *WindowScanner) Discover(ctx context.Context, window time.Time) (Market, error) {
	slug := s.SlugFor(window)
	body, err := s.get(ctx, fmt.Sprintf("%s/events?slug=%s", s.gammaURL, url.QueryEscape(slug)))
	if err != nil {
		return Market{}, err
	}
	m, err := parseGammaEvents(body)
	if err != nil {
		return Market{}, fmt.Errorf("%s: %w", slug, err)
	}
	m.Slug = slug
	m.End = window.Add(WindowLength)
	return m, nil
}

type gammaEvent struct {
	Markets []struct {
		ConditionID  string `json:"conditionId"`
		ClobTokenIDs string `json:"clobTokenIds"` // JSON-encoded array
		Outcomes     string `json:"outcomes"`     // JSON-encoded array
	} `json:"markets"`
}

func parseGammaEvents(body []byte) (Market, error) {
	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return Market{}, fmt.Errorf("parse events: %w", err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return Market{}, fmt.Errorf("no market listed")
	}
	gm := events[0].Markets[0]

	var tokens, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil {
		return Market{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return Market{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if len(tokens) < 2 || len(outcomes) < 2 {
		return Market{}, fmt.Errorf("expected two outcomes, got %d tokens / %d outcomes", len(tokens), len(outcomes))
	}

	upIdx, downIdx := 0, 1
	for i, o := range outcomes {
		switch strings.ToLower(o) {
		case "up":
			upIdx = i
		case "down":
			downIdx = i
		}
	}
	if upIdx >= len(tokens) || downIdx >= len(tokens) || upIdx == downIdx {
		return Market{}, fmt.Errorf("cannot map outcomes %v", outcomes)
	}
	return Market{
		ConditionID: gm.ConditionID,
		UpToken:     tokens[upIdx],
		DownToken:   tokens[downIdx],
	}, nil
}

// FetchBook reads one token's book over REST
func (s *WindowScanner) FetchBook(ctx context.Context, tokenID string) (*Orderbook, error) {
	body, err := s.get(ctx, fmt.Sprintf("%s/book?token_id=%s", s.clobURL, url.QueryEscape(tokenID)))
	if err != nil {
		return nil, err
	}
	var raw struct {
		AssetID string  `json:"asset_id"`
		Bids    []Level `json:"bids"`
		Asks    []Level `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}
	return NewOrderbook(tokenID, raw.Bids, raw.Asks), nil
}

func (s *WindowScanner) refreshBooks(ctx context.Context, up, down string) {
	books := make([]*Orderbook, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, token := range []string{up, down} {
		g.Go(func() error {
			ob, err := s.FetchBook(gctx, token)
			books[i] = ob
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to get order books")
		}
		return
	}

	now := s.now()
	for _, ob := range books {
		s.state.SetQuote(ob.Quote(now))
	}
	v := s.state.Snapshot()
	log.Debug().
		Str("up", quoteLine(v.Up)).
		Str("down", quoteLine(v.Down)).
		Msg("📗 Books refreshed")
}

func quoteLine(q types.Quote) string {
	return fmt.Sprintf("%.0f¢/%.0f¢ $%.0f", q.BestBid*100, q.BestAsk*100, q.AskLiquidity)
}

func (s *WindowScanner) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polymarket %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}
