package feeds

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET STATE - Everything the decision loop reads, written by the feeds
// ═══════════════════════════════════════════════════════════════════════════════
//
// Writers:
//   BinanceFeed    - spot price, window open
//   WindowScanner  - up/down token ids for the current window
//   PolymarketFeed - top of book for both tokens
//
// The current window is derived from the spot timestamp. When a spot lands in
// a new window the old one is closed out (open, last spot, high, low) and the
// per-window fields are cleared.
//
// ═══════════════════════════════════════════════════════════════════════════════

// WindowLength is the duration of one contract window
const WindowLength = 15 * time.Minute

// closedHistory is how many finished windows are kept for settlement lookups
const closedHistory = 8

// WindowStart returns the start of the window containing t
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(WindowLength)
}

// ClosedWindow is a finished window's price summary
type ClosedWindow struct {
	Start time.Time
	Open  float64
	Close float64
	High  float64
	Low   float64
	Slug  string
}

// End returns the settlement time
func (c ClosedWindow) End() time.Time {
	return c.Start.Add(WindowLength)
}

// Outcome resolves the window, false when the open was never observed
func (c ClosedWindow) Outcome() (types.Outcome, bool) {
	if c.Open <= 0 || c.Close <= 0 {
		return types.Up, false
	}
	return types.OutcomeFor(c.Open, c.Close), true
}

// ChangePct is the window move in percent of the open
func (c ClosedWindow) ChangePct() float64 {
	if c.Open <= 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// View is a consistent copy of the state
type View struct {
	Window    time.Time
	Open      float64
	Spot      float64
	SpotAt    time.Time
	Slug      string
	UpToken   string
	DownToken string
	Up        types.Quote
	Down      types.Quote
}

// Ready reports whether the view has everything a decision needs
func (v View) Ready() bool {
	return !v.Window.IsZero() && v.Open > 0 && v.Spot > 0 &&
		v.UpToken != "" && v.DownToken != ""
}

// Elapsed seconds since the window opened, clamped to the window
func (v View) Elapsed(now time.Time) int {
	e := int(now.Sub(v.Window) / time.Second)
	if e < 0 {
		return 0
	}
	if limit := int(WindowLength / time.Second); e > limit {
		return limit
	}
	return e
}

// Delta is spot minus the window open
func (v View) Delta() float64 {
	return v.Spot - v.Open
}

// Token returns the token id for dir
func (v View) Token(dir types.Direction) string {
	if dir == types.Down {
		return v.DownToken
	}
	return v.UpToken
}

// State is the shared, mutex-guarded market state
type State struct {
	mu sync.RWMutex

	window time.Time
	open   float64
	spot   float64
	spotAt time.Time
	high   float64
	low    float64

	slug      string
	upToken   string
	downToken string
	up        types.Quote
	down      types.Quote

	closed []ClosedWindow
}

// NewState creates empty market state
func NewState() *State {
	return &State{}
}

// SetSpot records a spot price and rolls the window when at crosses a
// boundary. Prices older than the latest one are dropped so a late reply can
// never move the window backwards.
func (s *State) SetSpot(price float64, at time.Time) bool {
	if price <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if at.Before(s.spotAt) {
		log.Debug().Time("at", at).Time("latest", s.spotAt).Msg("Stale spot ignored")
		return false
	}
	if w := WindowStart(at); !w.Equal(s.window) {
		s.rollLocked(w)
	}
	s.spot = price
	s.spotAt = at
	if s.high == 0 || price > s.high {
		s.high = price
	}
	if s.low == 0 || price < s.low {
		s.low = price
	}
	return true
}

func (s *State) rollLocked(next time.Time) {
	if !s.window.IsZero() && s.window.Before(next) {
		c := ClosedWindow{
			Start: s.window,
			Open:  s.open,
			Close: s.spot,
			High:  s.high,
			Low:   s.low,
			Slug:  s.slug,
		}
		s.closed = append(s.closed, c)
		if len(s.closed) > closedHistory {
			s.closed = s.closed[len(s.closed)-closedHistory:]
		}
		log.Info().
			Time("window", c.Start).
			Float64("open", c.Open).
			Float64("close", c.Close).
			Msg("🏁 Window closed")
	}

	s.window = next
	s.open = 0
	s.high = 0
	s.low = 0
	s.slug = ""
	s.upToken = ""
	s.downToken = ""
	s.up = types.Quote{}
	s.down = types.Quote{}
}

// SetOpen records the open price for window; stale windows are ignored
func (s *State) SetOpen(window time.Time, price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !window.Equal(s.window) || price <= 0 {
		return false
	}
	s.open = price
	return true
}

// SetMarket installs the token pair discovered for window
func (s *State) SetMarket(window time.Time, slug, upToken, downToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !window.Equal(s.window) {
		return false
	}
	if s.upToken == upToken && s.downToken == downToken {
		return false
	}
	s.slug = slug
	s.upToken = upToken
	s.downToken = downToken
	s.up = types.Quote{TokenID: upToken}
	s.down = types.Quote{TokenID: downToken}
	return true
}

// SetQuote replaces the book for a token; unknown tokens are ignored
func (s *State) SetQuote(q types.Quote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch q.TokenID {
	case "":
		return false
	case s.upToken:
		s.up = q
	case s.downToken:
		s.down = q
	default:
		return false
	}
	return true
}

// UpdateTop moves the best bid/ask of a token, keeping its liquidity.
// Zero means the side did not change.
func (s *State) UpdateTop(tokenID string, bid, ask float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var q *types.Quote
	switch tokenID {
	case "":
		return false
	case s.upToken:
		q = &s.up
	case s.downToken:
		q = &s.down
	default:
		return false
	}
	if bid > 0 {
		q.BestBid = bid
	}
	if ask > 0 {
		q.BestAsk = ask
	}
	q.UpdatedAt = at
	return true
}

// Tokens returns the current up/down token ids
func (s *State) Tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upToken, s.downToken
}

// Window returns the current window start and whether its open is known
func (s *State) Window() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window, s.open > 0
}

// Snapshot returns a copy of the state
func (s *State) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Window:    s.window,
		Open:      s.open,
		Spot:      s.spot,
		SpotAt:    s.spotAt,
		Slug:      s.slug,
		UpToken:   s.upToken,
		DownToken: s.downToken,
		Up:        s.up,
		Down:      s.down,
	}
}

// Closed returns the summary for a finished window
func (s *State) Closed(start time.Time) (ClosedWindow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.closed) - 1; i >= 0; i-- {
		if s.closed[i].Start.Equal(start) {
			return s.closed[i], true
		}
	}
	return ClosedWindow{}, false
}

// QuoteFor returns the book of a current-window token
func (s *State) QuoteFor(tokenID string) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch tokenID {
	case "":
		return types.Quote{}, false
	case s.upToken:
		return s.up, true
	case s.downToken:
		return s.down, true
	}
	return types.Quote{}, false
}
