package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/web3guy0/windowbot/types"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestWindowStart(t *testing.T) {
	tests := []struct {
		at   time.Time
		want time.Time
	}{
		{t0, t0},
		{t0.Add(14*time.Minute + 59*time.Second), t0},
		{t0.Add(15 * time.Minute), t0.Add(15 * time.Minute)},
		{t0.Add(-time.Second), t0.Add(-15 * time.Minute)},
	}
	for _, tt := range tests {
		if got := WindowStart(tt.at); !got.Equal(tt.want) {
			t.Errorf("WindowStart(%s) = %s, want %s", tt.at, got, tt.want)
		}
	}
}

func TestStateRollsWindowAndKeepsClose(t *testing.T) {
	s := NewState()
	s.SetSpot(95000, t0.Add(time.Second))
	if !s.SetOpen(t0, 95010) {
		t.Fatal("SetOpen rejected the current window")
	}
	s.SetMarket(t0, "btc-updown-15m-x", "up", "down")
	s.SetSpot(95100, t0.Add(10*time.Minute))
	s.SetSpot(94990, t0.Add(14*time.Minute))

	v := s.Snapshot()
	if !v.Ready() {
		t.Fatalf("view not ready: %+v", v)
	}
	if v.Delta() != 94990-95010 {
		t.Errorf("delta = %v", v.Delta())
	}

	s.SetSpot(95500, t0.Add(15*time.Minute+time.Second))
	c, ok := s.Closed(t0)
	if !ok {
		t.Fatal("closed window missing")
	}
	if c.Open != 95010 || c.Close != 94990 || c.High != 95100 || c.Low != 94990 {
		t.Errorf("closed = %+v", c)
	}
	if out, ok := c.Outcome(); !ok || out != types.Down {
		t.Errorf("outcome = %v, %v, want DOWN", out, ok)
	}

	v = s.Snapshot()
	if v.Ready() || v.UpToken != "" || v.Open != 0 {
		t.Errorf("new window carried old state: %+v", v)
	}
	if s.SetOpen(t0, 1) {
		t.Error("open accepted for a stale window")
	}
}

func TestStateIgnoresOutOfOrderSpot(t *testing.T) {
	s := NewState()
	next := t0.Add(15 * time.Minute)
	s.SetSpot(95000, t0.Add(14*time.Minute))
	if !s.SetSpot(95200, next.Add(2*time.Second)) {
		t.Fatal("fresh spot rejected")
	}
	if !s.SetOpen(next, 95150) {
		t.Fatal("SetOpen rejected the current window")
	}
	s.SetMarket(next, "btc-updown-15m-y", "up", "down")

	if s.SetSpot(94000, t0.Add(14*time.Minute+30*time.Second)) {
		t.Error("spot from the previous window accepted")
	}
	if s.SetSpot(94100, next.Add(time.Second)) {
		t.Error("spot older than the latest accepted")
	}

	v := s.Snapshot()
	if !v.Window.Equal(next) || v.Open != 95150 || v.Spot != 95200 || v.UpToken != "up" {
		t.Errorf("late spot disturbed the current window: %+v", v)
	}
	if _, ok := s.Closed(next); ok {
		t.Error("current window was closed by a stale spot")
	}
}

func TestClosedWindowWithoutOpenIsUnresolved(t *testing.T) {
	if _, ok := (ClosedWindow{Close: 1}).Outcome(); ok {
		t.Error("window without an open must not resolve")
	}
	out, ok := ClosedWindow{Open: 100, Close: 100}.Outcome()
	if !ok || out != types.Up {
		t.Errorf("flat close = %v, want UP", out)
	}
}

func TestOrderbookQuote(t *testing.T) {
	ob := NewOrderbook("up",
		[]Level{{"0.50", "10"}, {"0.52", "100"}, {"bad", "1"}, {"0.51", "0"}},
		[]Level{{"0.56", "50"}, {"0.55", "20"}},
	)
	q := ob.Quote(t0)
	if q.BestBid != 0.52 || q.BestAsk != 0.55 {
		t.Errorf("top = %v/%v", q.BestBid, q.BestAsk)
	}
	if q.BidLiquidity != 57 || q.AskLiquidity != 39 {
		t.Errorf("liquidity = %v/%v, want 57/39", q.BidLiquidity, q.AskLiquidity)
	}
}

func TestHandleMessage(t *testing.T) {
	s := NewState()
	s.SetSpot(95000, t0)
	s.SetMarket(t0, "slug", "UPTOKEN", "DOWNTOKEN")
	f := NewPolymarketFeed("", s)
	f.now = func() time.Time { return t0.Add(time.Minute) }

	f.HandleMessage([]byte(`[
		{"event_type":"book","asset_id":"UPTOKEN","bids":[{"price":"0.54","size":"100"}],"asks":[{"price":"0.55","size":"200"}]},
		{"event_type":"book","asset_id":"DOWNTOKEN","bids":[{"price":"0.44","size":"100"}],"asks":[{"price":"0.46","size":"100"}]},
		{"event_type":"book","asset_id":"OTHER","bids":[{"price":"0.10","size":"1"}],"asks":[]}
	]`))
	up, _ := s.QuoteFor("UPTOKEN")
	if up.BestBid != 0.54 || up.BestAsk != 0.55 || up.AskLiquidity != 110 {
		t.Fatalf("up after snapshot = %+v", up)
	}

	f.HandleMessage([]byte(`{"market":"0x1","price_changes":[{"asset_id":"DOWNTOKEN","best_bid":"0.45"},{"asset_id":"UPTOKEN","best_ask":"0.56"}]}`))
	down, _ := s.QuoteFor("DOWNTOKEN")
	if down.BestBid != 0.45 || down.BestAsk != 0.46 || down.AskLiquidity != 46 {
		t.Errorf("down after change = %+v", down)
	}
	up, _ = s.QuoteFor("UPTOKEN")
	if up.BestAsk != 0.56 || up.BestBid != 0.54 {
		t.Errorf("up after change = %+v", up)
	}

	// garbage is ignored
	f.HandleMessage([]byte(`PONG`))
	f.HandleMessage(nil)
}

func TestParseGammaEvents(t *testing.T) {
	body := []byte(`[{"markets":[{"conditionId":"0xc","clobTokenIds":"[\"111\",\"222\"]","outcomes":"[\"Down\",\"Up\"]"}]}]`)
	m, err := parseGammaEvents(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.UpToken != "222" || m.DownToken != "111" || m.ConditionID != "0xc" {
		t.Errorf("market = %+v", m)
	}

	bad := []string{
		`[]`,
		`[{"markets":[]}]`,
		`[{"markets":[{"clobTokenIds":"[\"1\"]","outcomes":"[\"Up\"]"}]}]`,
		`[{"markets":[{"clobTokenIds":"nope","outcomes":"[\"Up\",\"Down\"]"}]}]`,
	}
	for _, b := range bad {
		if _, err := parseGammaEvents([]byte(b)); err == nil {
			t.Errorf("expected error for %s", b)
		}
	}
}

func TestScannerDiscoversAndSeedsBooks(t *testing.T) {
	window := t0
	end := window.Add(WindowLength).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			if r.URL.Query().Get("slug") != fmt.Sprintf("btc-updown-15m-%d", end) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, `[{"markets":[{"conditionId":"0xc","clobTokenIds":"[\"U\",\"D\"]","outcomes":"[\"Up\",\"Down\"]"}]}]`)
		case "/book":
			if r.URL.Query().Get("token_id") == "U" {
				fmt.Fprint(w, `{"asset_id":"U","bids":[{"price":"0.60","size":"100"}],"asks":[{"price":"0.62","size":"100"}]}`)
				return
			}
			fmt.Fprint(w, `{"asset_id":"D","bids":[{"price":"0.37","size":"100"}],"asks":[{"price":"0.39","size":"100"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewState()
	s.SetSpot(95000, window.Add(30*time.Second))
	sc := NewWindowScanner(srv.URL, srv.URL, "btc-updown-15m", time.Second, s)
	sc.now = func() time.Time { return window.Add(31 * time.Second) }

	sc.scan(context.Background())

	v := s.Snapshot()
	if v.UpToken != "U" || v.DownToken != "D" {
		t.Fatalf("tokens = %q/%q", v.UpToken, v.DownToken)
	}
	if v.Up.BestAsk != 0.62 || v.Down.BestBid != 0.37 {
		t.Errorf("books not seeded: up %+v down %+v", v.Up, v.Down)
	}
}

func TestBinanceFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/price":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"95123.45000000"}`)
		case "/api/v3/klines":
			fmt.Fprint(w, `[[1700000000000,"95000.10","95100.00","94900.00","95050.00","12.3",1700000059999]]`)
		}
	}))
	defer srv.Close()

	s := NewState()
	f := NewBinanceFeed(srv.URL, "BTCUSDT", time.Second, time.Second, s)
	f.now = func() time.Time { return t0.Add(2 * time.Minute) }

	f.poll(context.Background())
	v := s.Snapshot()
	if v.Spot != 95123.45 || v.Open != 95000.10 {
		t.Errorf("spot/open = %v/%v", v.Spot, v.Open)
	}
	if !v.Window.Equal(t0) {
		t.Errorf("window = %s", v.Window)
	}
}
