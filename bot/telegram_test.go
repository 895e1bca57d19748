package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/windowbot/core"
	"github.com/web3guy0/windowbot/feeds"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/storage"
	"github.com/web3guy0/windowbot/types"
)

type fakeController struct {
	paused bool
	resets int
	status core.Status
	trades []types.TradeRecord
}

func (c *fakeController) Pause()        { c.paused = true }
func (c *fakeController) Resume()       { c.paused = false }
func (c *fakeController) ResetBreaker() { c.resets++ }

func (c *fakeController) Status() core.Status {
	s := c.status
	s.Paused = c.paused
	return s
}

func (c *fakeController) RecentTrades(limit int) []types.TradeRecord {
	if limit < len(c.trades) {
		return c.trades[:limit]
	}
	return c.trades
}

type fakeHistory struct {
	stats    storage.Stats
	outcomes []storage.WindowOutcome
	err      error
}

func (h *fakeHistory) Stats(context.Context) (storage.Stats, error) { return h.stats, h.err }

func (h *fakeHistory) Outcomes(context.Context, time.Time) ([]storage.WindowOutcome, error) {
	return h.outcomes, h.err
}

type fakeSender struct {
	sent []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

var now = time.Date(2026, 3, 2, 10, 7, 30, 0, time.UTC)

func testBot(ctrl *fakeController, history History) (*TelegramBot, *fakeSender) {
	out := &fakeSender{}
	b := newBot(out, 42, ctrl, history)
	b.now = func() time.Time { return now }
	return b, out
}

func TestPauseResumeAndReset(t *testing.T) {
	ctrl := &fakeController{status: core.Status{Mode: "paper"}}
	b, _ := testBot(ctrl, nil)
	ctx := context.Background()

	if reply := b.handleCommand(ctx, "pause"); !strings.Contains(reply, "paused") || !ctrl.paused {
		t.Fatalf("pause: %q paused=%v", reply, ctrl.paused)
	}
	if reply := b.cmdStatus(); !strings.Contains(reply, "PAUSED") {
		t.Errorf("status while paused = %q", reply)
	}
	b.handleCommand(ctx, "RESUME")
	if ctrl.paused {
		t.Error("resume did not clear pause")
	}
	b.handleCommand(ctx, "reset")
	if ctrl.resets != 1 {
		t.Errorf("resets = %d", ctrl.resets)
	}
	if reply := b.handleCommand(ctx, "bogus"); !strings.Contains(reply, "Unknown") {
		t.Errorf("unknown command reply = %q", reply)
	}
}

func TestStatusShowsMarket(t *testing.T) {
	window := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctrl := &fakeController{status: core.Status{
		Mode:    "live",
		Account: risk.AccountSnapshot{Bankroll: 123.45, PeriodPnL: -4.5, WindowBets: risk.KindCount{1, 0}},
		View: feeds.View{
			Window: window, Open: 95000, Spot: 95025,
			UpToken: "u", DownToken: "d",
			Up:   types.Quote{BestBid: 0.54, BestAsk: 0.55},
			Down: types.Quote{BestBid: 0.44, BestAsk: 0.45},
		},
		Elapsed: 450,
		Tripped: true,
		LastErr: "timeout",
	}}
	b, _ := testBot(ctrl, nil)

	reply := b.cmdStatus()
	for _, want := range []string{"BREAKER OPEN", "LIVE", "$123.45", "-$4.50", "+$25.00", "450s", "UP 54/55¢", "timeout"} {
		if !strings.Contains(reply, want) {
			t.Errorf("status missing %q:\n%s", want, reply)
		}
	}
}

func TestPositionsAndTrades(t *testing.T) {
	ctrl := &fakeController{}
	b, _ := testBot(ctrl, nil)

	if reply := b.cmdPositions(); !strings.Contains(reply, "No open positions") {
		t.Errorf("empty positions = %q", reply)
	}
	if reply := b.cmdTrades(); !strings.Contains(reply, "No trade history") {
		t.Errorf("empty trades = %q", reply)
	}

	ctrl.status.Positions = []types.Position{{
		ID: "p1", Direction: types.Down, Strategy: types.Exit,
		EntryPrice: 0.40, Cost: 10, ExitTarget: 0.62, ExitPending: true,
		OpenedAt: now.Add(-90 * time.Second),
	}}
	ctrl.status.View.Down = types.Quote{BestBid: 0.47}
	reply := b.cmdPositions()
	for _, want := range []string{"DOWN", "EXIT", "exit pending", "40.0¢", "47.0¢", "62¢", "1m30s"} {
		if !strings.Contains(reply, want) {
			t.Errorf("positions missing %q:\n%s", want, reply)
		}
	}

	ctrl.trades = []types.TradeRecord{
		{Action: "SETTLE", Direction: "UP", Strategy: "TERMINAL", Price: 1, PnL: 7.25, Timestamp: now},
		{Action: "OPEN", Direction: "UP", Strategy: "TERMINAL", Price: 0.55, Timestamp: now},
	}
	reply = b.cmdTrades()
	if !strings.Contains(reply, "SETTLE UP TERMINAL @ 100.0¢ | P&L: +$7.25") {
		t.Errorf("trades = %q", reply)
	}
	if strings.Count(reply, "P&L") != 1 {
		t.Errorf("open events must not show P&L:\n%s", reply)
	}
}

func TestStatsAndWindows(t *testing.T) {
	b, _ := testBot(&fakeController{}, nil)
	if reply := b.handleCommand(context.Background(), "stats"); !strings.Contains(reply, "no database") {
		t.Errorf("stats without history = %q", reply)
	}

	h := &fakeHistory{
		stats: storage.Stats{Settled: 4, Wins: 3, Losses: 1, TotalPnL: decimal.NewFromFloat(12.5), Attempts: 6, Rejected: 2},
		outcomes: []storage.WindowOutcome{{
			WindowStart:    time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC),
			Outcome:        "DOWN",
			PriceChangePct: decimal.NewFromFloat(-0.125),
		}},
	}
	b, _ = testBot(&fakeController{}, h)
	reply := b.handleCommand(context.Background(), "stats")
	for _, want := range []string{"75.0%", "+$12.50", "rejected 2"} {
		if !strings.Contains(reply, want) {
			t.Errorf("stats missing %q:\n%s", want, reply)
		}
	}
	if reply := b.handleCommand(context.Background(), "windows"); !strings.Contains(reply, "🔴 09:45 DOWN -0.125%") {
		t.Errorf("windows = %q", reply)
	}

	h.err = errors.New("db down")
	if reply := b.handleCommand(context.Background(), "stats"); !strings.Contains(reply, "Failed") {
		t.Errorf("stats error = %q", reply)
	}
}

func TestNotificationsQueueAndFlush(t *testing.T) {
	b, out := testBot(&fakeController{}, nil)

	b.NotifyTrade(types.TradeRecord{Action: "OPEN", Direction: "UP", Strategy: "TERMINAL", Price: 0.55, Shares: 18.18})
	b.NotifyTrade(types.TradeRecord{Action: "DISCARD", Direction: "UP", Strategy: "TERMINAL", PnL: -10})
	if len(out.sent) != 0 {
		t.Fatal("notifications must not be sent from the caller's goroutine")
	}
	b.flush()
	if len(out.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(out.sent))
	}
	if !strings.Contains(out.sent[0], "POSITION OPENED") || strings.Contains(out.sent[0], "P&L") {
		t.Errorf("open alert = %q", out.sent[0])
	}
	if !strings.Contains(out.sent[1], "WRITTEN OFF") || !strings.Contains(out.sent[1], "-$10.00") {
		t.Errorf("discard alert = %q", out.sent[1])
	}

	for i := 0; i < outboxSize+5; i++ {
		b.NotifyError(errors.New("boom"))
	}
	if len(b.outbox) != outboxSize {
		t.Errorf("outbox = %d, want capped at %d", len(b.outbox), outboxSize)
	}
}
