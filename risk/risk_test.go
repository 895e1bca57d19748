package risk

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/types"
)

func testSizer() *Sizer {
	return NewSizer(SizerConfig{
		KellyFraction:       0.25,
		MaxBetPct:           0.10,
		MinBetUSDC:          1,
		MaxBetUSDC:          50,
		LossReductionFactor: 0.75,
		Multipliers:         model.ConfidenceTable[float64]{0, 0.3, 0.6, 1.0},
	})
}

func TestKellyFraction(t *testing.T) {
	if k := KellyFraction(0.5, 0); k != 0 {
		t.Errorf("zero edge should give zero kelly, got %f", k)
	}
	if k := KellyFraction(0.5, -0.2); k != 0 {
		t.Errorf("negative edge should clamp to zero, got %f", k)
	}
	// p=0.5, edge=0.2 -> p'=0.6, b=1 -> kelly=0.2
	if k := KellyFraction(0.5, 0.2); math.Abs(k-0.2) > 1e-9 {
		t.Errorf("KellyFraction(0.5, 0.2) = %f, want 0.2", k)
	}
	if k := KellyFraction(0, 0.5); k != 0 {
		t.Errorf("price 0 must size to zero, got %f", k)
	}
	if k := KellyFraction(1, 0.5); k != 0 {
		t.Errorf("price 1 must size to zero, got %f", k)
	}
}

func TestSizeMonotonicInEdge(t *testing.T) {
	s := testSizer()
	prev := -1.0
	for edge := 0.0; edge <= 0.6; edge += 0.02 {
		got := s.Size(0.40, edge, model.Strong, 1000, 0, 0)
		if got < prev {
			t.Fatalf("size decreased at edge %.2f: %f < %f", edge, got, prev)
		}
		prev = got
	}
}

func TestSizeCaps(t *testing.T) {
	s := testSizer()

	// kelly 0.75 * 0.25 of 1000 = 187.5, cut to pct cap 100 then max bet 50
	if got := s.Size(0.20, 3, model.Strong, 1000, 0, 0); got != 50 {
		t.Errorf("global max cap: got %f, want 50", got)
	}
	if got := s.Size(0.20, 3, model.Strong, 200, 0, 0); got != 20 {
		t.Errorf("pct cap: got %f, want 20", got)
	}
	if got := s.Size(0.20, 3, model.Strong, 1000, 0, 5); got != 5 {
		t.Errorf("strategy cap: got %f, want 5", got)
	}
	if got := s.Size(0.20, 3, model.Unreliable, 1000, 0, 0); got != 0 {
		t.Errorf("unreliable multiplier 0 should not bet, got %f", got)
	}
	if got := s.Size(0.20, 3, model.Strong, 0, 0, 0); got != 0 {
		t.Errorf("empty bankroll: got %f", got)
	}
}

func TestSizeLossStreakDecay(t *testing.T) {
	s := testSizer()
	base := s.Size(0.50, 0.2, model.Strong, 1000, 0, 0)
	one := s.Size(0.50, 0.2, model.Strong, 1000, 1, 0)
	two := s.Size(0.50, 0.2, model.Strong, 1000, 2, 0)

	// 1000 * 0.2 * 0.25 = 50, under every cap
	if base != 50 {
		t.Fatalf("base = %f, want 50", base)
	}
	if math.Abs(one-37.5) > 0.01 || math.Abs(two-28.12) > 0.01 {
		t.Errorf("decay = %f, %f; want 37.50, 28.12", one, two)
	}
}

func TestAccountStreaks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAccount(100, 2)

	a.RecordResult(-30, now)
	a.RecordResult(-5, now)
	s := a.Snapshot(now)
	if s.ConsecutiveLosses != 2 || s.Bankroll != 65 || s.PeriodPnL != -35 {
		t.Fatalf("after two losses: %+v", s)
	}

	a.RecordResult(10, now)
	s = a.Snapshot(now)
	if s.ConsecutiveLosses != 0 || s.ConsecutiveWins != 1 {
		t.Errorf("win must reset loss streak: %+v", s)
	}
	if s.Bankroll != 75 {
		t.Errorf("bankroll = %f, want 75", s.Bankroll)
	}
}

func TestAccountPeriodReset(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	a := NewAccount(100, 2)

	a.RecordResult(-20, day1)
	if s := a.Snapshot(day1); s.PeriodPnL != -20 {
		t.Fatalf("PeriodPnL = %f", s.PeriodPnL)
	}
	s := a.Snapshot(day2)
	if s.PeriodPnL != 0 {
		t.Errorf("PeriodPnL after UTC midnight = %f, want 0", s.PeriodPnL)
	}
	if s.Bankroll != 80 || s.ConsecutiveLosses != 1 {
		t.Errorf("bankroll and streak survive the period reset: %+v", s)
	}
}

func TestAccountWindowCounters(t *testing.T) {
	now := time.Now()
	a := NewAccount(100, 2)
	a.RecordBet(types.Terminal, now)
	a.RecordBet(types.Exit, now)
	a.RecordBet(types.Exit, now)

	s := a.Snapshot(now)
	if s.WindowBets[types.Terminal] != 1 || s.WindowBets[types.Exit] != 2 || s.WindowBets.Total() != 3 {
		t.Fatalf("WindowBets = %v", s.WindowBets)
	}
	if !s.LastBet[types.Exit].Equal(now) {
		t.Errorf("LastBet not stamped")
	}

	w := now.Truncate(15 * time.Minute)
	a.ResetWindow(w)
	s = a.Snapshot(now)
	if s.WindowBets.Total() != 0 || !s.Window.Equal(w) {
		t.Errorf("after reset: %+v", s)
	}
	if s.LastBet[types.Exit].IsZero() {
		t.Errorf("window reset must not clear cooldown stamps")
	}
}

func TestGate(t *testing.T) {
	g := NewGate(Limits{
		MaxOpenPositions:  2,
		MaxBetsPerWindow:  3,
		DailyLossLimitPct: 0.10,
		PerKind:           KindCount{1, 5},
	})

	s := AccountSnapshot{Bankroll: 100}
	if r := g.CheckCeilings(s, 0, types.StrategyKinds); r != "" {
		t.Errorf("fresh account blocked: %s", r)
	}
	if r := g.CheckCeilings(s, 2, types.StrategyKinds); !strings.Contains(r, "open positions") {
		t.Errorf("open position ceiling: %q", r)
	}

	s.WindowBets = KindCount{1, 0}
	if r := g.CheckCeilings(s, 0, []types.StrategyKind{types.Terminal}); r == "" {
		t.Error("terminal budget used, terminal-only tick should block")
	}
	if r := g.CheckCeilings(s, 0, types.StrategyKinds); r != "" {
		t.Errorf("exit still has budget: %q", r)
	}
	s.WindowBets = KindCount{1, 2}
	if r := g.CheckCeilings(s, 0, types.StrategyKinds); !strings.Contains(r, "window bets") {
		t.Errorf("window ceiling: %q", r)
	}

	s = AccountSnapshot{Bankroll: 100, PeriodPnL: -9.99}
	if r := g.CheckDailyLoss(s); r != "" {
		t.Errorf("under limit blocked: %q", r)
	}
	s.PeriodPnL = -10.5
	if r := g.CheckDailyLoss(s); r == "" {
		t.Error("loss at limit must block")
	}
	s.PeriodPnL = 50
	if r := g.CheckDailyLoss(s); r != "" {
		t.Errorf("profit blocked: %q", r)
	}
}

func TestCooldowns(t *testing.T) {
	c := Cooldowns{PerKind: [2]time.Duration{30 * time.Second, 10 * time.Second}, Global: 15 * time.Second}
	now := time.Now()

	if d := c.Remaining(types.Terminal, time.Time{}, now); d != 0 {
		t.Errorf("never bet: remaining %v", d)
	}
	if d := c.Remaining(types.Terminal, now.Add(-20*time.Second), now); d != 10*time.Second {
		t.Errorf("terminal remaining = %v, want 10s", d)
	}
	// exit cooldown 10s is raised to the 15s global floor
	if d := c.Remaining(types.Exit, now.Add(-12*time.Second), now); d != 3*time.Second {
		t.Errorf("exit remaining = %v, want 3s", d)
	}
	if d := c.Remaining(types.Exit, now.Add(-time.Minute), now); d != 0 {
		t.Errorf("expired cooldown = %v", d)
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(2, time.Minute)
	boom := errors.New("gateway 502")

	cb.RecordError(boom, now)
	if !cb.Allow(now) {
		t.Fatal("one error should not trip")
	}
	cb.RecordSuccess()
	cb.RecordError(boom, now)
	if !cb.Allow(now) {
		t.Fatal("success resets the streak")
	}
	cb.RecordError(boom, now)
	if cb.Allow(now.Add(30 * time.Second)) {
		t.Fatal("breaker should be open")
	}
	if !cb.Allow(now.Add(61 * time.Second)) {
		t.Fatal("breaker should close after cooldown")
	}
	if n, tripped, last := cb.GetStats(); n != 0 || tripped || last != "gateway 502" {
		t.Errorf("stats = %d %v %q", n, tripped, last)
	}
}

func TestTakeProfit(t *testing.T) {
	tp := NewTakeProfit(true, []TakeProfitTier{
		{MaxSeconds: 900, ProfitPct: 0.15},
		{MaxSeconds: 300, ProfitPct: 0.50},
		{MaxSeconds: 600, ProfitPct: 0.30},
	})

	if ok, _ := tp.CheckExit(0.40, 0.55, 100); ok {
		t.Error("+37% early should not hit the +50% tier")
	}
	if ok, _ := tp.CheckExit(0.40, 0.61, 100); !ok {
		t.Error("+52% early should exit")
	}
	if ok, _ := tp.CheckExit(0.40, 0.47, 700); !ok {
		t.Error("+17.5% late should hit the +15% tier")
	}

	off := NewTakeProfit(false, nil)
	if ok, _ := off.CheckExit(0.40, 0.99, 800); ok {
		t.Error("disabled schedule must never exit")
	}
}
