package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT - Bankroll, period P&L, streaks and per-window counters
// ═══════════════════════════════════════════════════════════════════════════════
//
// Single writer: only the lifecycle manager mutates an Account. Everyone
// else (decision engine, Telegram, metrics) reads a Snapshot copy.
//
// The accounting period is the UTC calendar day.
//
// ═══════════════════════════════════════════════════════════════════════════════

// KindCount holds one value per strategy kind
type KindCount [2]int

// Total sums every kind
func (k KindCount) Total() int {
	return k[types.Terminal] + k[types.Exit]
}

// AccountSnapshot is an immutable copy of the account.
type AccountSnapshot struct {
	Bankroll          float64
	PeriodPnL         float64
	PeriodStart       time.Time
	ConsecutiveLosses int
	ConsecutiveWins   int
	WindowBets        KindCount
	LastBet           [2]time.Time
	Window            time.Time
}

type Account struct {
	mu sync.RWMutex

	bankroll          float64
	periodPnL         float64
	periodStart       time.Time
	consecutiveLosses int
	consecutiveWins   int
	winsToReset       int

	windowBets KindCount
	lastBet    [2]time.Time
	window     time.Time
}

// NewAccount creates the account with a seed bankroll
func NewAccount(bankroll float64, winsToReset int) *Account {
	log.Info().
		Float64("bankroll", bankroll).
		Msg("🛡️ Account initialized")
	return &Account{bankroll: bankroll, winsToReset: winsToReset}
}

// Snapshot rolls the period if the UTC day changed and returns a copy
func (a *Account) Snapshot(now time.Time) AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkPeriodReset(now)
	return AccountSnapshot{
		Bankroll:          a.bankroll,
		PeriodPnL:         a.periodPnL,
		PeriodStart:       a.periodStart,
		ConsecutiveLosses: a.consecutiveLosses,
		ConsecutiveWins:   a.consecutiveWins,
		WindowBets:        a.windowBets,
		LastBet:           a.lastBet,
		Window:            a.window,
	}
}

// RecordBet counts an entry fill against the kind's window budget
func (a *Account) RecordBet(kind types.StrategyKind, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowBets[kind]++
	a.lastBet[kind] = now
}

// StampCooldown restarts the kind's cooldown without using a bet
func (a *Account) StampCooldown(kind types.StrategyKind, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastBet[kind] = now
}

// RecordResult books realized P&L and updates the streaks.
func (a *Account) RecordResult(pnl float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkPeriodReset(now)

	a.bankroll += pnl
	a.periodPnL += pnl

	switch {
	case pnl > 0:
		a.consecutiveWins++
		if a.consecutiveLosses > 0 {
			log.Info().
				Int("losses", a.consecutiveLosses).
				Msg("✅ Win resets loss streak")
		}
		a.consecutiveLosses = 0
		if a.winsToReset > 0 && a.consecutiveWins == a.winsToReset {
			log.Info().Int("wins", a.consecutiveWins).Msg("🔥 Win streak, sizing back to full")
		}
	case pnl < 0:
		a.consecutiveLosses++
		a.consecutiveWins = 0
		log.Warn().
			Float64("loss", -pnl).
			Int("consecutive_losses", a.consecutiveLosses).
			Msg("📉 Loss recorded")
	}
}

// ResetWindow zeroes per-window counters and tags the new window
func (a *Account) ResetWindow(window time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowBets = KindCount{}
	a.window = window
}

// Window returns the current window start
func (a *Account) Window() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window
}

// Bankroll returns the current bankroll
func (a *Account) Bankroll() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bankroll
}

// checkPeriodReset resets period P&L at the UTC day boundary
func (a *Account) checkPeriodReset(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if a.periodStart.Equal(day) {
		return
	}
	if !a.periodStart.IsZero() {
		log.Info().
			Float64("period_pnl", a.periodPnL).
			Msg("📅 Daily stats reset")
	}
	a.periodPnL = 0
	a.periodStart = day
}
