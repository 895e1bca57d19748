package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/core"
	"github.com/web3guy0/windowbot/storage"
	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Trade notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   💰 Trade notifications (open/exit/settle)
//   🎛️ Control commands (/pause, /resume, /reset)
//   📊 Read-only views (/status, /positions, /trades, /stats, /windows)
//
// Notifications are queued and sent from Run, never from the trading loop.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	outboxSize   = 32
	recentLimit  = 10
	windowsLimit = 8
)

// Controller is the engine surface the bot drives
type Controller interface {
	Pause()
	Resume()
	Status() core.Status
	ResetBreaker()
	RecentTrades(limit int) []types.TradeRecord
}

// History is the persisted audit trail; optional
type History interface {
	Stats(ctx context.Context) (storage.Stats, error)
	Outcomes(ctx context.Context, since time.Time) ([]storage.WindowOutcome, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	api     *tgbotapi.BotAPI
	out     sender
	chatID  int64
	ctrl    Controller
	history History
	outbox  chan string
	now     func() time.Time
}

// NewTelegramBot connects with the bot token. history may be nil.
func NewTelegramBot(token string, chatID int64, ctrl Controller, history History) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, chatID, ctrl, history)
	b.api = api
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

func newBot(out sender, chatID int64, ctrl Controller, history History) *TelegramBot {
	return &TelegramBot{
		out:     out,
		chatID:  chatID,
		ctrl:    ctrl,
		history: history,
		outbox:  make(chan string, outboxSize),
		now:     time.Now,
	}
}

// Run serves commands and flushes notifications until ctx ends
func (b *TelegramBot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	log.Info().Msg("📱 Telegram bot started")
	b.NotifyStartup()

	for {
		select {
		case <-ctx.Done():
			b.flush()
			log.Info().Msg("Telegram bot stopped")
			return nil
		case text := <-b.outbox:
			b.sendMarkdown(text)
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.sendMarkdown(b.handleCommand(ctx, update.Message.Command()))
		}
	}
}

func (b *TelegramBot) flush() {
	for {
		select {
		case text := <-b.outbox:
			b.sendMarkdown(text)
		default:
			return
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyTrade queues a trade alert; dropped when the outbox is full
func (b *TelegramBot) NotifyTrade(rec types.TradeRecord) {
	b.enqueue(formatTrade(rec))
}

// NotifyStartup announces the bot and its mode
func (b *TelegramBot) NotifyStartup() {
	s := b.ctrl.Status()
	b.enqueue(fmt.Sprintf(`🚀 *WINDOWBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💰 Bankroll: *$%.2f*
⏱️ Windows: *15m BTC up/down*

Use /help for commands`, strings.ToUpper(s.Mode), s.Account.Bankroll))
}

// NotifyError sends an error alert
func (b *TelegramBot) NotifyError(err error) {
	b.enqueue(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

func (b *TelegramBot) enqueue(text string) {
	select {
	case b.outbox <- text:
	default:
		log.Warn().Msg("Telegram outbox full, notification dropped")
	}
}

func formatTrade(rec types.TradeRecord) string {
	var emoji, title string
	switch rec.Action {
	case "OPEN":
		emoji, title = "✅", "POSITION OPENED"
	case "EXIT":
		emoji, title = "🏃", "POSITION SOLD"
	case "SETTLE":
		emoji, title = "🏁", "POSITION SETTLED"
	case "DISCARD":
		emoji, title = "🗑️", "POSITION WRITTEN OFF"
	default:
		emoji, title = "📌", rec.Action
	}

	msg := fmt.Sprintf(`%s *%s*

📊 %s [%s]
💵 Price: *%.1f¢*
📦 Shares: *%.2f*`,
		emoji, title,
		rec.Direction, rec.Strategy,
		rec.Price*100,
		rec.Shares,
	)
	if rec.Action != "OPEN" {
		msg += "\n" + pnlLine(rec.PnL)
	}
	return msg
}

func pnlLine(pnl float64) string {
	emoji := "📈"
	if pnl < 0 {
		emoji = "📉"
	}
	return fmt.Sprintf("%s P&L: *%s*", emoji, signed(pnl))
}

func signed(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) handleCommand(ctx context.Context, cmd string) string {
	switch strings.ToLower(cmd) {
	case "start", "help":
		return cmdHelp
	case "status":
		return b.cmdStatus()
	case "positions":
		return b.cmdPositions()
	case "trades":
		return b.cmdTrades()
	case "stats":
		return b.cmdStats(ctx)
	case "windows":
		return b.cmdWindows(ctx)
	case "pause":
		b.ctrl.Pause()
		log.Info().Msg("Trading paused via Telegram")
		return "⏸️ Entries paused, open positions are still managed"
	case "resume":
		b.ctrl.Resume()
		log.Info().Msg("Trading resumed via Telegram")
		return "▶️ Trading resumed"
	case "reset":
		b.ctrl.ResetBreaker()
		log.Info().Msg("Circuit breaker reset via Telegram")
		return "🔄 Circuit breaker reset"
	case "ping":
		return "🏓 Pong!"
	default:
		return "❓ Unknown command. Use /help"
	}
}

const cmdHelp = `🤖 *WINDOWBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status - Bot status
💼 /positions - Open positions
📜 /trades - Last 10 trade events
📈 /stats - Realized results
🕐 /windows - Recent window outcomes
⏸️ /pause - Pause entries
▶️ /resume - Resume entries
🔄 /reset - Reset circuit breaker
🏓 /ping - Test connection`

func (b *TelegramBot) cmdStatus() string {
	s := b.ctrl.Status()

	state := "🟢 RUNNING"
	switch {
	case s.Tripped:
		state = "🚨 BREAKER OPEN"
	case s.Paused:
		state = "⏸️ PAUSED"
	}

	market := "⏳ waiting for market data"
	if s.View.Ready() {
		market = fmt.Sprintf("₿ $%.2f (%s vs open) | %ds elapsed\n🟢 UP %.0f/%.0f¢ | 🔴 DOWN %.0f/%.0f¢",
			s.View.Spot, signed(s.View.Delta()), s.Elapsed,
			s.View.Up.BestBid*100, s.View.Up.BestAsk*100,
			s.View.Down.BestBid*100, s.View.Down.BestAsk*100)
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

%s
📊 Mode: *%s*
💰 Bankroll: *$%.2f*
📅 Today: *%s*
🎲 Window bets: *%d* | Open: *%d*
📉 Loss streak: *%d*

%s`,
		state,
		strings.ToUpper(s.Mode),
		s.Account.Bankroll,
		signed(s.Account.PeriodPnL),
		s.Account.WindowBets.Total(), len(s.Positions),
		s.Account.ConsecutiveLosses,
		market,
	)
	if s.LastErr != "" {
		msg += fmt.Sprintf("\n\n⚠️ Last error: `%s`", s.LastErr)
	}
	if s.AuditDrops > 0 {
		msg += fmt.Sprintf("\n🗃️ Audit records dropped: %d", s.AuditDrops)
	}
	return msg
}

func (b *TelegramBot) cmdPositions() string {
	s := b.ctrl.Status()
	if len(s.Positions) == 0 {
		return "📭 No open positions"
	}

	var sb strings.Builder
	sb.WriteString("💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	now := b.now()
	for _, pos := range s.Positions {
		sideEmoji := "🟢"
		if pos.Direction == types.Down {
			sideEmoji = "🔴"
		}
		target := "hold to settlement"
		if !pos.HoldsToSettlement() {
			target = fmt.Sprintf("%.0f¢", pos.ExitTarget*100)
		}
		bid := s.View.Up.BestBid
		if pos.Direction == types.Down {
			bid = s.View.Down.BestBid
		}
		pending := ""
		if pos.ExitPending {
			pending = " ⏳ exit pending"
		}
		fmt.Fprintf(&sb, "%s *%s* [%s]%s\n💵 Entry: %.1f¢ | Bid: %.1f¢ | $%.2f\n🎯 Target: %s\n⏱️ Open: %v\n\n",
			sideEmoji, pos.Direction, pos.Strategy, pending,
			pos.EntryPrice*100, bid*100, pos.Cost,
			target,
			now.Sub(pos.OpenedAt).Round(time.Second),
		)
	}
	return sb.String()
}

func (b *TelegramBot) cmdTrades() string {
	trades := b.ctrl.RecentTrades(recentLimit)
	if len(trades) == 0 {
		return "📭 No trade history yet"
	}

	var sb strings.Builder
	sb.WriteString("📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, t := range trades {
		pnl := ""
		if t.Action != "OPEN" {
			pnl = " | P&L: " + signed(t.PnL)
		}
		fmt.Fprintf(&sb, "%s %s %s @ %.1f¢%s\n   _%s_\n\n",
			t.Action, t.Direction, t.Strategy, t.Price*100, pnl,
			t.Timestamp.UTC().Format("Jan 2 15:04"))
	}
	return sb.String()
}

func (b *TelegramBot) cmdStats(ctx context.Context) string {
	if b.history == nil {
		return "❌ Stats not available (no database)"
	}
	s, err := b.history.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Stats query failed")
		return "❌ Failed to fetch stats"
	}

	winRate := 0.0
	if s.Settled > 0 {
		winRate = float64(s.Wins) / float64(s.Settled) * 100
	}
	pnl, _ := s.TotalPnL.Float64()
	return fmt.Sprintf(`📈 *TRADING STATS*
━━━━━━━━━━━━━━━━━━━━

📊 Closed positions: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Total P&L: *%s*
🧾 Attempts: *%d* (rejected %d)`,
		s.Settled, s.Wins, s.Losses, winRate,
		signed(pnl),
		s.Attempts, s.Rejected,
	)
}

func (b *TelegramBot) cmdWindows(ctx context.Context) string {
	if b.history == nil {
		return "❌ Window history not available (no database)"
	}
	since := b.now().Add(-time.Duration(windowsLimit) * 15 * time.Minute)
	outcomes, err := b.history.Outcomes(ctx, since)
	if err != nil {
		log.Error().Err(err).Msg("Outcome query failed")
		return "❌ Failed to fetch windows"
	}
	if len(outcomes) == 0 {
		return "📭 No resolved windows yet"
	}

	var sb strings.Builder
	sb.WriteString("🕐 *RECENT WINDOWS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, o := range outcomes {
		emoji := "🟢"
		if o.Outcome == types.Down.String() {
			emoji = "🔴"
		}
		pct, _ := o.PriceChangePct.Float64()
		fmt.Fprintf(&sb, "%s %s %s %+.3f%%\n", emoji, o.WindowStart.UTC().Format("15:04"), o.Outcome, pct)
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
