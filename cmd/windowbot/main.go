package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/windowbot/bot"
	"github.com/web3guy0/windowbot/coord"
	"github.com/web3guy0/windowbot/core"
	"github.com/web3guy0/windowbot/exec"
	"github.com/web3guy0/windowbot/feeds"
	"github.com/web3guy0/windowbot/internal/config"
	"github.com/web3guy0/windowbot/metrics"
	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/risk"
	"github.com/web3guy0/windowbot/storage"
	"github.com/web3guy0/windowbot/strategy"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	mode := "live"
	if cfg.DryRun {
		mode = "paper"
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("           WINDOWBOT - 15 MINUTE BTC UP/DOWN WINDOWS")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage (audit trail, optional matrix source)
	db, err := storage.Open(cfg.Secrets.DatabaseURL)
	if err != nil {
		if cfg.Model.Source == "db" {
			log.Fatal().Err(err).Msg("Database required for model.source=db")
		}
		log.Warn().Err(err).Msg("Database connection failed, continuing without persistence")
	}
	var recorder *storage.Recorder
	if db != nil {
		defer db.Close()
		recorder = storage.NewRecorder(db, cfg.Storage.BufferSize)
		log.Info().Msg("✅ Storage layer initialized")
	}

	// 2. Probability model; the bot never trades without one
	models, err := loadModels(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load probability model")
	}
	log.Info().
		Int("windows", models.Matrix.TotalWindows).
		Int("cells", models.Matrix.PopulatedCells()).
		Msg("✅ Probability model loaded")

	// 3. Coordination
	var (
		leaser coord.Leaser = coord.NewMemoryLeaser()
		mirror coord.Mirror = coord.NopMirror{}
		queued *coord.AsyncMirror
	)
	if cfg.Secrets.RedisURL != "" {
		rdb, err := coord.Connect(ctx, cfg.Secrets.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer rdb.Close()
		leaser = coord.NewRedisLeaser(rdb, cfg.Coordination.KeyPrefix)
		shared := coord.NewRedisMirror(rdb, cfg.Coordination.KeyPrefix)
		queued = coord.NewAsyncMirror(shared, cfg.Storage.BufferSize)
		mirror = queued
		log.Info().Msg("✅ Redis coordination enabled")

		// positions from other instances or a crashed session are not adopted
		if n, err := shared.PositionCount(ctx); err == nil && n > 0 {
			log.Warn().Int64("count", n).Msg("⚠️ Found mirrored positions owned elsewhere or by a previous session")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, lease is process-local")
	}

	// 4. Market state and feeds
	state := feeds.NewState()
	binance := feeds.NewBinanceFeed(cfg.Endpoints.BinanceURL, cfg.Endpoints.Symbol,
		cfg.Polling.PriceFetch, cfg.Polling.RequestTimeout, state)
	scanner := feeds.NewWindowScanner(cfg.Endpoints.GammaURL, cfg.Endpoints.CLOBURL,
		cfg.Markets.SlugPrefix, cfg.Polling.RequestTimeout, state)
	books := feeds.NewPolymarketFeed(cfg.Endpoints.WSURL, state)
	log.Info().Msg("✅ Market feeds initialized")

	// 5. Execution
	bankroll, _ := cfg.Bankroll.Float64()
	var gateway exec.Gateway
	if cfg.DryRun {
		gateway = exec.NewPaper(state)
	} else {
		client, err := exec.NewClient(exec.ClientConfig{
			BaseURL:       cfg.Endpoints.CLOBURL,
			PrivateKey:    cfg.Secrets.PrivateKey,
			FunderAddress: cfg.Secrets.FunderAddress,
			SignatureType: cfg.Secrets.SignatureType,
			APIKey:        cfg.Secrets.APIKey,
			APISecret:     cfg.Secrets.APISecret,
			Passphrase:    cfg.Secrets.APIPassphrase,
			OrdersPerSec:  cfg.Execution.OrdersPerSec,
			Timeout:       cfg.Execution.SubmitTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize executor")
		}
		balCtx, cancel := context.WithTimeout(ctx, cfg.Polling.RequestTimeout)
		if bal, err := client.GetBalance(balCtx); err == nil && bal.IsPositive() {
			bankroll, _ = bal.Float64()
			log.Info().Str("balance", bal.StringFixed(2)).Msg("💰 Bankroll seeded from wallet balance")
		} else if err != nil {
			log.Warn().Err(err).Msg("Balance fetch failed, using BANKROLL")
		}
		cancel()
		gateway = client
	}
	log.Info().Str("mode", mode).Msg("✅ Execution layer initialized")

	// 6. Risk and decisions
	account := risk.NewAccount(bankroll, cfg.Risk.ConsecutiveWinsToReset)
	metrics.Bankroll.Set(bankroll)
	decider, err := strategy.NewEngine(
		strategy.ConfigFrom(cfg),
		models,
		risk.NewSizer(strategy.SizerConfigFrom(cfg)),
		risk.NewGate(strategy.LimitsFrom(cfg)),
		strategy.TakeProfitFrom(cfg),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build decision engine")
	}
	breaker := risk.NewCircuitBreaker(cfg.Breaker.MaxConsecutiveErrors, cfg.Breaker.Pause)

	// 7. Lifecycle and loop
	life := core.NewLifecycle(account, strategy.CooldownsFrom(cfg), mirror, recorder)
	engine := core.NewEngine(core.EngineConfig{
		Interval:       cfg.Polling.Interval,
		SubmitTimeout:  cfg.Execution.SubmitTimeout,
		LeaseTTL:       cfg.Coordination.LeaseTTL,
		Resource:       cfg.Coordination.Resource,
		MaxSlippagePct: cfg.Execution.MaxSlippagePct,
		OrderType:      cfg.Execution.OrderType,
		Mode:           mode,
		LogSkipped:     cfg.Logging.LogSkippedOpportunities,
		LogCooldown:    time.Duration(cfg.Cooldown.LogCooldownSeconds) * time.Second,
	}, state, decider, life, gateway, leaser, breaker, recorder)
	log.Info().Msg("✅ Core engine initialized")

	// 8. Telegram (optional)
	var telegram *bot.TelegramBot
	if cfg.Secrets.TelegramToken != "" {
		var history bot.History
		if db != nil {
			history = db
		}
		telegram, err = bot.NewTelegramBot(cfg.Secrets.TelegramToken, cfg.Secrets.TelegramChatID, engine, history)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
			telegram = nil
		} else {
			life.SetNotifier(telegram)
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	// the recorder and mirror outlive the group so the last writes still land
	recCtx, stopRecorder := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		if recorder != nil {
			recorder.Run(recCtx)
		}
	}()
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		if queued != nil {
			queued.Run(recCtx)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return binance.Run(gctx) })
	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return books.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	if telegram != nil {
		g.Go(func() error { return telegram.Run(gctx) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen) })
	}

	log.Info().Str("mode", mode).Float64("bankroll", bankroll).Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Task failed")
	}
	log.Info().Msg("🛑 Shutting down...")

	stopRecorder()
	<-recDone
	<-mirrorDone

	s := engine.Status()
	log.Info().
		Float64("bankroll", s.Account.Bankroll).
		Float64("period_pnl", s.Account.PeriodPnL).
		Int("open_positions", len(s.Positions)).
		Uint64("audit_dropped", s.AuditDrops).
		Msg("👋 Goodbye!")
}

// loadModels reads the primary matrix from the configured source plus the
// optional crossing and passage models from disk
func loadModels(ctx context.Context, cfg *config.Config, db *storage.Database) (strategy.Models, error) {
	var (
		models strategy.Models
		err    error
	)
	switch cfg.Model.Source {
	case "db":
		models.Matrix, err = db.LoadActiveMatrix(ctx)
	default:
		models.Matrix, err = model.LoadMatrixFile(cfg.Model.MatrixPath)
	}
	if err != nil {
		return models, err
	}

	if cfg.Model.CrossingPath != "" {
		if c, err := model.LoadCrossingFile(cfg.Model.CrossingPath); err == nil {
			models.Crossing = c
		} else {
			log.Warn().Err(err).Msg("Crossing model unavailable")
		}
	}
	if cfg.Model.PassagePath != "" {
		if p, err := model.LoadPassageFile(cfg.Model.PassagePath); err == nil {
			models.Passage = p
		} else {
			log.Warn().Err(err).Msg("Passage model unavailable")
		}
	}
	return models, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("📈 Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
