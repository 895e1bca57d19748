package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bot. Thresholds come from the YAML
// file, secrets and mode switches only from the environment.
type Config struct {
	Polling      PollingConfig      `yaml:"polling"`
	Edge         EdgeConfig         `yaml:"edge"`
	Betting      BettingConfig      `yaml:"betting"`
	Timing       TimingConfig       `yaml:"timing"`
	PriceFilters PriceFilterConfig  `yaml:"price_filters"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Risk         RiskConfig         `yaml:"risk"`
	Markets      MarketsConfig      `yaml:"markets"`
	Cooldown     CooldownConfig     `yaml:"cooldown"`
	Terminal     TerminalConfig     `yaml:"terminal_strategy"`
	Exit         ExitConfig         `yaml:"exit_strategy"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Model        ModelConfig        `yaml:"model"`
	Endpoints    EndpointsConfig    `yaml:"endpoints"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`

	// Mode
	DryRun   bool            `yaml:"-"`
	Debug    bool            `yaml:"-"`
	Bankroll decimal.Decimal `yaml:"-"`

	Secrets Secrets `yaml:"-"`
}

type PollingConfig struct {
	Interval       time.Duration `yaml:"interval" default:"500ms" validate:"gt=0"`
	PriceFetch     time.Duration `yaml:"price_fetch_interval" default:"1s" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"5s" validate:"gt=0"`
}

type EdgeConfig struct {
	MinEdgeStrong     float64 `yaml:"min_edge_strong" default:"0.05" validate:"gte=0"`
	MinEdgeModerate   float64 `yaml:"min_edge_moderate" default:"0.07" validate:"gte=0"`
	MinEdgeWeak       float64 `yaml:"min_edge_weak" default:"0.15" validate:"gte=0"`
	MinEdgeUnreliable float64 `yaml:"min_edge_unreliable" default:"0.30" validate:"gte=0"`
	AllowUnreliable   bool    `yaml:"allow_unreliable"`
}

type ConfidenceMultipliers struct {
	Strong   float64 `yaml:"strong" default:"1.0" validate:"gt=0,lte=1"`
	Moderate float64 `yaml:"moderate" default:"0.6" validate:"gt=0,lte=1"`
	Weak     float64 `yaml:"weak" default:"0.3" validate:"gt=0,lte=1"`
}

type BettingConfig struct {
	KellyFraction         float64               `yaml:"kelly_fraction" default:"0.25" validate:"gt=0,lte=1"`
	ConfidenceMultipliers ConfidenceMultipliers `yaml:"confidence_multipliers"`
	MaxBetPct             float64               `yaml:"max_bet_pct" default:"0.10" validate:"gt=0,lte=1"`
	MinBetUSDC            float64               `yaml:"min_bet_usdc" default:"1" validate:"gte=0"`
	MaxBetUSDC            float64               `yaml:"max_bet_usdc" default:"5" validate:"gtfield=MinBetUSDC"`
}

type TimingConfig struct {
	MinSecondsElapsed   int `yaml:"min_seconds_elapsed" default:"60" validate:"gte=0,lt=900"`
	MinSecondsRemaining int `yaml:"min_seconds_remaining" default:"300" validate:"gte=0,lt=900"`
	MinSamplesInBucket  int `yaml:"min_samples_in_bucket" default:"30" validate:"gte=0"`
}

type PriceFilterConfig struct {
	MaxPriceDelta     float64 `yaml:"max_price_delta" default:"500" validate:"gt=0"`
	MaxPriceChangePct float64 `yaml:"max_price_change_pct" default:"1.0" validate:"gt=0"`
}

type ExecutionConfig struct {
	OrderType      string        `yaml:"order_type" default:"FOK" validate:"oneof=FOK"`
	MaxSlippagePct float64       `yaml:"max_slippage_pct" default:"0.02" validate:"gte=0,lt=1"`
	OrdersPerSec   float64       `yaml:"orders_per_second" default:"2" validate:"gt=0"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout" default:"10s" validate:"gt=0"`
}

type RiskConfig struct {
	MaxBetsPerWindow       int     `yaml:"max_bets_per_window" default:"10" validate:"gt=0"`
	DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct" default:"0.10" validate:"gt=0,lte=1"`
	LossReductionFactor    float64 `yaml:"loss_reduction_factor" default:"0.75" validate:"gt=0,lte=1"`
	ConsecutiveWinsToReset int     `yaml:"consecutive_wins_to_reset" default:"2" validate:"gte=1"`
	MaxOpenPositions       int     `yaml:"max_open_positions" default:"10" validate:"gt=0"`
}

type MarketsConfig struct {
	MinLiquidityUSDC float64 `yaml:"min_liquidity_usdc" default:"200" validate:"gte=0"`
	MaxSpreadPct     float64 `yaml:"max_spread_pct" default:"0.05" validate:"gt=0"`
	SlugPrefix       string  `yaml:"slug_prefix" default:"btc-updown-15m" validate:"required"`
}

type CooldownConfig struct {
	MinSecondsBetweenBets int `yaml:"min_seconds_between_bets" default:"0" validate:"gte=0"`
	LogCooldownSeconds    int `yaml:"log_cooldown_seconds" default:"5" validate:"gte=0"`
}

type TakeProfitTarget struct {
	MaxSeconds int     `yaml:"max_seconds" validate:"gt=0"`
	ProfitPct  float64 `yaml:"profit_pct" validate:"gt=0"`
}

type TakeProfitConfig struct {
	Enabled bool               `yaml:"enabled"`
	Targets []TakeProfitTarget `yaml:"targets" validate:"dive"`
}

// TerminalConfig is the hold-to-settlement strategy with an edge-based exit.
type TerminalConfig struct {
	Enabled             bool             `yaml:"enabled" default:"true"`
	MinEdge             float64          `yaml:"min_edge" default:"0.10" validate:"gte=0"`
	MinSellEdge         float64          `yaml:"min_sell_edge" default:"0.10" validate:"gte=0"`
	MinProfitBeforeSell float64          `yaml:"min_profit_before_sell" default:"0.05" validate:"gte=0"`
	MaxBetUSDC          float64          `yaml:"max_bet_usdc" default:"30" validate:"gt=0"`
	MaxBetsPerWindow    int              `yaml:"max_bets_per_window" default:"1" validate:"gt=0"`
	MinSecondsRemaining int              `yaml:"min_seconds_remaining" default:"15" validate:"gte=0"`
	CooldownSeconds     int              `yaml:"cooldown_seconds" default:"30" validate:"gte=0"`
	TakeProfit          TakeProfitConfig `yaml:"take_profit"`
}

// ExitConfig is the target-based exit strategy.
type ExitConfig struct {
	Enabled              bool    `yaml:"enabled" default:"true"`
	MinEdge              float64 `yaml:"min_edge" default:"0.05" validate:"gte=0"`
	MaxBetUSDC           float64 `yaml:"max_bet_usdc" default:"5" validate:"gt=0"`
	MaxBetsPerWindow     int     `yaml:"max_bets_per_window" default:"10" validate:"gt=0"`
	MinSecondsRemaining  int     `yaml:"min_seconds_remaining" default:"300" validate:"gte=0"`
	OnlyStrongConfidence bool    `yaml:"only_strong_confidence" default:"true"`
	CooldownSeconds      int     `yaml:"cooldown_seconds" default:"10" validate:"gte=0"`
	DynamicTarget        bool    `yaml:"dynamic_target" default:"true"`
}

// BreakerConfig pauses all submissions after repeated gateway errors
type BreakerConfig struct {
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors" default:"3" validate:"gt=0"`
	Pause                time.Duration `yaml:"pause" default:"2m" validate:"gt=0"`
}

type ModelConfig struct {
	Source       string `yaml:"source" default:"file" validate:"oneof=file db"`
	MatrixPath   string `yaml:"matrix_path" default:"output/matrix.json"`
	CrossingPath string `yaml:"crossing_path" default:"output/price_crossing_matrix.json"`
	PassagePath  string `yaml:"passage_path" default:"output/first_passage_matrix.json"`
}

type EndpointsConfig struct {
	BinanceURL string `yaml:"binance_url" default:"https://api.binance.com" validate:"url"`
	GammaURL   string `yaml:"gamma_url" default:"https://gamma-api.polymarket.com" validate:"url"`
	CLOBURL    string `yaml:"clob_url" default:"https://clob.polymarket.com" validate:"url"`
	WSURL      string `yaml:"ws_url" default:"wss://ws-subscriptions-clob.polymarket.com/ws/market" validate:"url"`
	Symbol     string `yaml:"symbol" default:"BTCUSDT" validate:"required"`
}

type CoordinationConfig struct {
	KeyPrefix string        `yaml:"key_prefix" default:"btc_bot:" validate:"required"`
	LeaseTTL  time.Duration `yaml:"lease_ttl" default:"15s" validate:"gt=0"`
	Resource  string        `yaml:"resource" default:"trade_lock" validate:"required"`
}

type StorageConfig struct {
	BufferSize int `yaml:"buffer_size" default:"1024" validate:"gt=0"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" default:":9102"`
}

type LoggingConfig struct {
	Level                   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	LogSkippedOpportunities bool   `yaml:"log_skipped_opportunities" default:"true"`
}

// Secrets are never read from the config file.
type Secrets struct {
	RedisURL       string
	DatabaseURL    string
	PrivateKey     string
	FunderAddress  string
	SignatureType  int
	APIKey         string
	APISecret      string
	APIPassphrase  string
	TelegramToken  string
	TelegramChatID int64
}

var validate = validator.New()

// Load reads .env, the YAML file at CONFIG_PATH (optional) and env overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFile(getEnv("CONFIG_PATH", "config/bot.yaml"))
}

// LoadFile builds a Config from defaults, the given YAML file if it exists,
// and the environment.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if len(cfg.Terminal.TakeProfit.Targets) == 0 {
		cfg.Terminal.TakeProfit.Targets = []TakeProfitTarget{
			{MaxSeconds: 300, ProfitPct: 0.50},
			{MaxSeconds: 600, ProfitPct: 0.30},
			{MaxSeconds: 900, ProfitPct: 0.15},
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DryRun = getEnvBool("DRY_RUN", true)
	c.Debug = getEnvBool("DEBUG", false)
	c.Bankroll = getEnvDecimal("BANKROLL", decimal.NewFromInt(100))
	if c.Debug {
		c.Logging.Level = "debug"
	}
	c.Polling.Interval = getEnvDuration("POLL_INTERVAL", c.Polling.Interval)
	c.Metrics.Listen = getEnv("METRICS_LISTEN", c.Metrics.Listen)
	c.Model.Source = getEnv("MODEL_SOURCE", c.Model.Source)
	c.Model.MatrixPath = getEnv("MATRIX_PATH", c.Model.MatrixPath)

	c.Secrets = Secrets{
		RedisURL:      os.Getenv("REDIS_URL"),
		DatabaseURL:   getEnv("DATABASE_URL", "data/windowbot.db"),
		PrivateKey:    os.Getenv("ETH_PRIVATE_KEY"),
		FunderAddress: os.Getenv("FUNDER_ADDRESS"),
		SignatureType: getEnvInt("SIGNATURE_TYPE", 0),
		APIKey:        os.Getenv("POLY_API_KEY"),
		APISecret:     os.Getenv("POLY_API_SECRET"),
		APIPassphrase: os.Getenv("POLY_PASSPHRASE"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		c.Secrets.TelegramChatID = id
	}
	return nil
}

// Validate runs struct tag validation and the cross-field ladder checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	e := c.Edge
	if !(e.MinEdgeStrong < e.MinEdgeModerate && e.MinEdgeModerate < e.MinEdgeWeak && e.MinEdgeWeak < e.MinEdgeUnreliable) {
		return fmt.Errorf("invalid config: min edges must strictly increase as confidence falls (strong %.3f, moderate %.3f, weak %.3f, unreliable %.3f)",
			e.MinEdgeStrong, e.MinEdgeModerate, e.MinEdgeWeak, e.MinEdgeUnreliable)
	}
	m := c.Betting.ConfidenceMultipliers
	if !(m.Weak < m.Moderate && m.Moderate < m.Strong) {
		return fmt.Errorf("invalid config: confidence multipliers must strictly increase with confidence (weak %.2f, moderate %.2f, strong %.2f)",
			m.Weak, m.Moderate, m.Strong)
	}
	if c.Timing.MinSecondsElapsed+c.Timing.MinSecondsRemaining >= 900 {
		return fmt.Errorf("invalid config: entry window is empty (elapsed %ds + remaining %ds)",
			c.Timing.MinSecondsElapsed, c.Timing.MinSecondsRemaining)
	}
	if !c.Terminal.Enabled && !c.Exit.Enabled {
		return fmt.Errorf("invalid config: at least one strategy must be enabled")
	}
	if !c.DryRun && c.Secrets.PrivateKey == "" {
		return fmt.Errorf("ETH_PRIVATE_KEY is required when DRY_RUN=false")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
