package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/types"
)

const (
	DefaultPrefix = "btc_bot:"
	betCounterTTL = 20 * time.Minute
)

// releaseScript deletes the lease only if the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect opens a Redis client from a redis:// URL and pings it
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis: REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("🔒 Redis connected")
	return client, nil
}

func keyJoin(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + strings.Join(parts, ":")
}

// ═══════════════════════════════════════════════════════════════════════════════
// REDIS LEASE
// ═══════════════════════════════════════════════════════════════════════════════

// RedisLeaser implements Leaser with SET NX PX and a compare-and-delete script
type RedisLeaser struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLeaser creates a leaser; keys are prefix + resource
func NewRedisLeaser(client redis.UniversalClient, prefix string) *RedisLeaser {
	return &RedisLeaser{client: client, prefix: prefix}
}

func (r *RedisLeaser) key(resource string) string {
	return keyJoin(r.prefix, resource)
}

func (r *RedisLeaser) TryAcquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if err := validate(resource, owner, ttl); err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.key(resource), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", resource, err)
	}
	return ok, nil
}

func (r *RedisLeaser) Release(ctx context.Context, resource, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(resource)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", resource, err)
	}
	return n == 1, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// REDIS MIRROR
// ═══════════════════════════════════════════════════════════════════════════════

// mirroredPosition is the JSON shape stored per position in the positions hash
type mirroredPosition struct {
	PositionID       string  `json:"position_id"`
	TokenID          string  `json:"token_id"`
	Direction        string  `json:"direction"`
	EntryPrice       float64 `json:"entry_price"`
	Shares           float64 `json:"shares"`
	EntryTimeBucket  int     `json:"entry_time_bucket"`
	EntryDeltaBucket int     `json:"entry_delta_bucket"`
	ExitTarget       float64 `json:"exit_target"`
	WindowStartTS    int64   `json:"window_start_ts"`
	SellPending      bool    `json:"sell_pending"`
	StrategyType     string  `json:"strategy_type"`
	EntryElapsed     int     `json:"entry_seconds_elapsed"`
}

// RedisMirror implements Mirror on a positions hash and per-window counters
type RedisMirror struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisMirror creates the mirror
func NewRedisMirror(client redis.UniversalClient, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

func (r *RedisMirror) positionsKey() string {
	return keyJoin(r.prefix, "positions")
}

func (r *RedisMirror) betsKey(window time.Time, kind types.StrategyKind) string {
	return keyJoin(r.prefix, "bets", strconv.FormatInt(window.Unix(), 10), kind.String())
}

func (r *RedisMirror) lastBetKey(kind types.StrategyKind) string {
	return keyJoin(r.prefix, "last_bet", kind.String())
}

func (r *RedisMirror) PutPosition(ctx context.Context, pos types.Position) error {
	data, err := json.Marshal(mirroredPosition{
		PositionID:       pos.ID,
		TokenID:          pos.TokenID,
		Direction:        pos.Direction.String(),
		EntryPrice:       pos.EntryPrice,
		Shares:           pos.Shares,
		EntryTimeBucket:  pos.EntryTimeBucket,
		EntryDeltaBucket: pos.EntryDeltaBucket,
		ExitTarget:       pos.ExitTarget,
		WindowStartTS:    pos.Window.Unix(),
		SellPending:      pos.ExitPending,
		StrategyType:     pos.Strategy.String(),
		EntryElapsed:     pos.EntryElapsed,
	})
	if err != nil {
		return fmt.Errorf("encode position %s: %w", pos.ID, err)
	}
	return r.client.HSet(ctx, r.positionsKey(), pos.ID, data).Err()
}

func (r *RedisMirror) RemovePosition(ctx context.Context, id string) error {
	return r.client.HDel(ctx, r.positionsKey(), id).Err()
}

func (r *RedisMirror) IncrBets(ctx context.Context, window time.Time, kind types.StrategyKind) error {
	key := r.betsKey(window, kind)
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, betCounterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisMirror) StampBet(ctx context.Context, kind types.StrategyKind, at time.Time) error {
	return r.client.Set(ctx, r.lastBetKey(kind), at.Unix(), betCounterTTL).Err()
}

// PositionCount returns how many positions the fleet currently mirrors
func (r *RedisMirror) PositionCount(ctx context.Context) (int64, error) {
	return r.client.HLen(ctx, r.positionsKey()).Result()
}
