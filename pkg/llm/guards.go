package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard errors, surfaced to callers as rejection codes. None of them touch
// the breaker's failure counters.
var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrBudgetExhausted = errors.New("daily token budget exhausted")
)

const (
	rateLimitWindow = time.Minute
	budgetKeyExpiry = 48 * time.Hour
)

// guards holds the Redis-backed protections applied before the breaker: the
// prompt cache, the per-(bot,user) rate limit, and the per-bot daily token
// budget. The cache lives in Redis so every pod shares it.
type guards struct {
	rdb       *redis.Client
	rateLimit int
	cacheTTL  time.Duration
}

// cacheKey identifies a prompt+model+preset combination.
func cacheKey(model string, preset Preset, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + string(preset.normalize()) + "|" + text))
	return "llm:cache:" + hex.EncodeToString(sum[:])
}

// cachedResponse returns a previously improved text, or "" on miss. Redis
// errors read as a miss.
func (g *guards) cachedResponse(ctx context.Context, model string, preset Preset, text string) string {
	val, err := g.rdb.Get(ctx, cacheKey(model, preset, text)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("LLM cache read failed", "error", err)
		}
		return ""
	}
	return val
}

// storeResponse caches an improved text. Best-effort.
func (g *guards) storeResponse(ctx context.Context, model string, preset Preset, text, improved string) {
	if err := g.rdb.Set(ctx, cacheKey(model, preset, text), improved, g.cacheTTL).Err(); err != nil {
		slog.Warn("LLM cache write failed", "error", err)
	}
}

// checkRateLimit enforces the per-(bot,user) requests-per-minute ceiling
// with an INCR+EXPIRE window. Redis failures fail open: losing the limiter
// briefly beats losing replies.
func (g *guards) checkRateLimit(ctx context.Context, botID string, userID int64) error {
	key := fmt.Sprintf("llm:ratelimit:%s:%d", botID, userID)

	pipe := g.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("LLM rate limit check failed, allowing", "bot_id", botID, "error", err)
		return nil
	}

	if int(incr.Val()) > g.rateLimit {
		return ErrRateLimited
	}
	return nil
}

// budgetKey is the bot's token counter for the current UTC day.
func budgetKey(botID string, now time.Time) string {
	return fmt.Sprintf("llm:budget:%s:%s", botID, now.UTC().Format("2006-01-02"))
}

// checkBudget rejects when the bot's tokens used today already meet the
// daily limit. The counter resets implicitly at UTC midnight because the key
// carries the date.
func (g *guards) checkBudget(ctx context.Context, botID string, limit int64) error {
	if limit <= 0 {
		return nil
	}
	used, err := g.rdb.Get(ctx, budgetKey(botID, time.Now())).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("LLM budget check failed, allowing", "bot_id", botID, "error", err)
		}
		return nil
	}
	if used >= limit {
		return ErrBudgetExhausted
	}
	return nil
}

// recordTokens adds observed usage to today's budget counter.
func (g *guards) recordTokens(ctx context.Context, botID string, tokens int64) {
	if tokens <= 0 {
		return
	}
	key := budgetKey(botID, time.Now())
	pipe := g.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.Expire(ctx, key, budgetKeyExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("LLM budget update failed", "bot_id", botID, "error", err)
	}
}

// BudgetUsage returns tokens consumed by the bot today (UTC).
func (g *guards) BudgetUsage(ctx context.Context, botID string) (int64, error) {
	used, err := g.rdb.Get(ctx, budgetKey(botID, time.Now())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read budget counter: %w", err)
	}
	return used, nil
}
