package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/state"
)

// PurgeResult reports how much tenant data the purge removed.
type PurgeResult struct {
	Tables map[string]int64 `json:"tables"`
	Keys   int64            `json:"redis_keys"`
}

// PurgeService erases a bot's tenant data: events, audience, locales,
// translations, bookings, broadcasts and every Redis key under the bot's
// prefixes. The bot record and its specs survive.
type PurgeService struct {
	db  *database.Client
	rdb *redis.Client
}

// NewPurgeService creates a new PurgeService.
func NewPurgeService(db *database.Client, rdb *redis.Client) *PurgeService {
	if db == nil {
		panic("NewPurgeService: db must not be nil")
	}
	return &PurgeService{db: db, rdb: rdb}
}

// purgeTables lists the tenant tables wiped by bot_id, in FK-safe order.
var purgeTables = []string{
	"broadcast_events",
	"broadcasts",
	"bot_events",
	"bot_users",
	"locales",
	"i18n_keys",
	"bookings",
}

// Purge removes the bot's data. The SQL side runs in one transaction so a
// half-purged tenant is never observable.
func (s *PurgeService) Purge(ctx context.Context, botID string) (*PurgeResult, error) {
	result := &PurgeResult{Tables: make(map[string]int64, len(purgeTables))}

	err := s.db.WithTx(ctx, 30*time.Second, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM bots WHERE id = $1)`, botID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
		}

		// broadcast_events has no bot_id column; it empties via its parent.
		tag, err := tx.ExecContext(ctx,
			`DELETE FROM broadcast_events
			 WHERE broadcast_id IN (SELECT id FROM broadcasts WHERE bot_id = $1)`, botID)
		if err != nil {
			return fmt.Errorf("failed to purge broadcast_events: %w", err)
		}
		n, _ := tag.RowsAffected()
		result.Tables["broadcast_events"] = n

		for _, table := range purgeTables[1:] {
			tag, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE bot_id = $1`, table), botID)
			if err != nil {
				return fmt.Errorf("failed to purge %s: %w", table, err)
			}
			n, _ := tag.RowsAffected()
			result.Tables[table] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Keys = s.purgeRedis(ctx, botID)
	slog.Info("Purged bot data", "bot_id", botID, "redis_keys", result.Keys)
	return result, nil
}

// purgeRedis drops wizard states and LLM counters. Redis errors are logged
// and swallowed: the relational purge already committed and Redis keys all
// expire on their own.
func (s *PurgeService) purgeRedis(ctx context.Context, botID string) int64 {
	if s.rdb == nil {
		return 0
	}

	patterns := []string{
		state.KeyPrefix(botID) + "*",
		fmt.Sprintf("llm:ratelimit:%s:*", botID),
		fmt.Sprintf("llm:budget:%s:*", botID),
		fmt.Sprintf("rl:%s:*", botID),
	}

	var removed int64
	for _, pattern := range patterns {
		iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) == 200 {
				removed += s.del(ctx, keys)
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			slog.Warn("Redis scan failed during purge", "bot_id", botID, "pattern", pattern, "error", err)
		}
		removed += s.del(ctx, keys)
	}
	return removed
}

func (s *PurgeService) del(ctx context.Context, keys []string) int64 {
	if len(keys) == 0 {
		return 0
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		slog.Warn("Redis delete failed during purge", "error", err)
	}
	return n
}
