package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/i18n"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/template"
)

// Delivery bounds.
const (
	chunkSize   = 1000
	MinThrottle = 1
	MaxThrottle = 100
	// DefaultThrottle applies when a broadcast does not set per_sec.
	DefaultThrottle = 30
)

// backoffs are the retry delays for transient send failures.
var backoffs = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// Recipient statuses recorded in broadcast_events.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryBlocked = "blocked"
)

// ValidAudience reports whether the selector is one the enumerator can
// serve: all, active_7d or segment:<tag>.
func ValidAudience(audience string) bool {
	if audience == "all" || audience == "active_7d" {
		return true
	}
	tag := strings.TrimPrefix(audience, "segment:")
	return tag != audience && tag != ""
}

// audienceFilter returns the SQL tail narrowing bot_users to the selector.
// The returned arg, when non-nil, binds the next positional placeholder.
func audienceFilter(audience string, nextArg int) (string, any) {
	switch {
	case audience == "active_7d":
		return " AND is_active AND last_active > now() - interval '7 days'", nil
	case strings.HasPrefix(audience, "segment:"):
		return fmt.Sprintf(" AND $%d = ANY(segment_tags)", nextArg), strings.TrimPrefix(audience, "segment:")
	}
	return "", nil
}

// CountAudience returns how many users the selector currently matches.
func CountAudience(ctx context.Context, db *sql.DB, botID, audience string) (int, error) {
	query := `SELECT COUNT(*) FROM bot_users WHERE bot_id = $1`
	args := []any{botID}
	cond, arg := audienceFilter(audience, 2)
	query += cond
	if arg != nil {
		args = append(args, arg)
	}

	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}
	return count, nil
}

type broadcastRow struct {
	ID       string
	BotID    string
	Audience string
	Message  string
	Throttle int
	Status   string
}

type recipient struct {
	UserID int64
	Locale string
}

// deliver runs one broadcast end to end. A context error propagates so the
// worker can distinguish shutdown from a broken broadcast.
func (p *Pool) deliver(ctx context.Context, id string) error {
	b, err := p.loadBroadcast(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == StatusCompleted || b.Status == StatusFailed {
		return nil
	}

	var token, botStatus string
	err = p.db.DB().QueryRowContext(ctx,
		`SELECT token, status FROM bots WHERE id = $1`, b.BotID).Scan(&token, &botStatus)
	if err != nil {
		return p.markFailed(ctx, b, fmt.Errorf("failed to load bot: %w", err))
	}
	if botStatus != "active" {
		return p.markFailed(ctx, b, errors.New("bot is disabled"))
	}

	total, err := CountAudience(ctx, p.db.DB(), b.BotID, b.Audience)
	if err != nil {
		return p.markFailed(ctx, b, err)
	}

	_, err = p.db.DB().ExecContext(ctx,
		`UPDATE broadcasts SET status = $1, total_users = $2, updated_at = now() WHERE id = $3`,
		StatusRunning, total, id)
	if err != nil {
		return err
	}
	p.events.Log(ctx, b.BotID, 0, events.TypeBroadcastStarted, map[string]any{
		"broadcast_id": id,
		"audience":     b.Audience,
		"total":        total,
	})

	throttle := b.Throttle
	if throttle < MinThrottle || throttle > MaxThrottle {
		throttle = DefaultThrottle
	}
	limiter := rate.NewLimiter(rate.Limit(throttle), throttle)

	var sent, failed int
	last := int64(0)
	for {
		chunk, err := p.nextChunk(ctx, b, last)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}

		var chunkSent, chunkFailed int
		for _, r := range chunk {
			last = r.UserID
			if err := limiter.Wait(ctx); err != nil {
				p.flushCounters(b.ID, chunkSent, chunkFailed)
				return err
			}

			status, errCode := p.sendOne(ctx, b, token, r)
			if ctx.Err() != nil {
				p.flushCounters(b.ID, chunkSent, chunkFailed)
				return ctx.Err()
			}

			recorded, err := p.recordDelivery(ctx, b.ID, r.UserID, status, errCode)
			if err != nil {
				slog.Warn("Failed to record broadcast delivery",
					"broadcast_id", b.ID, "user_id", r.UserID, "error", err)
				continue
			}
			if !recorded {
				continue
			}
			if status == DeliverySent {
				chunkSent++
			} else {
				chunkFailed++
				p.events.Log(ctx, b.BotID, r.UserID, events.TypeBroadcastDelivery, map[string]any{
					"broadcast_id": b.ID,
					"status":       status,
					"error_code":   errCode,
				})
			}
		}

		sent += chunkSent
		failed += chunkFailed
		p.flushCounters(b.ID, chunkSent, chunkFailed)
	}

	_, err = p.db.DB().ExecContext(ctx,
		`UPDATE broadcasts SET status = $1, updated_at = now(), completed_at = now() WHERE id = $2`,
		StatusCompleted, id)
	if err != nil {
		return err
	}

	p.metrics.AddBroadcastSent(b.BotID, sent)
	p.metrics.AddBroadcastFailed(b.BotID, failed)
	p.events.Log(ctx, b.BotID, 0, events.TypeBroadcastCompleted, map[string]any{
		"broadcast_id": id,
		"sent":         sent,
		"failed":       failed,
	})
	slog.Info("Broadcast completed", "broadcast_id", id, "sent", sent, "failed", failed)
	return nil
}

func (p *Pool) loadBroadcast(ctx context.Context, id string) (*broadcastRow, error) {
	b := &broadcastRow{ID: id}
	err := p.db.DB().QueryRowContext(ctx,
		`SELECT bot_id, audience, message, throttle, status FROM broadcasts WHERE id = $1`, id).
		Scan(&b.BotID, &b.Audience, &b.Message, &b.Throttle, &b.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	return b, nil
}

// nextChunk enumerates the next recipients in stable user_id order,
// skipping anyone who already has a delivery row. The skip is what makes a
// broadcast resumable.
func (p *Pool) nextChunk(ctx context.Context, b *broadcastRow, after int64) ([]recipient, error) {
	query := `SELECT u.user_id, COALESCE(u.locale, '')
		FROM bot_users u
		WHERE u.bot_id = $1 AND u.user_id > $2
		AND NOT EXISTS (
			SELECT 1 FROM broadcast_events e
			WHERE e.broadcast_id = $3 AND e.user_id = u.user_id
		)`
	args := []any{b.BotID, after, b.ID}
	cond, arg := audienceFilter(b.Audience, 4)
	query += cond
	if arg != nil {
		args = append(args, arg)
	}
	query += fmt.Sprintf(" ORDER BY u.user_id LIMIT %d", chunkSize)

	rows, err := p.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audience: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []recipient
	for rows.Next() {
		var r recipient
		if err := rows.Scan(&r.UserID, &r.Locale); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// sendOne renders the per-recipient text and sends it with bounded retries.
// Blocked recipients are terminal on the first attempt.
func (p *Pool) sendOne(ctx context.Context, b *broadcastRow, token string, r recipient) (string, string) {
	locale := r.Locale
	if locale == "" {
		locale = i18n.DefaultLocale
	}
	text := p.i18n.Resolve(ctx, b.BotID, locale, b.Message)
	text = template.Scalars(text, template.Scope{"user_id": r.UserID})

	reply := telegram.Reply{Text: text}
	for attempt := 0; ; attempt++ {
		err := p.sender.Send(ctx, token, r.UserID, reply)
		if err == nil {
			return DeliverySent, ""
		}
		if errors.Is(err, telegram.ErrBlocked) {
			return DeliveryBlocked, "blocked"
		}
		if ctx.Err() != nil || attempt >= len(backoffs) {
			return DeliveryFailed, "send_failed"
		}
		select {
		case <-ctx.Done():
			return DeliveryFailed, "send_failed"
		case <-time.After(backoffs[attempt]):
		}
	}
}

// recordDelivery writes the per-recipient row. A conflicting row means a
// concurrent or earlier run already delivered; the caller must not count it
// again.
func (p *Pool) recordDelivery(ctx context.Context, broadcastID string, userID int64, status, errCode string) (bool, error) {
	var code any
	if errCode != "" {
		code = errCode
	}
	tag, err := p.db.DB().ExecContext(ctx,
		`INSERT INTO broadcast_events (broadcast_id, user_id, status, error_code)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (broadcast_id, user_id) DO NOTHING`,
		broadcastID, userID, status, code)
	if err != nil {
		return false, err
	}
	n, _ := tag.RowsAffected()
	return n > 0, nil
}

func (p *Pool) flushCounters(id string, sent, failed int) {
	if sent == 0 && failed == 0 {
		return
	}
	// Counter flushes survive handler cancellation so resumed runs start
	// from accurate numbers.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.db.DB().ExecContext(ctx,
		`UPDATE broadcasts
		 SET sent_count = sent_count + $1, failed_count = failed_count + $2, updated_at = now()
		 WHERE id = $3`,
		sent, failed, id)
	if err != nil {
		slog.Warn("Failed to flush broadcast counters", "broadcast_id", id, "error", err)
	}
}

func (p *Pool) markFailed(ctx context.Context, b *broadcastRow, cause error) error {
	_, err := p.db.DB().ExecContext(ctx,
		`UPDATE broadcasts SET status = $1, updated_at = now(), completed_at = now() WHERE id = $2`,
		StatusFailed, b.ID)
	if err != nil {
		return err
	}
	p.events.Log(ctx, b.BotID, 0, events.TypeBroadcastFailed, map[string]any{
		"broadcast_id": b.ID,
		"error":        cause.Error(),
	})
	slog.Error("Broadcast failed", "broadcast_id", b.ID, "error", cause)
	return nil
}
