package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// Rate limit policy defaults.
const (
	policyDefaultWindow    = 60
	policyDefaultAllowance = 5
)

// checkPolicy enforces a flow's entry rate limit. It returns the denial
// reply when the caller is over the allowance and nil otherwise. Redis
// failures fail open: throttling is protection, not a dependency.
func (e *Engine) checkPolicy(ctx context.Context, botID string, userID, chatID int64,
	flow string, policy *dsl.RateLimitPolicy) *telegram.Reply {

	if policy == nil || e.rdb == nil {
		return nil
	}

	window := policy.WindowS
	if window <= 0 {
		window = policyDefaultWindow
	}
	allowance := policy.Allowance
	if allowance <= 0 {
		allowance = policyDefaultAllowance
	}

	var scopeID string
	switch policy.Scope {
	case "chat":
		scopeID = fmt.Sprintf("chat:%d", chatID)
	case "bot":
		scopeID = "bot"
	default:
		scopeID = fmt.Sprintf("user:%d", userID)
	}
	key := fmt.Sprintf("rl:%s:%s", botID, scopeID)

	count, err := e.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("Rate limit check failed, allowing", "bot_id", botID, "error", err)
		return nil
	}
	if count == 1 {
		e.rdb.Expire(ctx, key, time.Duration(window)*time.Second)
	}
	if count <= int64(allowance) {
		return nil
	}

	e.events.Log(ctx, botID, userID, events.TypeRateLimitHit, map[string]any{
		"flow":  flow,
		"scope": scopeID,
	})

	msg := policy.Msg
	if msg == "" {
		msg = msgRateLimited
	}
	return &telegram.Reply{Text: msg}
}
