// Package events writes the append-only bot event log and distributes spec
// reload notifications across pods via PostgreSQL NOTIFY.
package events

import (
	"context"

	"github.com/google/uuid"
)

// Event types written to bot_events.
const (
	TypeUpdate       = "update"
	TypeFlowStep     = "flow_step"
	TypeActionSQL    = "action_sql"
	TypeActionReply  = "action_reply"
	TypeError        = "error"
	TypeRateLimitHit = "ratelimit_hit"

	TypeWidgetCalendarRender   = "widget_calendar_render"
	TypeWidgetCalendarPick     = "widget_calendar_pick"
	TypeWidgetPaginationRender = "widget_pagination_render"
	TypeWidgetPaginationSelect = "widget_pagination_select"

	TypeLLMRequest  = "llm_request"
	TypeLLMRejected = "llm_rejected"

	TypeBroadcastCreated   = "broadcast_created"
	TypeBroadcastStarted   = "broadcast_started"
	TypeBroadcastDelivery  = "broadcast_delivery"
	TypeBroadcastCompleted = "broadcast_completed"
	TypeBroadcastFailed    = "broadcast_failed"
)

type traceKey struct{}

// WithTrace returns a context carrying a fresh trace ID, shared by every
// event emitted while handling one inbound update.
func WithTrace(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, traceKey{}, id), id
}

// Trace returns the context's trace ID, or an empty string outside a traced
// handler (background tasks generate their own).
func Trace(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
