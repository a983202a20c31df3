package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/botfabrik/botfabrik/pkg/masking"
)

// Logger appends events to bot_events. Rows are never edited after insert.
// Every payload gets the handler's trace_id and passes through the masking
// service, so raw SQL and credentials never reach storage.
type Logger struct {
	db     *sql.DB
	masker *masking.Service
}

// NewLogger creates an event logger on the shared connection pool.
func NewLogger(db *sql.DB, masker *masking.Service) *Logger {
	return &Logger{db: db, masker: masker}
}

// Log writes one event. Failures are logged and swallowed: the event sink
// must never fail the handler that feeds it.
func (l *Logger) Log(ctx context.Context, botID string, userID int64, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}

	trace := Trace(ctx)
	if trace == "" {
		trace = uuid.NewString()
	}
	masked := l.masker.MaskEventData(data)
	masked["trace_id"] = trace

	payload, err := json.Marshal(masked)
	if err != nil {
		slog.Error("Failed to encode event payload", "bot_id", botID, "type", eventType, "error", err)
		return
	}

	// Write with a fresh short deadline so a cancelled handler still gets
	// its terminal events recorded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err = l.db.ExecContext(writeCtx,
		`INSERT INTO bot_events (bot_id, user_id, type, data) VALUES ($1, $2, $3, $4)`,
		botID, userID, eventType, payload)
	if err != nil {
		slog.Error("Failed to write event", "bot_id", botID, "type", eventType, "error", err)
	}
}

// LogError writes a type=error event with the component and code labels the
// error-policy requires.
func (l *Logger) LogError(ctx context.Context, botID string, userID int64, where, code string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["where"] = where
	data["code"] = code
	l.Log(ctx, botID, userID, TypeError, data)
}

// DeleteOlderThan prunes events past the retention horizon. Used by the
// cleanup sweeper; never called on the handler path.
func (l *Logger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM bot_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
