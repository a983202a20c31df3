package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReloadChannel is the NOTIFY channel carrying spec invalidations. The
// payload is the bot ID whose spec changed.
const ReloadChannel = "bot_reload"

// NotifyReload queues a reload notification inside tx. pg_notify is
// transactional, so the invalidation fires only when the spec write commits.
func NotifyReload(ctx context.Context, tx *sql.Tx, botID string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", ReloadChannel, botID); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// ReloadListener holds a dedicated LISTEN connection and invokes a callback
// for every reload notification, including this pod's own. Invalidation is
// idempotent, so self-notifications are harmless.
type ReloadListener struct {
	connString string
	onReload   func(botID string)

	conn       *pgx.Conn
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewReloadListener creates a listener. onReload runs on the receive
// goroutine and must not block.
func NewReloadListener(connString string, onReload func(botID string)) *ReloadListener {
	return &ReloadListener{
		connString: connString,
		onReload:   onReload,
	}
}

// Start establishes the dedicated connection, subscribes, and begins the
// receive loop.
func (l *ReloadListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ReloadChannel); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s failed: %w", ReloadChannel, err)
	}
	l.conn = conn

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("Reload listener started", "channel", ReloadChannel)
	return nil
}

// receiveLoop is the sole goroutine touching the pgx connection.
func (l *ReloadListener) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if l.conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Reload NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		botID := notification.Payload
		slog.Debug("Spec reload notification", "bot_id", botID)
		l.onReload(botID)
	}
}

// reconnect re-establishes the LISTEN connection with exponential backoff.
func (l *ReloadListener) reconnect(ctx context.Context) {
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("Reload listener reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+ReloadChannel); err != nil {
			slog.Error("Re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.conn = conn
		slog.Info("Reload listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection.
func (l *ReloadListener) Stop(ctx context.Context) {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
