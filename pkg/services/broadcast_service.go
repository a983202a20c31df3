package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/botfabrik/botfabrik/pkg/broadcast"
	"github.com/botfabrik/botfabrik/pkg/events"
)

// Broadcast is one fan-out job with live counters.
type Broadcast struct {
	ID          string     `json:"id"`
	BotID       string     `json:"bot_id"`
	Audience    string     `json:"audience"`
	Message     string     `json:"message"`
	Throttle    int        `json:"throttle"`
	Status      string     `json:"status"`
	TotalUsers  int        `json:"total_users"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateBroadcastInput is the management API's creation payload.
type CreateBroadcastInput struct {
	Audience string `json:"audience"`
	Message  string `json:"message"`
	Throttle int    `json:"throttle"`
}

// BroadcastService creates broadcasts and hands them to the delivery pool.
type BroadcastService struct {
	db     *sql.DB
	pool   *broadcast.Pool
	events *events.Logger
}

// NewBroadcastService creates a new BroadcastService.
func NewBroadcastService(db *sql.DB, pool *broadcast.Pool, ev *events.Logger) *BroadcastService {
	if db == nil {
		panic("NewBroadcastService: db must not be nil")
	}
	return &BroadcastService{db: db, pool: pool, events: ev}
}

const broadcastColumns = `id, bot_id, audience, message, throttle, status,
	total_users, sent_count, failed_count, created_at, updated_at, completed_at`

// Create validates the payload, stores the pending record with an audience
// estimate and enqueues it for delivery.
func (s *BroadcastService) Create(ctx context.Context, botID string, input CreateBroadcastInput) (*Broadcast, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, NewValidationError("message", "broadcast message is required")
	}
	if !broadcast.ValidAudience(input.Audience) {
		return nil, NewValidationError("audience",
			fmt.Sprintf("unknown audience '%s'; want all, active_7d or segment:<tag>", input.Audience))
	}
	throttle := input.Throttle
	if throttle == 0 {
		throttle = broadcast.DefaultThrottle
	}
	if throttle < broadcast.MinThrottle || throttle > broadcast.MaxThrottle {
		return nil, NewValidationError("throttle",
			fmt.Sprintf("throttle must be between %d and %d", broadcast.MinThrottle, broadcast.MaxThrottle))
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bots WHERE id = $1)`, botID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check bot: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}

	estimate, err := broadcast.CountAudience(ctx, s.db, botID, input.Audience)
	if err != nil {
		return nil, err
	}

	b := &Broadcast{
		ID:         uuid.New().String(),
		BotID:      botID,
		Audience:   input.Audience,
		Message:    input.Message,
		Throttle:   throttle,
		Status:     broadcast.StatusPending,
		TotalUsers: estimate,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO broadcasts (id, bot_id, audience, message, throttle, status, total_users)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		b.ID, b.BotID, b.Audience, b.Message, b.Throttle, b.Status, b.TotalUsers).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast: %w", err)
	}

	s.events.Log(ctx, botID, 0, events.TypeBroadcastCreated, map[string]any{
		"broadcast_id": b.ID,
		"audience":     b.Audience,
		"estimate":     estimate,
	})

	if s.pool != nil {
		if err := s.pool.Enqueue(ctx, b.ID); err != nil {
			// The record stays pending; pool start requeues it.
			return b, nil
		}
	}
	return b, nil
}

// Get loads one broadcast with its counters.
func (s *BroadcastService) Get(ctx context.Context, botID, id string) (*Broadcast, error) {
	b := &Broadcast{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1 AND bot_id = $2`, id, botID).
		Scan(&b.ID, &b.BotID, &b.Audience, &b.Message, &b.Throttle, &b.Status,
			&b.TotalUsers, &b.SentCount, &b.FailedCount, &b.CreatedAt, &b.UpdatedAt, &b.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("broadcast %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	return b, nil
}

// List returns a bot's broadcasts, newest first.
func (s *BroadcastService) List(ctx context.Context, botID string) ([]*Broadcast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts
		 WHERE bot_id = $1 ORDER BY created_at DESC`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Broadcast
	for rows.Next() {
		b := &Broadcast{}
		if err := rows.Scan(&b.ID, &b.BotID, &b.Audience, &b.Message, &b.Throttle, &b.Status,
			&b.TotalUsers, &b.SentCount, &b.FailedCount, &b.CreatedAt, &b.UpdatedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
