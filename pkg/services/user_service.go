package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// BotUser is one member of a bot's audience.
type BotUser struct {
	BotID       string   `json:"bot_id"`
	UserID      int64    `json:"user_id"`
	Locale      string   `json:"locale,omitempty"`
	IsActive    bool     `json:"is_active"`
	SegmentTags []string `json:"segment_tags"`
}

// UserService keeps the per-bot audience roster current.
type UserService struct {
	db *sql.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB) *UserService {
	if db == nil {
		panic("NewUserService: db must not be nil")
	}
	return &UserService{db: db}
}

// Touch records that a user interacted with the bot. Called on every
// inbound update; it is what feeds the active_7d audience.
func (s *UserService) Touch(ctx context.Context, botID string, userID int64) error {
	if userID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_users (bot_id, user_id, last_active)
		 VALUES ($1, $2, now())
		 ON CONFLICT (bot_id, user_id)
		 DO UPDATE SET last_active = now(), is_active = TRUE`,
		botID, userID)
	if err != nil {
		return fmt.Errorf("failed to touch bot user: %w", err)
	}
	return nil
}

// MarkInactive flags a user after the upstream reported blocked; inactive
// users still count for audience "all" but not "active_7d".
func (s *UserService) MarkInactive(ctx context.Context, botID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bot_users SET is_active = FALSE WHERE bot_id = $1 AND user_id = $2`,
		botID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark user inactive: %w", err)
	}
	return nil
}

// SetSegmentTags replaces a user's segment memberships.
func (s *UserService) SetSegmentTags(ctx context.Context, botID string, userID int64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tag, err := s.db.ExecContext(ctx,
		`UPDATE bot_users SET segment_tags = $1 WHERE bot_id = $2 AND user_id = $3`,
		pq.Array(tags), botID, userID)
	if err != nil {
		return fmt.Errorf("failed to set segment tags: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d of bot %s: %w", userID, botID, ErrNotFound)
	}
	return nil
}

// List returns a bot's audience ordered by user_id.
func (s *UserService) List(ctx context.Context, botID string, limit int) ([]BotUser, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bot_id, user_id, COALESCE(locale, ''), is_active, segment_tags
		 FROM bot_users WHERE bot_id = $1 ORDER BY user_id LIMIT $2`,
		botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BotUser
	for rows.Next() {
		var u BotUser
		if err := rows.Scan(&u.BotID, &u.UserID, &u.Locale, &u.IsActive, pq.Array(&u.SegmentTags)); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
