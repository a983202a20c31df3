// Package services holds the management-plane logic behind the HTTP API:
// bot registry, versioned spec publishing, audience bookkeeping, broadcast
// creation and tenant data purge.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Bot statuses.
const (
	BotStatusActive   = "active"
	BotStatusDisabled = "disabled"
)

// llmPresets are the accepted improvement presets.
var llmPresets = map[string]bool{"short": true, "neutral": true, "detailed": true}

// Bot is one tenant's registration record.
type Bot struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Token            string    `json:"-"`
	Status           string    `json:"status"`
	LLMEnabled       bool      `json:"llm_enabled"`
	LLMPreset        string    `json:"llm_preset"`
	DailyBudgetLimit int64     `json:"daily_budget_limit"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateBotInput carries the management API's creation payload.
type CreateBotInput struct {
	Name             string `json:"name"`
	Token            string `json:"token"`
	LLMEnabled       bool   `json:"llm_enabled"`
	LLMPreset        string `json:"llm_preset"`
	DailyBudgetLimit int64  `json:"daily_budget_limit"`
}

// UpdateBotInput carries partial updates; nil fields are left unchanged.
type UpdateBotInput struct {
	Name             *string `json:"name"`
	Token            *string `json:"token"`
	Status           *string `json:"status"`
	LLMEnabled       *bool   `json:"llm_enabled"`
	LLMPreset        *string `json:"llm_preset"`
	DailyBudgetLimit *int64  `json:"daily_budget_limit"`
}

// BotService manages the tenant registry.
type BotService struct {
	db *sql.DB
}

// NewBotService creates a new BotService.
func NewBotService(db *sql.DB) *BotService {
	if db == nil {
		panic("NewBotService: db must not be nil")
	}
	return &BotService{db: db}
}

const botColumns = `id, name, token, status, llm_enabled, llm_preset, daily_budget_limit, created_at`

// Create registers a bot. Names are unique across the installation.
func (s *BotService) Create(ctx context.Context, input CreateBotInput) (*Bot, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, NewValidationError("name", "bot name is required")
	}
	preset := input.LLMPreset
	if preset == "" {
		preset = "neutral"
	}
	if !llmPresets[preset] {
		return nil, NewValidationError("llm_preset", fmt.Sprintf("unknown preset '%s'", preset))
	}
	budget := input.DailyBudgetLimit
	if budget < 0 {
		return nil, NewValidationError("daily_budget_limit", "budget must not be negative")
	}

	bot := &Bot{
		ID:               uuid.New().String(),
		Name:             name,
		Token:            input.Token,
		Status:           BotStatusActive,
		LLMEnabled:       input.LLMEnabled,
		LLMPreset:        preset,
		DailyBudgetLimit: budget,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO bots (id, name, token, status, llm_enabled, llm_preset, daily_budget_limit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		bot.ID, bot.Name, bot.Token, bot.Status, bot.LLMEnabled, bot.LLMPreset, bot.DailyBudgetLimit).
		Scan(&bot.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("bot '%s': %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return bot, nil
}

// Get loads one bot by ID.
func (s *BotService) Get(ctx context.Context, id string) (*Bot, error) {
	bot := &Bot{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = $1`, id).
		Scan(&bot.ID, &bot.Name, &bot.Token, &bot.Status, &bot.LLMEnabled,
			&bot.LLMPreset, &bot.DailyBudgetLimit, &bot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot: %w", err)
	}
	return bot, nil
}

// List returns every registered bot, newest first.
func (s *BotService) List(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bots []*Bot
	for rows.Next() {
		bot := &Bot{}
		if err := rows.Scan(&bot.ID, &bot.Name, &bot.Token, &bot.Status, &bot.LLMEnabled,
			&bot.LLMPreset, &bot.DailyBudgetLimit, &bot.CreatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// Update applies the non-nil fields of input.
func (s *BotService) Update(ctx context.Context, id string, input UpdateBotInput) (*Bot, error) {
	if input.Status != nil && *input.Status != BotStatusActive && *input.Status != BotStatusDisabled {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status '%s'", *input.Status))
	}
	if input.LLMPreset != nil && !llmPresets[*input.LLMPreset] {
		return nil, NewValidationError("llm_preset", fmt.Sprintf("unknown preset '%s'", *input.LLMPreset))
	}
	if input.DailyBudgetLimit != nil && *input.DailyBudgetLimit < 0 {
		return nil, NewValidationError("daily_budget_limit", "budget must not be negative")
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return nil, NewValidationError("name", "bot name is required")
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if input.Name != nil {
		add("name", strings.TrimSpace(*input.Name))
	}
	if input.Token != nil {
		add("token", *input.Token)
	}
	if input.Status != nil {
		add("status", *input.Status)
	}
	if input.LLMEnabled != nil {
		add("llm_enabled", *input.LLMEnabled)
	}
	if input.LLMPreset != nil {
		add("llm_preset", *input.LLMPreset)
	}
	if input.DailyBudgetLimit != nil {
		add("daily_budget_limit", *input.DailyBudgetLimit)
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE bots SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("bot name taken: %w", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to update bot: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

// SetBudget replaces the daily token budget.
func (s *BotService) SetBudget(ctx context.Context, id string, limit int64) (*Bot, error) {
	return s.Update(ctx, id, UpdateBotInput{DailyBudgetLimit: &limit})
}

// Delete removes the bot record. Tenant data survives until an explicit
// purge.
func (s *BotService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	return nil
}
