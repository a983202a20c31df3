package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
)

// SpecVersion is one published spec revision.
type SpecVersion struct {
	BotID     string          `json:"bot_id"`
	Version   int             `json:"version"`
	Spec      json.RawMessage `json:"spec"`
	CreatedAt time.Time       `json:"created_at"`
}

// SpecService publishes and serves versioned bot specs. It implements
// dsl.Source for the runtime cache.
type SpecService struct {
	db *database.Client
}

// NewSpecService creates a new SpecService.
func NewSpecService(db *database.Client) *SpecService {
	if db == nil {
		panic("NewSpecService: db must not be nil")
	}
	return &SpecService{db: db}
}

// Validate runs spec validation without publishing.
func (s *SpecService) Validate(raw json.RawMessage) []dsl.Issue {
	return dsl.Validate(raw)
}

// Publish validates raw, stores it as the next version and notifies every
// pod inside the same transaction: a reload signal can never precede its
// committed spec.
func (s *SpecService) Publish(ctx context.Context, botID string, raw json.RawMessage) (*SpecVersion, error) {
	if issues := dsl.Validate(raw); len(issues) > 0 {
		return nil, NewValidationError(issues[0].Path, issues[0].Msg)
	}
	// Compilation catches what lexical validation cannot, bad regexes mostly.
	if _, err := dsl.Compile(botID, 0, raw); err != nil {
		return nil, NewValidationError("spec", err.Error())
	}

	published := &SpecVersion{BotID: botID, Spec: raw}
	err := s.db.WithTx(ctx, 5*time.Second, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM bots WHERE id = $1)`, botID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO bot_specs (bot_id, version, spec_json)
			 SELECT $1, COALESCE(MAX(version), 0) + 1, $2 FROM bot_specs WHERE bot_id = $1
			 RETURNING version, created_at`,
			botID, []byte(raw)).Scan(&published.Version, &published.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert spec: %w", err)
		}

		return events.NotifyReload(ctx, tx, botID)
	})
	if err != nil {
		return nil, err
	}
	return published, nil
}

// LatestSpec returns the highest published version's raw document. It is
// the dsl.Source contract.
func (s *SpecService) LatestSpec(ctx context.Context, botID string) ([]byte, int, error) {
	var raw []byte
	var version int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT spec_json, version FROM bot_specs
		 WHERE bot_id = $1 ORDER BY version DESC LIMIT 1`, botID).
		Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("spec for bot %s: %w", botID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load spec: %w", err)
	}
	return raw, version, nil
}

// Get returns one published version, or the latest when version is 0.
func (s *SpecService) Get(ctx context.Context, botID string, version int) (*SpecVersion, error) {
	query := `SELECT bot_id, version, spec_json, created_at FROM bot_specs
		WHERE bot_id = $1 AND version = $2`
	args := []any{botID, version}
	if version == 0 {
		query = `SELECT bot_id, version, spec_json, created_at FROM bot_specs
			WHERE bot_id = $1 ORDER BY version DESC LIMIT 1`
		args = args[:1]
	}

	sv := &SpecVersion{}
	var raw []byte
	err := s.db.DB().QueryRowContext(ctx, query, args...).
		Scan(&sv.BotID, &sv.Version, &raw, &sv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spec for bot %s: %w", botID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load spec: %w", err)
	}
	sv.Spec = raw
	return sv, nil
}

// Versions lists published versions without their documents, newest first.
func (s *SpecService) Versions(ctx context.Context, botID string) ([]SpecVersion, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT bot_id, version, created_at FROM bot_specs
		 WHERE bot_id = $1 ORDER BY version DESC`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spec versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SpecVersion
	for rows.Next() {
		var sv SpecVersion
		if err := rows.Scan(&sv.BotID, &sv.Version, &sv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}
