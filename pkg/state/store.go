// Package state persists per-(bot,user) wizard state in Redis. Saves are
// compare-and-set: when two handlers race on the same key a single winner
// advances the wizard and the loser observes the new revision.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// FormatV1 is the current state record format.
	FormatV1 = "v1"

	// DefaultTTL applies when a wizard does not configure its own.
	DefaultTTL = 86400 * time.Second
	// MinTTL is the lower bound for configured TTLs.
	MinTTL = 60 * time.Second
)

var (
	// ErrConflict is returned when a concurrent save won the race.
	ErrConflict = errors.New("state modified concurrently")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	// The record is discarded; callers treat the wizard as not started.
	ErrCorrupt = errors.New("state record corrupt")
)

// State is one user's progress through a wizard.
type State struct {
	Format string `json:"format"`
	// Cmd is the entry command of the owning wizard flow.
	Cmd       string            `json:"cmd"`
	Step      int               `json:"step"`
	Vars      map[string]string `json:"vars"`
	StartedAt time.Time         `json:"started_at"`
	// Rev is the compare-and-set token, bumped on every successful save.
	Rev int64 `json:"rev"`

	// Flow is accepted from legacy records and upgraded into Cmd on load.
	Flow string `json:"flow,omitempty"`
}

// New returns a fresh step-0 state for the named wizard flow.
func New(cmd string) *State {
	return &State{
		Format:    FormatV1,
		Cmd:       cmd,
		Step:      0,
		Vars:      make(map[string]string),
		StartedAt: time.Now().UTC(),
	}
}

// Store reads and writes wizard state records.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a state store on the shared Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Key returns the Redis key for a (bot, user) pair.
func Key(botID string, userID int64) string {
	return fmt.Sprintf("state:%s:%d", botID, userID)
}

// KeyPrefix matches every state key of one bot, for scans and purges.
func KeyPrefix(botID string) string {
	return fmt.Sprintf("state:%s:", botID)
}

// NormalizeTTL clamps a spec-configured TTL in seconds to the allowed range.
// Zero or negative means "not configured" and yields the default.
func NormalizeTTL(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultTTL
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// Load returns the state for a (bot, user) pair, or nil when no wizard is
// active. A record that cannot be decoded is deleted and reported as
// ErrCorrupt so the caller can emit the corresponding error event.
func (s *Store) Load(ctx context.Context, botID string, userID int64) (*State, error) {
	key := Key(botID, userID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", key, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		_ = s.rdb.Del(ctx, key).Err()
		return nil, ErrCorrupt
	}

	// Legacy records carry "flow" instead of "format". Accept and upgrade;
	// anything else is corrupt.
	if st.Format == "" {
		if st.Flow == "" {
			_ = s.rdb.Del(ctx, key).Err()
			return nil, ErrCorrupt
		}
		st.Format = FormatV1
	}
	if st.Cmd == "" {
		if st.Flow == "" {
			_ = s.rdb.Del(ctx, key).Err()
			return nil, ErrCorrupt
		}
		st.Cmd = st.Flow
	}
	if st.Vars == nil {
		st.Vars = make(map[string]string)
	}

	return &st, nil
}

// Save writes the state if its revision still matches the stored record,
// bumping the revision on success. A fresh state (Rev 0) only saves when no
// record exists yet or the stored record is unreadable.
func (s *Store) Save(ctx context.Context, botID string, userID int64, st *State, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := Key(botID, userID)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if st.Rev != 0 {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read state %s: %w", key, err)
		default:
			var current State
			if jsonErr := json.Unmarshal(data, &current); jsonErr == nil && current.Rev != st.Rev {
				return ErrConflict
			}
		}

		next := *st
		next.Rev = st.Rev + 1
		next.Format = FormatV1
		next.Flow = ""

		payload, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}

		st.Rev = next.Rev
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Delete removes the state record, ending the wizard.
func (s *Store) Delete(ctx context.Context, botID string, userID int64) error {
	if err := s.rdb.Del(ctx, Key(botID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}
