// Package i18n resolves t:<key> markers against per-bot translation tables
// with user and chat locale preferences.
package i18n

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/botfabrik/botfabrik/pkg/template"
)

// DefaultLocale is the final fallback when no preference is stored.
const DefaultLocale = "ru"

const (
	cacheSize = 1000
	cacheTTL  = 5 * time.Minute
)

// markerRe matches "t:key" with an optional "{a=x, b=y}" argument list.
var markerRe = regexp.MustCompile(`^t:([A-Za-z0-9_.\-]+)\s*(?:\{(.*)\})?\s*$`)

// Settings come from a bot spec's i18n.fluent.v1 block.
type Settings struct {
	DefaultLocale string
	Supported     []string
}

// DefaultSettings apply when a spec carries no i18n block.
func DefaultSettings() Settings {
	return Settings{DefaultLocale: DefaultLocale, Supported: []string{"ru", "en"}}
}

// Supports reports whether the locale is in the configured set.
func (s Settings) Supports(locale string) bool {
	for _, l := range s.Supported {
		if l == locale {
			return true
		}
	}
	return false
}

// Resolver loads translations with a short-lived in-process cache.
// One instance serves all bots; cache entries are keyed (bot, locale).
type Resolver struct {
	db    *sql.DB
	cache *expirable.LRU[string, map[string]string]
}

// NewResolver creates a resolver on the shared connection pool.
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{
		db:    db,
		cache: expirable.NewLRU[string, map[string]string](cacheSize, nil, cacheTTL),
	}
}

// IsMarker reports whether text is a t:<key> marker.
func IsMarker(text string) bool {
	return strings.HasPrefix(text, "t:") && markerRe.MatchString(text)
}

// ParseMarker splits a marker into its key and argument map.
func ParseMarker(text string) (key string, args map[string]string, ok bool) {
	m := markerRe.FindStringSubmatch(text)
	if m == nil {
		return "", nil, false
	}
	key = m[1]
	if m[2] == "" {
		return key, nil, true
	}

	args = make(map[string]string)
	for _, pair := range strings.Split(m[2], ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		args[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return key, args, true
}

// UserLocale resolves the effective locale: per-user preference, then
// per-chat preference, then the bot default, then "ru". Lookup errors fall
// back rather than fail — a reply in the default locale beats no reply.
func (r *Resolver) UserLocale(ctx context.Context, botID string, userID, chatID int64, botDefault string) string {
	if userID != 0 {
		if locale, ok := r.lookupLocale(ctx, botID,
			`SELECT locale FROM locales WHERE bot_id = $1 AND user_id = $2 AND chat_id IS NULL`, userID); ok {
			return locale
		}
	}
	if chatID != 0 {
		if locale, ok := r.lookupLocale(ctx, botID,
			`SELECT locale FROM locales WHERE bot_id = $1 AND chat_id = $2 AND user_id IS NULL`, chatID); ok {
			return locale
		}
	}
	if botDefault != "" {
		return botDefault
	}
	return DefaultLocale
}

func (r *Resolver) lookupLocale(ctx context.Context, botID, query string, id int64) (string, bool) {
	var locale string
	err := r.db.QueryRowContext(ctx, query, botID, id).Scan(&locale)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		slog.Warn("Locale lookup failed, falling back", "bot_id", botID, "error", err)
		return "", false
	}
	return locale, locale != ""
}

// SetUserLocale stores a per-user preference.
func (r *Resolver) SetUserLocale(ctx context.Context, botID string, userID int64, locale string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locales (bot_id, user_id, chat_id, locale) VALUES ($1, $2, NULL, $3)
		 ON CONFLICT (bot_id, user_id) WHERE user_id IS NOT NULL DO UPDATE SET locale = EXCLUDED.locale`,
		botID, userID, locale)
	if err != nil {
		return fmt.Errorf("failed to set user locale: %w", err)
	}
	return nil
}

// SetChatLocale stores a per-chat preference.
func (r *Resolver) SetChatLocale(ctx context.Context, botID string, chatID int64, locale string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locales (bot_id, user_id, chat_id, locale) VALUES ($1, NULL, $2, $3)
		 ON CONFLICT (bot_id, chat_id) WHERE chat_id IS NOT NULL DO UPDATE SET locale = EXCLUDED.locale`,
		botID, chatID, locale)
	if err != nil {
		return fmt.Errorf("failed to set chat locale: %w", err)
	}
	return nil
}

// Keys returns all translations for (bot, locale), cached for a few minutes.
func (r *Resolver) Keys(ctx context.Context, botID, locale string) (map[string]string, error) {
	cacheKey := botID + ":" + locale
	if keys, ok := r.cache.Get(cacheKey); ok {
		return keys, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM i18n_keys WHERE bot_id = $1 AND locale = $2`, botID, locale)
	if err != nil {
		return nil, fmt.Errorf("failed to load i18n keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan i18n key: %w", err)
		}
		keys[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read i18n keys: %w", err)
	}

	r.cache.Add(cacheKey, keys)
	return keys, nil
}

// SetKeys upserts translations for (bot, locale) and drops the cache entry.
func (r *Resolver) SetKeys(ctx context.Context, botID, locale string, keys map[string]string) error {
	for k, v := range keys {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO i18n_keys (bot_id, locale, key, value) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (bot_id, locale, key) DO UPDATE SET value = EXCLUDED.value`,
			botID, locale, k, v)
		if err != nil {
			return fmt.Errorf("failed to upsert i18n key %q: %w", k, err)
		}
	}
	r.cache.Remove(botID + ":" + locale)
	return nil
}

// Invalidate drops all cached locales for a bot, called on spec reload.
func (r *Resolver) Invalidate(botID string) {
	prefix := botID + ":"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
}

// Resolve translates text when it is a t:<key> marker and returns it
// unchanged otherwise. A missing key returns the literal marker so missing
// translations stay visible.
func (r *Resolver) Resolve(ctx context.Context, botID, locale, text string) string {
	key, args, ok := ParseMarker(text)
	if !ok {
		return text
	}

	value, found := r.lookupKey(ctx, botID, locale, key)
	if !found {
		slog.Warn("i18n key miss", "bot_id", botID, "locale", locale, "key", key)
		return text
	}

	if len(args) == 0 {
		return value
	}
	scope := make(template.Scope, len(args))
	for k, v := range args {
		scope[k] = v
	}
	return template.Scalars(value, scope)
}

// lookupKey checks the requested locale then the default locale.
func (r *Resolver) lookupKey(ctx context.Context, botID, locale, key string) (string, bool) {
	keys, err := r.Keys(ctx, botID, locale)
	if err == nil {
		if v, ok := keys[key]; ok {
			return v, true
		}
	} else {
		slog.Warn("i18n lookup failed", "bot_id", botID, "locale", locale, "error", err)
	}

	if locale != DefaultLocale {
		fallback, err := r.Keys(ctx, botID, DefaultLocale)
		if err == nil {
			if v, ok := fallback[key]; ok {
				return v, true
			}
		}
	}
	return "", false
}
