package dsl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Source fetches the highest published spec version for a bot.
type Source interface {
	LatestSpec(ctx context.Context, botID string) (raw []byte, version int, err error)
}

// Cache holds compiled specs per bot. Lookups are lock-free reads of an
// atomic reference: in-flight handlers keep executing against the spec they
// observed while a reload installs the replacement.
type Cache struct {
	source Source

	mu    sync.RWMutex
	specs map[string]*Compiled
}

// NewCache creates an empty cache over the given source.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		specs:  make(map[string]*Compiled),
	}
}

// Get returns the compiled spec for a bot, compiling synchronously on first
// use. The cache has no TTL; entries live until Reload or Invalidate.
func (c *Cache) Get(ctx context.Context, botID string) (*Compiled, error) {
	c.mu.RLock()
	compiled, ok := c.specs[botID]
	c.mu.RUnlock()
	if ok {
		return compiled, nil
	}
	return c.Reload(ctx, botID)
}

// Reload recompiles from the current highest published version and swaps the
// cached reference. Reloading the same version twice yields an identical
// compiled form, so concurrent reloads are harmless.
func (c *Cache) Reload(ctx context.Context, botID string) (*Compiled, error) {
	raw, version, err := c.source.LatestSpec(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spec for bot %s: %w", botID, err)
	}

	compiled, err := Compile(botID, version, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compile spec for bot %s: %w", botID, err)
	}

	c.mu.Lock()
	c.specs[botID] = compiled
	c.mu.Unlock()

	slog.Info("Spec compiled",
		"bot_id", botID,
		"version", version,
		"intents", len(compiled.Intents),
		"menus", len(compiled.Menus),
		"wizards", len(compiled.Wizards))
	return compiled, nil
}

// Invalidate drops a bot's cached spec; the next Get recompiles. Used by the
// cross-pod reload listener, which must not block on compilation.
func (c *Cache) Invalidate(botID string) {
	c.mu.Lock()
	delete(c.specs, botID)
	c.mu.Unlock()
}
