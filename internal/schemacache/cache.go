// Package schemacache caches compiled dialogue definitions per tenant, with
// explicit invalidation and a relational-store fallback on miss or cache
// outage.
package schemacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/schema"
)

// TTL is a backstop only; staleness is bounded by explicit invalidation and
// version tags, not by expiry.
const TTL = 12 * time.Hour

// ErrNoDefinition indicates the tenant has not published a dialogue yet.
var ErrNoDefinition = errors.New("bot has no dialogue definition")

// Loader supplies the authoritative definition from the relational store.
type Loader interface {
	LoadDefinition(ctx context.Context, botID string) (raw []byte, version int64, err error)
}

// entry is the cached envelope: the definition JSON tagged with its version.
type entry struct {
	Version    int64           `json:"version"`
	Definition json.RawMessage `json:"definition"`
}

// Cache serves dialogue definitions.
type Cache struct {
	client       redis.Cmdable
	loader       Loader
	cacheBreaker *breaker.Breaker
	storeBreaker *breaker.Breaker
	log          *slog.Logger
}

// New wires the cache. client may be nil when the cache store is not
// configured; every read then goes to the loader.
func New(client redis.Cmdable, loader Loader, cacheBreaker, storeBreaker *breaker.Breaker, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}

	return &Cache{
		client:       client,
		loader:       loader,
		cacheBreaker: cacheBreaker,
		storeBreaker: storeBreaker,
		log:          log,
	}
}

// Get returns the tenant's definition and its version. Cache hits are served
// directly; misses and cache outages load from the relational store and write
// back best-effort.
func (c *Cache) Get(ctx context.Context, botID string) (*schema.DialogueDefinition, int64, error) {
	if cached := c.fromCache(ctx, botID); cached != nil {
		def, err := schema.Parse(cached.Definition)
		if err == nil {
			return def, cached.Version, nil
		}
		// A cache entry that no longer parses is treated as a miss.
		c.log.Warn("dropping undecodable cached definition", "bot_id", botID, "error", err)
	}

	var (
		raw     []byte
		version int64
	)
	err := c.storeBreaker.Execute(func() error {
		var loadErr error
		raw, version, loadErr = c.loader.LoadDefinition(ctx, botID)
		return loadErr
	})
	if err != nil {
		return nil, 0, err
	}
	if len(raw) == 0 {
		return nil, 0, ErrNoDefinition
	}

	def, err := schema.Parse(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("stored definition for bot %s: %w", botID, err)
	}

	c.writeBack(ctx, botID, raw, version)

	return def, version, nil
}

// Invalidate drops the cached entry after a tenant edits their definition.
// The next Get observes the update.
func (c *Cache) Invalidate(ctx context.Context, botID string) error {
	if c.client == nil {
		return nil
	}

	return c.cacheBreaker.Execute(func() error {
		return c.client.Del(ctx, cacheKey(botID)).Err()
	})
}

func (c *Cache) fromCache(ctx context.Context, botID string) *entry {
	if c.client == nil {
		return nil
	}

	var data string
	err := c.cacheBreaker.Execute(func() error {
		var getErr error
		data, getErr = c.client.Get(ctx, cacheKey(botID)).Result()
		if errors.Is(getErr, redis.Nil) {
			data = ""
			return nil
		}
		return getErr
	})
	if err != nil || data == "" {
		return nil
	}

	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil
	}

	return &e
}

// writeBack caches the loaded definition. Failure to write is not fatal.
func (c *Cache) writeBack(ctx context.Context, botID string, raw []byte, version int64) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(entry{Version: version, Definition: raw})
	if err != nil {
		return
	}

	err = c.cacheBreaker.Execute(func() error {
		return c.client.Set(ctx, cacheKey(botID), data, TTL).Err()
	})
	if err != nil {
		c.log.Debug("schema cache write-back failed", "bot_id", botID, "error", err)
	}
}

func cacheKey(botID string) string {
	return "schema:" + botID
}
