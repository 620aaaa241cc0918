// Package remoteconfig holds feature values that can be changed without a
// client release. Defaults are seeded at startup; Fetch replaces them with
// the values published by a Source, at most once per cache TTL.
package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/metrics"
)

const (
	// CacheTTL is how long fetched values are reused in production.
	CacheTTL = 3600 * time.Second

	// DeveloperCacheTTL disables caching so changes show up immediately.
	DeveloperCacheTTL = 0
)

// ErrFetchFailed wraps source errors returned by Fetch.
var ErrFetchFailed = errors.New("remoteconfig: fetch failed")

// CacheExpiration returns the cache TTL for the given mode.
func CacheExpiration(developerMode bool) time.Duration {
	if developerMode {
		return DeveloperCacheTTL
	}
	return CacheTTL
}

// Defaults returns the values seeded at startup.
func Defaults() map[string]int64 {
	return map[string]int64{chat.LengthKey: chat.DefaultMaxLength}
}

// Source publishes raw config values.
type Source interface {
	Values(ctx context.Context) (map[string]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (map[string]string, error)

func (f SourceFunc) Values(ctx context.Context) (map[string]string, error) { return f(ctx) }

// Config is safe for concurrent use.
type Config struct {
	source   Source
	defaults map[string]int64

	mu        sync.RWMutex
	active    map[string]string
	fetchedAt time.Time
	now       func() time.Time
}

// New seeds defaults. A nil source makes Fetch a no-op.
func New(source Source, defaults map[string]int64) *Config {
	d := make(map[string]int64, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Config{
		source:   source,
		defaults: d,
		active:   make(map[string]string),
		now:      time.Now,
	}
}

// Fetch loads and activates values from the source unless the last
// successful fetch is younger than cacheTTL. On error the active values are
// kept.
func (c *Config) Fetch(ctx context.Context, cacheTTL time.Duration) error {
	if c.source == nil {
		return nil
	}

	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && cacheTTL > 0 && c.now().Sub(c.fetchedAt) < cacheTTL
	c.mu.RUnlock()
	if fresh {
		metrics.ConfigFetches.WithLabelValues("cached").Inc()
		return nil
	}

	values, err := c.source.Values(ctx)
	if err != nil {
		metrics.ConfigFetches.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	active := make(map[string]string, len(values))
	for k, v := range values {
		active[k] = v
	}

	c.mu.Lock()
	c.active = active
	c.fetchedAt = c.now()
	c.mu.Unlock()

	metrics.ConfigFetches.WithLabelValues("fetched").Inc()
	return nil
}

// Int returns the active value for key, falling back to the default when the
// key is missing or not an integer. Unknown keys yield 0.
func (c *Config) Int(key string) int64 {
	c.mu.RLock()
	raw, ok := c.active[key]
	c.mu.RUnlock()

	if ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return c.defaults[key]
}

// String returns the active raw value for key, or the default formatted as a
// string.
func (c *Config) String(key string) string {
	c.mu.RLock()
	raw, ok := c.active[key]
	c.mu.RUnlock()

	if ok {
		return raw
	}
	if v, ok := c.defaults[key]; ok {
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// MaxMessageLength returns the current message length limit.
func (c *Config) MaxMessageLength() int {
	return int(c.Int(chat.LengthKey))
}
