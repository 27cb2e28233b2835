// Package identitycache is the local, persistent store of resolved identities.
//
// The whole cache is serialized as one JSON document under a fixed namespace of the
// backing Store. Older clients persisted either a list of [key, value] pairs or a
// plain key->value object; both are read and rewritten in the current envelope.
// A payload that cannot be read is discarded and the cache starts empty.
package identitycache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

// DefaultNamespace is the storage namespace of the identity cache.
const DefaultNamespace = "autotunez.identity-cache"

const payloadVersion = 2

// Cache maps identity keys to resolved identities. It never stores negative results.
type Cache struct {
	mu        sync.RWMutex
	store     Store
	namespace string
	maxAge    time.Duration
	now       func() time.Time
	logger    *slog.Logger
	entries   map[identity.Key]identity.CachedIdentity
}

// Option configures a Cache.
type Option func(*Cache)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(c *Cache) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithMaxAge makes entries older than d invisible. Zero keeps entries forever.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithClock sets the time source used to stamp and expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache over store and loads its persisted entries.
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("identity cache store is required")
	}
	c := &Cache{
		store:     store,
		namespace: DefaultNamespace,
		now:       time.Now,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
		entries: make(map[identity.Key]identity.CachedIdentity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.load()
	return c, nil
}

func (c *Cache) load() {
	raw, ok, err := c.store.Get(c.namespace)
	if err != nil {
		c.logger.Warn("Failed to read identity cache, starting empty", "namespace", c.namespace, "error", err)
		return
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}

	entries, err := decodePayload([]byte(raw))
	if err != nil {
		c.logger.Warn("Discarding corrupt identity cache", "namespace", c.namespace, "error", err)
		if err := c.store.Remove(c.namespace); err != nil {
			c.logger.Warn("Failed to remove corrupt identity cache", "namespace", c.namespace, "error", err)
		}
		return
	}
	c.entries = entries
	c.logger.Debug("Loaded identity cache", "namespace", c.namespace, "entries", len(entries))
}

// Get returns the cached identity for key.
func (c *Cache) Get(key identity.Key) (identity.CachedIdentity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return identity.CachedIdentity{}, false
	}
	return e, true
}

// Put stores id, replacing any previous entry for its key, and persists the cache.
// The in-memory entry is kept even when persisting fails.
func (c *Cache) Put(id identity.ResolvedIdentity) error {
	if id.IdentityKey == "" {
		return errors.New("identity key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id.IdentityKey] = identity.CachedIdentity{ResolvedIdentity: id, CachedAt: c.now().UTC()}
	return c.persistLocked()
}

// Remove deletes the entry for key.
func (c *Cache) Remove(key identity.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return nil
	}
	delete(c.entries, key)
	return c.persistLocked()
}

// Clear deletes every entry and the persisted payload.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[identity.Key]identity.CachedIdentity)
	if err := c.store.Remove(c.namespace); err != nil {
		return fmt.Errorf("failed to clear identity cache: %w", err)
	}
	return nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}

// SearchByNameSubstring returns cached identities whose name contains text, ignoring
// case, ordered by name then key.
func (c *Cache) SearchByNameSubstring(text string) []identity.ResolvedIdentity {
	needle := identity.NormalizeQuery(text)
	if needle == "" {
		return nil
	}

	c.mu.RLock()
	var out []identity.ResolvedIdentity
	for _, e := range c.entries {
		if c.expired(e) {
			continue
		}
		if strings.Contains(strings.ToLower(e.Name), needle) {
			out = append(out, e.ResolvedIdentity)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].IdentityKey < out[j].IdentityKey
	})
	return out
}

// Close closes the backing store when it holds resources.
func (c *Cache) Close() error {
	if closer, ok := c.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) expired(e identity.CachedIdentity) bool {
	return c.maxAge > 0 && c.now().Sub(e.CachedAt) > c.maxAge
}

func (c *Cache) persistLocked() error {
	data, err := json.Marshal(envelope{Version: payloadVersion, Entries: c.entries})
	if err != nil {
		return fmt.Errorf("failed to encode identity cache: %w", err)
	}
	if err := c.store.Set(c.namespace, string(data)); err != nil {
		return fmt.Errorf("failed to persist identity cache: %w", err)
	}
	return nil
}
