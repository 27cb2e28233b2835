package identitycache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

func alice() identity.ResolvedIdentity {
	return identity.ResolvedIdentity{
		IdentityKey:     "02alice",
		Name:            "Alice",
		AvatarURL:       identity.StringPtr("https://x/alice.png"),
		Certifier:       "02certifier",
		CertificateType: identity.FallbackCertificateType,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCachePutGet(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, err := New(store, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, ok := c.Get("02alice"); ok {
		t.Fatal("empty cache must miss")
	}
	if err := c.Put(alice()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("02alice")
	if !ok || !got.Equal(alice()) || !got.CachedAt.Equal(now) {
		t.Fatalf("unexpected entry %+v", got)
	}

	// A second cache over the same store sees the persisted entry.
	reloaded, err := New(store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, ok = reloaded.Get("02alice")
	if !ok || !got.Equal(alice()) {
		t.Fatalf("entry not persisted: %+v", got)
	}
}

func TestCacheLastWriteWins(t *testing.T) {
	c, _ := New(NewMemoryStore())
	first := alice()
	second := alice()
	second.Name = "Alice B."
	second.AvatarURL = nil

	_ = c.Put(first)
	_ = c.Put(second)

	got, ok := c.Get("02alice")
	if !ok || got.Name != "Alice B." || got.AvatarURL != nil {
		t.Fatalf("expected last write, got %+v", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestCachePutRequiresKey(t *testing.T) {
	c, _ := New(NewMemoryStore())
	if err := c.Put(identity.ResolvedIdentity{Name: "nobody"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestCacheCorruptPayloadRecovery(t *testing.T) {
	for name, payload := range map[string]string{
		"invalid json":   "{not json",
		"wrong type":     `"just a string"`,
		"bad pair":       `[["02alice"]]`,
		"bad entries":    `{"version":2,"entries":[1,2]}`,
		"bad cached at":  `{"02alice":{"name":"Alice","cachedAt":true}}`,
		"missing fields": `{"version":2}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore()
			_ = store.Set(DefaultNamespace, payload)

			c, err := New(store)
			if err != nil {
				t.Fatalf("New must not fail on corrupt payload: %v", err)
			}
			if c.Len() != 0 {
				t.Fatalf("Len = %d, want 0", c.Len())
			}
			if _, ok, _ := store.Get(DefaultNamespace); ok {
				t.Fatal("corrupt payload must be wiped")
			}
			if err := c.Put(alice()); err != nil {
				t.Fatalf("Put after recovery failed: %v", err)
			}
		})
	}
}

func TestCacheLegacyShapes(t *testing.T) {
	pairs := `[["02alice",{"identityKey":"02alice","name":"Alice","avatarURL":null,"certifier":"c","certificateType":"t","cachedAt":1767225600000}],
		["02bob",{"name":"Bob","certifier":"c","certificateType":"t"}]]`
	plain := `{"02alice":{"identityKey":"02alice","name":"Alice","avatarURL":"https://x/a.png","certifier":"c","certificateType":"t","cachedAt":"2026-01-01T00:00:00Z"},
		"02bob":{"name":"Bob"}}`

	for name, payload := range map[string]string{"pairs": pairs, "plain map": plain} {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore()
			_ = store.Set(DefaultNamespace, payload)

			c, err := New(store)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if c.Len() != 2 {
				t.Fatalf("Len = %d, want 2", c.Len())
			}
			a, ok := c.Get("02alice")
			if !ok || a.Name != "Alice" {
				t.Fatalf("unexpected alice %+v", a)
			}
			if !a.CachedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("CachedAt = %v", a.CachedAt)
			}
			b, ok := c.Get("02bob")
			if !ok || b.IdentityKey != "02bob" {
				t.Fatalf("entry key should come from the map key, got %+v", b)
			}
		})
	}
}

func TestCacheRewritesLegacyPayload(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Set(DefaultNamespace, `{"02bob":{"name":"Bob"}}`)
	c, _ := New(store)
	_ = c.Put(alice())

	raw, _, _ := store.Get(DefaultNamespace)
	if !strings.HasPrefix(raw, `{"version":2,"entries":`) {
		t.Fatalf("payload not rewritten in current shape: %s", raw)
	}
}

func TestCacheSearchByNameSubstring(t *testing.T) {
	c, _ := New(NewMemoryStore())
	for _, id := range []identity.ResolvedIdentity{
		{IdentityKey: "03", Name: "DJ Alice"},
		{IdentityKey: "01", Name: "alice"},
		{IdentityKey: "02", Name: "Bob"},
		{IdentityKey: "00", Name: "Alice"},
	} {
		_ = c.Put(id)
	}

	got := c.SearchByNameSubstring("  ALI ")
	keys := make([]string, 0, len(got))
	for _, id := range got {
		keys = append(keys, id.IdentityKey)
	}
	if strings.Join(keys, ",") != "00,01,03" {
		t.Fatalf("search order = %v", keys)
	}
	if len(c.SearchByNameSubstring("zed")) != 0 {
		t.Fatal("unexpected match")
	}
	if c.SearchByNameSubstring("   ") != nil {
		t.Fatal("blank query must return nil")
	}
}

func TestCacheMaxAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	c, _ := New(NewMemoryStore(), WithMaxAge(time.Hour), WithClock(func() time.Time { return clock }))
	_ = c.Put(alice())

	clock = now.Add(30 * time.Minute)
	if _, ok := c.Get("02alice"); !ok {
		t.Fatal("fresh entry must hit")
	}
	clock = now.Add(2 * time.Hour)
	if _, ok := c.Get("02alice"); ok {
		t.Fatal("expired entry must miss")
	}
	if c.Len() != 0 || len(c.SearchByNameSubstring("alice")) != 0 {
		t.Fatal("expired entries must be invisible")
	}
}

func TestCacheRemoveAndClear(t *testing.T) {
	store := NewMemoryStore()
	c, _ := New(store)
	_ = c.Put(alice())
	_ = c.Put(identity.ResolvedIdentity{IdentityKey: "02bob", Name: "Bob"})

	if err := c.Remove("02alice"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := c.Get("02alice"); ok {
		t.Fatal("removed entry must miss")
	}
	if err := c.Remove("02missing"); err != nil {
		t.Fatalf("Remove of missing key failed: %v", err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("cache not cleared")
	}
	if _, ok, _ := store.Get(DefaultNamespace); ok {
		t.Fatal("persisted payload not cleared")
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Set(string, string) error { return errors.New("disk full") }

func TestCachePutKeepsEntryWhenPersistFails(t *testing.T) {
	c, _ := New(failingStore{NewMemoryStore()})
	if err := c.Put(alice()); err == nil {
		t.Fatal("expected persist error")
	}
	if _, ok := c.Get("02alice"); !ok {
		t.Fatal("entry must stay in memory")
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	if _, ok, err := fs.Get(DefaultNamespace); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := fs.Set(DefaultNamespace, `{"version":2,"entries":{}}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultNamespace+".json")); err != nil {
		t.Fatalf("cache file not created: %v", err)
	}
	v, ok, err := fs.Get(DefaultNamespace)
	if err != nil || !ok || v != `{"version":2,"entries":{}}` {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	if err := fs.Remove(DefaultNamespace); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := fs.Remove(DefaultNamespace); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
}

func TestFileStoreCorruptFileRecovery(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultNamespace+".json"), []byte("\x00garbage"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	c, err := New(NewFileStore(dir))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("expected empty cache")
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultNamespace+".json")); !os.IsNotExist(err) {
		t.Fatal("corrupt file must be removed")
	}
}

func TestOpenStore(t *testing.T) {
	if s, err := OpenStore(StoreConfig{}, nil); err != nil {
		t.Fatalf("memory backend failed: %v", err)
	} else if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected MemoryStore, got %T", s)
	}
	if _, err := OpenStore(StoreConfig{Backend: BackendFile}, nil); err == nil {
		t.Fatal("file backend without dir must fail")
	}
	if _, err := OpenStore(StoreConfig{Backend: BackendRedis}, nil); err == nil {
		t.Fatal("redis backend without addr must fail")
	}
	if _, err := OpenStore(StoreConfig{Backend: "etcd"}, nil); err == nil {
		t.Fatal("unknown backend must fail")
	}

	dir := filepath.Join(t.TempDir(), "nested")
	s, err := OpenStore(StoreConfig{Backend: BackendFile, DataDir: dir}, nil)
	if err != nil {
		t.Fatalf("file backend failed: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("expected FileStore, got %T", s)
	}
}
