package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MatthewCalhoun/AutoTunez/internal/config"
	"github.com/MatthewCalhoun/AutoTunez/internal/wallet"
)

func TestNewWiresServices(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(wallet.EnvPrivateKey, "")

	var lookups atomic.Int32
	overlaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"type":"output-list","outputs":[]}`)
	}))
	defer overlaySrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"identityKey":"02abc","username":"bob"}`)
	}))
	defer apiSrv.Close()

	t.Setenv("AUTOTUNEZ_OVERLAY_HOSTS", overlaySrv.URL)
	t.Setenv("AUTOTUNEZ_CACHE_BACKEND", "memory")
	t.Setenv("AUTOTUNEZ_API_URL", apiSrv.URL)
	t.Setenv("AUTOTUNEZ_API_RESOLVE_FALLBACK", "true")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	a, err := New(cfg, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if !a.Wallet.Anonymous() {
		t.Fatal("expected anyone wallet without a configured key")
	}

	id, found := a.Resolver.ResolveByIdentityKey(context.Background(), "02abc")
	if !found || id.Name != "bob" {
		t.Fatalf("ResolveByIdentityKey = %+v, %v", id, found)
	}
	if lookups.Load() == 0 {
		t.Fatal("overlay was not queried before the API fallback")
	}
	if cached, ok := a.Cache.Get("02abc"); !ok || cached.Name != "bob" {
		t.Fatalf("API result was not cached: %+v", cached)
	}
}

func TestNewFailsOnBadKeyFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(wallet.EnvPrivateKey, "")
	t.Setenv("AUTOTUNEZ_CACHE_BACKEND", "memory")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	if _, err := New(cfg, "/nonexistent/id.json", nil); err == nil || !strings.Contains(err.Error(), "wallet") {
		t.Fatalf("expected wallet error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	if !NewLogger("debug").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not applied")
	}
	if NewLogger("bogus").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("unknown level must fall back to info")
	}
}
