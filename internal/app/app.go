// Package app wires configuration into a ready-to-use identity resolver.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MatthewCalhoun/AutoTunez/internal/certificate"
	"github.com/MatthewCalhoun/AutoTunez/internal/config"
	"github.com/MatthewCalhoun/AutoTunez/internal/fielddecrypt"
	"github.com/MatthewCalhoun/AutoTunez/internal/identitycache"
	"github.com/MatthewCalhoun/AutoTunez/internal/overlay"
	"github.com/MatthewCalhoun/AutoTunez/internal/resolver"
	"github.com/MatthewCalhoun/AutoTunez/internal/wallet"
)

// Originator is reported to the wallet on every decryption.
const Originator = "autotunez"

// App holds the long-lived services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Wallet   *wallet.Service
	Cache    *identitycache.Cache
	Resolver *resolver.Resolver
}

// NewLogger returns a text logger on stdout at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// New builds the wallet, cache, overlay client and resolver described by cfg.
// keyFile overrides cfg.Wallet.KeyFile when set.
func New(cfg *config.Config, keyFile string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}
	if keyFile == "" {
		keyFile = cfg.Wallet.KeyFile
	}

	walletSvc, err := wallet.Open(keyFile, cfg.Network, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wallet: %w", err)
	}

	store, err := identitycache.OpenStore(cfg.StoreConfig(), logger)
	if err != nil {
		walletSvc.Shutdown()
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}
	cache, err := identitycache.New(store,
		identitycache.WithNamespace(cfg.Cache.Namespace),
		identitycache.WithMaxAge(cfg.Cache.MaxAge),
		identitycache.WithLogger(logger),
	)
	if err != nil {
		walletSvc.Shutdown()
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}

	opts := resolver.Options{
		Overlay: overlay.NewClient(overlay.Config{
			Hosts:      cfg.Overlay.Hosts,
			Service:    cfg.Overlay.Service,
			Certifiers: cfg.Overlay.Certifiers,
			Timeout:    cfg.Overlay.Timeout,
			Logger:     logger,
		}),
		Parser:    certificate.NewParser(logger),
		Decryptor: fielddecrypt.New(walletSvc, Originator, logger),
		Cache:     cache,
		Logger:    logger,
	}
	if cfg.API.URL != "" {
		opts.Directory = overlay.NewSecondaryAPI(cfg.API.URL, nil, logger)
		opts.ResolveViaAPI = cfg.API.ResolveFallback
	}

	res, err := resolver.New(opts)
	if err != nil {
		_ = cache.Close()
		walletSvc.Shutdown()
		return nil, err
	}

	return &App{Config: cfg, Logger: logger, Wallet: walletSvc, Cache: cache, Resolver: res}, nil
}

// Close releases the cache store and the wallet.
func (a *App) Close() {
	if err := a.Cache.Close(); err != nil {
		a.Logger.Warn("Failed to close cache store", "error", err)
	}
	a.Wallet.Shutdown()
}
