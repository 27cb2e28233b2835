package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MatthewCalhoun/AutoTunez/internal/app"
	"github.com/MatthewCalhoun/AutoTunez/internal/config"
	"github.com/MatthewCalhoun/AutoTunez/internal/httpapi"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file")
	keyFile := flag.String("key-file", "", "Path to wallet identity JSON file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	run(cfg, *keyFile)
}

// run starts the resolver and HTTP server and blocks until SIGINT or SIGTERM.
func run(cfg *config.Config, keyFile string) {
	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Starting AutoTunez identity daemon", "version", version, "network", cfg.Network)

	a, err := app.New(cfg, keyFile, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.ListenAddr,
		TLSAddr:      cfg.TLSAddr,
		CertDir:      filepath.Join(cfg.DataDir, "certs"),
		CertHosts:    cfg.TLS.CertHosts,
		CertValidity: cfg.TLS.CertValidity,
		IdentityKey:  a.Wallet.IdentityKey(),
		Logger:       logger,
	}, a.Resolver, a.Cache)

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	logger.Info("AutoTunez identity daemon running",
		"http", "http://"+cfg.ListenAddr,
		"hosts", cfg.Overlay.Hosts,
		"cache", cfg.Cache.Backend,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	cancel()
	server.Stop()
	a.Close()
	logger.Info("Goodbye")
}
