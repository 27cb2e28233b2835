package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MatthewCalhoun/AutoTunez/internal/app"
	"github.com/MatthewCalhoun/AutoTunez/internal/config"
	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

var version = "dev"

var errUsage = errors.New("usage: identityctl [-config file] [-key-file file] resolve <identityKey> | search <text> | forget <identityKey> | version")

type resolver interface {
	ResolveByIdentityKey(ctx context.Context, key identity.Key) (identity.ResolvedIdentity, bool)
	SearchByDisplayName(ctx context.Context, text string) []identity.ResolvedIdentity
}

type forgetter interface {
	Remove(key identity.Key) error
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file")
	keyFile := flag.String("key-file", "", "Path to wallet identity JSON file")
	verbose := flag.Bool("v", false, "Log at debug level")
	flag.Parse()

	if flag.NArg() == 1 && flag.Arg(0) == "version" {
		fmt.Println(version)
		return
	}
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, errUsage)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a, err := app.New(cfg, *keyFile, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = runCommand(ctx, flag.Args(), a.Resolver, a.Cache, os.Stdout)
	stop()
	a.Close()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runCommand executes one subcommand and writes its JSON result to out.
func runCommand(ctx context.Context, args []string, r resolver, f forgetter, out io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd, arg := args[0], args[1]; cmd {
	case "resolve":
		id, found := r.ResolveByIdentityKey(ctx, arg)
		if !found {
			id = identity.Default(arg)
		}
		return enc.Encode(map[string]any{"found": found, "identity": id})
	case "search":
		results := r.SearchByDisplayName(ctx, arg)
		if results == nil {
			results = []identity.ResolvedIdentity{}
		}
		return enc.Encode(map[string]any{"results": results})
	case "forget":
		if err := f.Remove(arg); err != nil {
			return fmt.Errorf("failed to forget %s: %w", arg, err)
		}
		return enc.Encode(map[string]any{"removed": arg})
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}
