// Package wallet provides the decryption capability used to read certificate fields.
// The root key comes from the environment or a wallet identity file; without one the
// service runs with the well-known "anyone" key and can only read publicly revealed fields.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	sdk "github.com/bsv-blockchain/go-sdk/wallet"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/defs"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/wdk"
)

// Environment variables consulted by LoadPrivateKey.
const (
	EnvPrivateKey = "AUTOTUNEZ_PRIVATE_KEY"
	EnvNetwork    = "AUTOTUNEZ_NETWORK"
)

// ErrNoIdentity means no root key was configured anywhere.
var ErrNoIdentity = errors.New("no wallet identity configured")

// walletIdentity is the JSON structure for the wallet identity file.
type walletIdentity struct {
	RootKeyHex  string `json:"rootKeyHex"`
	IdentityKey string `json:"identityKey"`
	Network     string `json:"network"`
}

// DefaultKeyFile returns ~/.autotunez/wallet-identity.json.
func DefaultKeyFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".autotunez", "wallet-identity.json"), nil
}

// ParseNetwork accepts "main"/"mainnet" and "test"/"testnet". Empty means mainnet.
func ParseNetwork(s string) (defs.BSVNetwork, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mainnet":
		s = "main"
	case "testnet":
		s = "test"
	}
	network, err := defs.ParseBSVNetworkStr(s)
	if err != nil {
		return "", fmt.Errorf("invalid network: %w", err)
	}
	return network, nil
}

// LoadPrivateKey loads the root key and its network.
// Priority: 1) AUTOTUNEZ_PRIVATE_KEY env, 2) keyFile, 3) ~/.autotunez/wallet-identity.json.
// It returns ErrNoIdentity when none of them is present.
func LoadPrivateKey(keyFile string) (privateKeyHex, network string, err error) {
	if envKey := strings.TrimSpace(os.Getenv(EnvPrivateKey)); envKey != "" {
		return envKey, os.Getenv(EnvNetwork), nil
	}

	path := keyFile
	if path == "" {
		def, err := DefaultKeyFile()
		if err != nil {
			return "", "", err
		}
		if _, statErr := os.Stat(def); statErr != nil {
			return "", "", ErrNoIdentity
		}
		path = def
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	var identity walletIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return "", "", fmt.Errorf("failed to parse key file: %w", err)
	}
	if identity.RootKeyHex == "" {
		return "", "", fmt.Errorf("rootKeyHex is empty in %s", path)
	}
	return identity.RootKeyHex, identity.Network, nil
}

// Service wraps a ProtoWallet and exposes its decryption capability.
type Service struct {
	mu          sync.RWMutex
	wallet      *sdk.ProtoWallet
	identityKey string
	network     defs.BSVNetwork
	anonymous   bool
	logger      *slog.Logger
}

// New creates a Service for the given root key.
func New(privateKeyHex, network string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	chain, err := ParseNetwork(network)
	if err != nil {
		return nil, err
	}

	identityKey, err := wdk.IdentityKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity key: %w", err)
	}
	priv, err := ec.PrivateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	w, err := sdk.NewProtoWallet(sdk.ProtoWalletArgs{Type: sdk.ProtoWalletArgsTypePrivateKey, PrivateKey: priv})
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	logger.Info("Wallet initialized", "identityKey", identityKey, "network", chain)
	return &Service{wallet: w, identityKey: identityKey, network: chain, logger: logger}, nil
}

// NewAnyone creates a Service using the public "anyone" key.
func NewAnyone(network string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	chain, err := ParseNetwork(network)
	if err != nil {
		return nil, err
	}
	w, err := sdk.NewProtoWallet(sdk.ProtoWalletArgs{Type: sdk.ProtoWalletArgsTypeAnyone})
	if err != nil {
		return nil, fmt.Errorf("failed to create anyone wallet: %w", err)
	}
	res, err := w.GetPublicKey(context.Background(), sdk.GetPublicKeyArgs{IdentityKey: true}, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get identity key: %w", err)
	}

	identityKey := res.PublicKey.ToDERHex()
	logger.Info("No wallet identity configured, using anyone wallet", "identityKey", identityKey, "network", chain)
	return &Service{wallet: w, identityKey: identityKey, network: chain, anonymous: true, logger: logger}, nil
}

// Open loads the configured root key, falling back to the anyone wallet when none exists.
// network, when set, overrides the network stored with the key.
func Open(keyFile, network string, logger *slog.Logger) (*Service, error) {
	privateKeyHex, keyNetwork, err := LoadPrivateKey(keyFile)
	if network == "" {
		network = keyNetwork
	}
	if errors.Is(err, ErrNoIdentity) {
		return NewAnyone(network, logger)
	}
	if err != nil {
		return nil, err
	}
	return New(privateKeyHex, network, logger)
}

// Decrypt decrypts ciphertext with a key derived from the root key.
func (s *Service) Decrypt(ctx context.Context, args sdk.DecryptArgs, originator string) (*sdk.DecryptResult, error) {
	s.mu.RLock()
	w := s.wallet
	s.mu.RUnlock()

	if w == nil {
		return nil, errors.New("wallet not initialized")
	}
	return w.Decrypt(ctx, args, originator)
}

// IdentityKey returns the hex public identity key of the wallet.
func (s *Service) IdentityKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identityKey
}

// Network returns the configured network.
func (s *Service) Network() defs.BSVNetwork {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

// Anonymous reports whether the service runs with the anyone key.
func (s *Service) Anonymous() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anonymous
}

// Shutdown drops the wallet; later Decrypt calls fail.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet = nil
	s.logger.Info("Wallet shut down")
}
