package identitycache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is durable key-value storage for serialized cache payloads.
type Store interface {
	Get(namespace string) (string, bool, error)
	Set(namespace, value string) error
	Remove(namespace string) error
}

// Backend names accepted by OpenStore.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Backend       string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenStore creates the store selected by cfg.Backend. File-backed stores live in
// cfg.DataDir, which is created if needed.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, BackendSQLite:
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data dir is required for %s backend", cfg.Backend)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		if cfg.Backend == BackendFile {
			logger.Info("Using file identity cache", "dir", cfg.DataDir)
			return NewFileStore(cfg.DataDir), nil
		}
		dbPath := filepath.Join(cfg.DataDir, "identity-cache.sqlite")
		store, err := NewGormStore(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite identity cache", "db", dbPath)
		return store, nil
	case BackendRedis:
		store, err := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		logger.Info("Using Redis identity cache", "addr", cfg.RedisAddr)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// MemoryStore keeps payloads in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(namespace string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[namespace]
	return v, ok, nil
}

func (m *MemoryStore) Set(namespace, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[namespace] = value
	return nil
}

func (m *MemoryStore) Remove(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, namespace)
	return nil
}
