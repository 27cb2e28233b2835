package identitycache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per namespace in a directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(namespace string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, namespace)
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Get(namespace string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(namespace))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache file: %w", err)
	}
	return string(data), true, nil
}

// Set writes through a temp file and rename so readers never see a partial payload.
func (f *FileStore) Set(namespace, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	target := f.path(namespace)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (f *FileStore) Remove(namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(namespace)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}
