package authkit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// MemoryStorage is a process-local Storage, used in tests and as a fallback
// when no durable storage is configured.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStorage persists keys as a single JSON document, written atomically.
// It implements StorageWatcher by polling the file, which is how another
// process's writes (the cross-tab case) become visible.
type FileStorage struct {
	path         string
	pollInterval time.Duration

	mu sync.Mutex
}

type FileStorageOption func(*FileStorage)

// WithPollInterval overrides the watch poll cadence (default 1s).
func WithPollInterval(d time.Duration) FileStorageOption {
	return func(fs *FileStorage) {
		if d > 0 {
			fs.pollInterval = d
		}
	}
}

func NewFileStorage(path string, opts ...FileStorageOption) *FileStorage {
	fs := &FileStorage{
		path:         path,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fs)
		}
	}
	return fs
}

func (fs *FileStorage) Get(key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (fs *FileStorage) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.read()
	if err != nil {
		return err
	}
	values[key] = value
	return fs.write(values)
}

func (fs *FileStorage) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := fs.read()
	if err != nil {
		return err
	}
	delete(values, key)
	return fs.write(values)
}

// Watch polls the backing file and reports keys whose values changed since
// the previous poll, including keys added or removed by another process.
func (fs *FileStorage) Watch(fn func(key string)) (func(), error) {
	fs.mu.Lock()
	last, err := fs.read()
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(fs.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fs.mu.Lock()
				current, err := fs.read()
				fs.mu.Unlock()
				if err != nil {
					continue
				}
				for key, value := range current {
					if prev, ok := last[key]; !ok || prev != value {
						fn(key)
					}
				}
				for key := range last {
					if _, ok := current[key]; !ok {
						fn(key)
					}
				}
				last = current
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func (fs *FileStorage) read() (map[string]string, error) {
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read storage file")
	}

	values := map[string]string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt storage file")
	}
	return values, nil
}

func (fs *FileStorage) write(values map[string]string) error {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode storage file")
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create storage directory")
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write storage file")
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace storage file")
	}
	return nil
}
