package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Backend stores opaque values by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// SQLiteBackend is a kv table in a local sqlite file.
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC())
	return err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// MemoryBackend keeps values in a map. Used by tests and --test mode.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return append([]byte(nil), v...), ok, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	m.puts++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Puts reports how many writes reached the backend.
func (m *MemoryBackend) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Store owns the in-memory Preferences. Reads and Update touch only memory;
// Save is the single point where memory is written to the backend.
type Store struct {
	backend Backend

	mu       sync.RWMutex
	current  Preferences
	dirty    bool
	readOnly bool // a newer schema is on disk; never overwrite it
}

// Open loads the stored record once. A missing record yields defaults. A
// corrupt or newer-schema record also yields defaults and is reported as the
// returned error alongside a usable Store.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	s := &Store{backend: backend, current: Defaults()}

	data, ok, err := backend.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	if !ok {
		return s, nil
	}

	p, err := decode(data)
	if err != nil {
		s.readOnly = errors.Is(err, ErrUnsupportedSchema)
		return s, err
	}
	s.current = p
	return s, nil
}

func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to a copy of the preferences and keeps the result in
// memory if it validates. Nothing is persisted until Save.
func (s *Store) Update(fn func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.current = next
	s.dirty = true
	return nil
}

// Dirty reports whether memory has diverged from the last load or save.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return ErrUnsupportedSchema
	}
	data, err := encode(s.current)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.backend.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	s.dirty = false
	return nil
}

// Reload discards unsaved changes and rereads the backend. A record that
// cannot be used is handled as in Open.
func (s *Store) Reload(ctx context.Context) error {
	data, ok, err := s.backend.Get(ctx, Key)
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}
	p := Defaults()
	if ok {
		p, err = decode(data)
		if err != nil {
			p = Defaults()
		}
	}
	s.mu.Lock()
	s.current = p
	s.dirty = false
	s.readOnly = errors.Is(err, ErrUnsupportedSchema)
	s.mu.Unlock()
	return err
}

func (s *Store) Close() error {
	return s.backend.Close()
}
