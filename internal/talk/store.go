package talk

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// ErrConflict is returned when a document changed between read and write.
// Writes are serialized per talk, so this only happens when two processes
// share one database.
var ErrConflict = errors.New("talk document was modified concurrently")

// Store persists talks in SQLite. Every Modify runs in its own transaction,
// so the new version is durable before the call returns.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store using an existing *sql.DB connection and runs
// migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:    db,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("talk store migration failed: %w", err)
	}
	return s, nil
}

// Open opens (or creates) a SQLite database with the given driver. Path may
// be ":memory:", which tests use.
func Open(driver, path string) (*Store, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	return NewStore(db)
}

// DB exposes the connection so that other tables (heartbeats) can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS talks (
			number INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			repo TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			xml TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_talks_active ON talks(active, updated)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Exists implements Talks.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM talks WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get implements Talks.
func (s *Store) Get(ctx context.Context, name string) (Talk, error) {
	var number int64
	err := s.db.QueryRowContext(ctx, `SELECT number FROM talks WHERE name = ?`, name).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &storedTalk{store: s, name: name, number: number}, nil
}

// Create implements Talks. The new talk is inactive until someone activates it.
func (s *Store) Create(ctx context.Context, repo, name string) (Talk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO talks (name, repo, active, xml, updated) VALUES (?, ?, 0, '', ?)`,
		name, repo, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create talk %s: %w", name, err)
	}
	number, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	doc := NewDoc(name, number)
	if err := Validate(doc); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE talks SET xml = ? WHERE number = ?`, string(doc.XML()), number); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &storedTalk{store: s, name: name, number: number}, nil
}

// Active implements Talks.
func (s *Store) Active(ctx context.Context) ([]Talk, error) {
	return s.list(ctx, `SELECT name, number FROM talks WHERE active = 1 ORDER BY updated DESC, number DESC`)
}

// All lists every talk, active or not, most recently modified first.
func (s *Store) All(ctx context.Context) ([]Talk, error) {
	return s.list(ctx, `SELECT name, number FROM talks ORDER BY updated DESC, number DESC`)
}

func (s *Store) list(ctx context.Context, query string) ([]Talk, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var talks []Talk
	for rows.Next() {
		t := &storedTalk{store: s}
		if err := rows.Scan(&t.name, &t.number); err != nil {
			return nil, err
		}
		talks = append(talks, t)
	}
	return talks, rows.Err()
}

// Updated returns when a talk's document last changed.
func (s *Store) Updated(ctx context.Context, name string) (time.Time, error) {
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT updated FROM talks WHERE name = ?`, name).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, updated), nil
}

type storedTalk struct {
	store  *Store
	name   string
	number int64
}

func (t *storedTalk) Name() string  { return t.name }
func (t *storedTalk) Number() int64 { return t.number }

func (t *storedTalk) Read(ctx context.Context) (*Doc, error) {
	var raw string
	err := t.store.db.QueryRowContext(ctx, `SELECT xml FROM talks WHERE name = ?`, t.name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t.name)
	}
	if err != nil {
		return nil, err
	}
	return Parse([]byte(raw))
}

func (t *storedTalk) Modify(ctx context.Context, dirs *Directives) error {
	if dirs.Empty() {
		return nil
	}
	l := t.store.lock(t.name)
	l.Lock()
	defer l.Unlock()

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT xml, version FROM talks WHERE name = ?`, t.name).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, t.name)
	}
	if err != nil {
		return err
	}
	before, err := Parse([]byte(raw))
	if err != nil {
		return err
	}
	after, err := Apply(before, dirs)
	if err != nil {
		return fmt.Errorf("talk %s: %w", t.name, err)
	}
	out := after.XML()
	if bytes.Equal(out, before.XML()) {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE talks SET xml = ?, version = version + 1, updated = ? WHERE name = ? AND version = ?`,
		string(out), t.store.now().UnixNano(), t.name, version)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("talk %s: %w", t.name, ErrConflict)
	}
	return tx.Commit()
}

func (t *storedTalk) Active(ctx context.Context) (bool, error) {
	var active bool
	err := t.store.db.QueryRowContext(ctx, `SELECT active FROM talks WHERE name = ?`, t.name).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, t.name)
	}
	return active, err
}

func (t *storedTalk) SetActive(ctx context.Context, active bool) error {
	_, err := t.store.db.ExecContext(ctx, `UPDATE talks SET active = ? WHERE name = ?`, active, t.name)
	return err
}

func (t *storedTalk) Updated(ctx context.Context) (time.Time, error) {
	return t.store.Updated(ctx, t.name)
}
