package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/ynab-sync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades an existing database to version. Statements run in
// one transaction together with the user_version bump.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations are applied in order to databases whose user_version is
// below their version. Version 0 is the bare schema.sql layout.
var migrations = []migration{
	{
		version: 1,
		name:    "index failed items by retry count for requeue",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_pending_item_status_retry ON pending_item(status, retry_count)`,
		},
	},
}

var currentSchemaVersion = migrations[len(migrations)-1].version

const defaultBusyTimeout = 5 * time.Second

// Store provides durable storage for sync runs, pending items and server
// knowledge on SQLite in WAL mode.
//
// Every method holds a connection for one statement or one short
// transaction. No method holds a connection while the caller talks to the
// remote API.
type Store struct {
	db   *sql.DB
	now  func() time.Time
	ids  IDGenerator
	path string

	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides the generator used for run and item IDs.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// WithBusyTimeout sets how long a statement waits on a locked database
// before failing with SQLITE_BUSY. Defaults to 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.busyTimeout = d
	}
}

// Open creates or opens the SQLite database at path, applies schema.sql
// and any pending migrations. Safe to call on an existing database.
//
// Connection settings travel in the DSN so that every pooled connection
// gets them: WAL journal, NORMAL synchronous, busy timeout, foreign keys
// (items cascade with their run) and BEGIN IMMEDIATE transactions.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		now:         time.Now,
		ids:         UUIDv7Generator{},
		path:        path,
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", dsn(path, s.busyTimeout))
	if err != nil {
		return nil, model.NewStorageError("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, model.NewStorageError("connect to database", err)
	}

	// One connection serializes writers; readers wait on it briefly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, model.NewStorageError("apply schema", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, model.NewStorageError("migrate schema", err)
	}

	s.db = db
	return s, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.NewStorageError("ping", err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migration %d (%s): set user_version: %w", m.version, m.name, err)
	}
	return tx.Commit()
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// schemaVersion returns the current user_version. Used for testing.
func (s *Store) schemaVersion() (int, error) {
	return userVersion(s.db)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
