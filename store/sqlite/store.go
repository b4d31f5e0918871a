// Package sqlite provides a SQLite store backend via modernc.org/sqlite.
// WAL mode with a busy timeout makes it safe for a single host running a
// few worker goroutines; use the postgres or redis backends for multi-host
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ workflow.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens (or creates) the SQLite database at path.
func New(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("automation/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the embedded SQL migrations in filename order. Applied
// migrations are tracked in automation_migrations and skipped on re-run.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS automation_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("automation/sqlite: %w: %v", automation.ErrMigrationFailed, err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("automation/sqlite: %w: %v", automation.ErrMigrationFailed, err)
	}
	sort.Strings(names)

	for _, name := range names {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM automation_migrations WHERE name = ?`, name).Scan(&n)
		if err != nil {
			return fmt.Errorf("automation/sqlite: %w: %v", automation.ErrMigrationFailed, err)
		}
		if n > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("automation/sqlite: %w: %v", automation.ErrMigrationFailed, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("automation/sqlite: %w: apply %s: %v", automation.ErrMigrationFailed, name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO automation_migrations (name, applied_at) VALUES (?, ?)`,
			name, fmtTime(time.Now())); err != nil {
			return fmt.Errorf("automation/sqlite: %w: record %s: %v", automation.ErrMigrationFailed, name, err)
		}
		s.logger.Debug("migration applied", "name", name)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// timeLayout is fixed-width so that lexicographic order on the TEXT
// columns equals chronological order. RFC3339Nano drops trailing zeros
// and breaks that property for wake_at range scans.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// fmtTime and parseTime convert timestamps to and from the TEXT columns.
func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
