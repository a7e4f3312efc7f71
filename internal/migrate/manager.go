// Package migrate applies the embedded schema with goose and tracks one-shot
// SQL seed files.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations is the schema for users and contacts, rooted at its own directory.
var Migrations = mustSub(embedded, "sql")

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// goose keeps dialect, base FS and table name in package globals.
var gooseMu sync.Mutex

// Seams for tests.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Manager runs schema migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithMigrations replaces the embedded schema.
func WithMigrations(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.migrations = fsys
		}
	}
}

// WithSeeds sets where seed files are read from. Without it Seed is a no-op.
func WithSeeds(fsys fs.FS) Option {
	return func(m *Manager) { m.seeds = fsys }
}

// NewManager constructs a Manager over the embedded migrations.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      Migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.withGoose(func() error {
		if err := gooseUpContext(ctx, m.db, "."); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.withGoose(func() error {
		version, err := gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version == 0 {
			return errors.New("no migrations applied")
		}
		if err := gooseDownContext(ctx, m.db, "."); err != nil {
			return fmt.Errorf("rollback version %d: %w", version, err)
		}
		return nil
	})
}

// Status returns applied migration files in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.withGoose(func() error {
		version, err := gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version == 0 {
			return nil
		}
		migrations, err := goose.CollectMigrations(".", 0, version)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			applied = append(applied, path.Base(mig.Source))
		}
		return nil
	})
	return applied, err
}

// Pending reports whether the embedded schema is ahead of the database.
func (m *Manager) Pending(ctx context.Context) (bool, error) {
	var pending bool
	err := m.withGoose(func() error {
		version, err := gooseVersion(ctx, m.db)
		if err != nil {
			return err
		}
		migrations, err := goose.CollectMigrations(".", version, goose.MaxVersion)
		if errors.Is(err, goose.ErrNoMigrationFiles) {
			// nothing above the current version
			return nil
		}
		if err != nil {
			return err
		}
		pending = len(migrations) > 0
		return nil
	})
	return pending, err
}

func (m *Manager) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.migrations)
	goose.SetTableName(m.migrationsTable)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return fn()
}

// Seed applies seed files idempotently, each in its own transaction.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	if err := m.ensureSeedsTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.seeds)
	if err != nil {
		return err
	}
	for _, name := range files {
		if executed[path.Base(name)] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		if err := m.insertRecord(ctx, path.Base(name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureSeedsTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.seedsTable)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.seedsTable),
		name, time.Now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func collectSQL(fsys fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return path.Base(files[i]) < path.Base(files[j])
	})
	return files, nil
}

// splitStatements naively splits SQL by semicolon, ignoring those inside single quotes.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
