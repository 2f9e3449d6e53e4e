package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"socialhub/internal/security"
)

// MigrationsDir can be overridden in tests or by the application
var MigrationsDir = "scripts/migrations"

//go:embed sql/*.sql
var embedded embed.FS

const migrationsDirEnv = "SOCIALHUB_MIGRATIONS_DIR"

// Migration is one numbered schema step, e.g. 001_credentials.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

func getDefaultMigrationsDir() string {
	if dir := os.Getenv(migrationsDirEnv); dir != "" {
		return dir
	}
	return MigrationsDir
}

// Load returns the migrations found on disk, or the embedded set when no
// migrations directory exists
func Load() ([]Migration, error) {
	dir := getDefaultMigrationsDir()
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, fmt.Errorf("invalid migrations directory: %w", err)
	}
	searchPaths := []string{
		dir,
		filepath.Join("..", "..", dir),
		filepath.Join("..", dir),
	}

	for _, path := range searchPaths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		return readMigrations(os.DirFS(path), ".")
	}

	return readMigrations(embedded, "sql")
}

func readMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := parseVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		content, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s has no version prefix", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("migration %s has an invalid version prefix", name)
	}
	return version, nil
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := Load()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
		return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
	}
	if count > 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
	}
	return tx.Commit()
}

// Applied returns the recorded migration versions in order
func Applied(ctx context.Context, db *sql.DB) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
