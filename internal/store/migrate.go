package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_profiles.sql)

// Migrator aplica migraciones SQL embebidas a Postgres.
type Migrator struct {
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS fs.FS, migrationsDir string) *Migrator {
	return &Migrator{
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Failed   *int
	Duration time.Duration
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y ordena las migraciones del FS.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.migrationsFS, m.migrationsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matches := migrationFilePattern.FindStringSubmatch(path.Base(p))
		if matches == nil {
			return nil // Ignorar archivos que no coinciden
		}
		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(m.migrationsFS, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: matches[2], SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Run aplica las migraciones pendientes.
func (m *Migrator) Run(ctx context.Context, exec PgxPoolExecutor) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}
	done := func(err error) (*MigrationResult, error) {
		result.Duration = time.Since(start)
		return result, err
	}

	const createSQL = `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`
	if _, err := exec.Exec(ctx, createSQL); err != nil {
		return done(fmt.Errorf("creating migrations table: %w", err))
	}

	var maxVersion int
	if err := exec.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&maxVersion); err != nil {
		return done(fmt.Errorf("getting applied migrations: %w", err))
	}

	migrations, err := m.ParseMigrations()
	if err != nil {
		return done(fmt.Errorf("parsing migrations: %w", err))
	}

	for _, mig := range migrations {
		if mig.Version <= maxVersion {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}
		if _, err := exec.Exec(ctx, mig.SQL); err != nil {
			v := mig.Version
			result.Failed = &v
			return done(fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err))
		}
		if _, err := exec.Exec(ctx, "INSERT INTO _migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
			return done(fmt.Errorf("recording migration %d: %w", mig.Version, err))
		}
		result.Applied = append(result.Applied, mig.Version)
	}
	return done(nil)
}
