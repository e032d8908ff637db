package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
)

// migrationLockID serializes migrators across replicas.
const migrationLockID = 0x647974746f // "dytto"

// RunMigrations applies the .sql files in migrationsFS that have not run
// yet, in filename order, and returns their names. Each file runs in its own
// transaction together with its schema_migrations row. A file whose content
// changed after it was applied is an error.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) ([]string, error) {
	files, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("postgres: list migrations: %w", err)
	}
	sort.Strings(files)

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire migration conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return nil, fmt.Errorf("postgres: migration lock: %w", err)
	}
	defer func() { _, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID) }()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range files {
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return ran, fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		sum := checksum(body)

		if prev, ok := applied[path.Base(name)]; ok {
			if prev != "" && prev != sum {
				return ran, fmt.Errorf("postgres: migration %s changed after it was applied", name)
			}
			continue
		}

		db.logger.Info("postgres: applying migration", "file", name)
		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)`, path.Base(name), sum)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
		ran = append(ran, name)
	}
	return ran, nil
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load applied migrations: %w", err)
	}
	type row struct {
		Version  string
		Checksum string
	}
	all, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("postgres: load applied migrations: %w", err)
	}
	out := make(map[string]string, len(all))
	for _, r := range all {
		out[r.Version] = r.Checksum
	}
	return out, nil
}

func checksum(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
