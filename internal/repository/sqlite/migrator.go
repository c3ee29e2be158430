package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"optionsmetrics/internal/metrics"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Migration kinds recorded in schema_migrations
const (
	KindCreate     = "create"
	KindAddColumns = "add_columns"
	KindRebuild    = "rebuild"
	KindVerify     = "verify"
)

const migrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	table_name    TEXT    NOT NULL,
	version       INTEGER NOT NULL,
	kind          TEXT    NOT NULL,
	columns_added INTEGER NOT NULL DEFAULT 0,
	rows_copied   INTEGER NOT NULL DEFAULT 0,
	applied_at    TEXT    NOT NULL,
	PRIMARY KEY (table_name, version)
)`

// Migration is one applied schema change
type Migration struct {
	Table        string `db:"table_name"`
	Version      int    `db:"version"`
	Kind         string `db:"kind"`
	ColumnsAdded int    `db:"columns_added"`
	RowsCopied   int64  `db:"rows_copied"`
	AppliedAt    string `db:"applied_at"`
}

// Migrator brings a store to the target table versions.
// Live columns are only inspected for tables whose recorded version is behind.
type Migrator struct {
	specs        []TableSpec
	rebuildAfter int
	log          *logger.Logger
}

// NewMigrator creates a migrator. Tables missing more than rebuildAfter
// columns are rebuilt instead of altered in place.
func NewMigrator(specs []TableSpec, rebuildAfter int, log *logger.Logger) *Migrator {
	if log == nil {
		log = logger.Get()
	}
	return &Migrator{
		specs:        specs,
		rebuildAfter: rebuildAfter,
		log:          log.With("component", "migrator"),
	}
}

// Migrate applies pending migrations and returns what was applied
func (m *Migrator) Migrate(ctx context.Context, db *sqlx.DB) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, migrationsDDL); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	var applied []Migration
	for _, spec := range m.specs {
		mig, err := m.migrateTable(ctx, db, spec)
		if err != nil {
			return applied, errors.Wrapf(err, "migrate %s", spec.Name)
		}
		if mig != nil {
			applied = append(applied, *mig)
			metrics.SchemaMigrations.WithLabelValues(mig.Table, mig.Kind).Inc()
			m.log.Info("schema migration applied",
				"table", mig.Table,
				"version", mig.Version,
				"kind", mig.Kind,
				"columns_added", mig.ColumnsAdded,
				"rows_copied", mig.RowsCopied,
			)
		}

		for _, stmt := range spec.IndexSQL() {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, errors.Wrapf(err, "index on %s", spec.Name)
			}
		}
	}
	return applied, nil
}

// History returns the recorded migrations, oldest first
func (m *Migrator) History(ctx context.Context, db *sqlx.DB) ([]Migration, error) {
	var out []Migration
	err := db.SelectContext(ctx, &out, `
		SELECT table_name, version, kind, columns_added, rows_copied, applied_at
		FROM schema_migrations
		ORDER BY applied_at, table_name`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	return out, nil
}

func (m *Migrator) migrateTable(ctx context.Context, db *sqlx.DB, spec TableSpec) (*Migration, error) {
	var recorded int
	if err := db.GetContext(ctx, &recorded,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE table_name = ?`, spec.Name); err != nil {
		return nil, errors.Wrap(err, "read recorded version")
	}
	if recorded >= spec.Version {
		return nil, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	live, err := liveColumns(ctx, tx, spec.Name)
	if err != nil {
		return nil, err
	}

	mig := &Migration{Table: spec.Name, Version: spec.Version}

	switch missing, keyMissing := diff(spec, live); {
	case len(live) == 0:
		mig.Kind = KindCreate
		if _, err := tx.ExecContext(ctx, spec.CreateSQL(spec.Name)); err != nil {
			return nil, errors.Wrap(err, "create table")
		}

	case len(missing) == 0:
		mig.Kind = KindVerify

	case !keyMissing && len(missing) <= m.rebuildAfter:
		mig.Kind = KindAddColumns
		for _, c := range missing {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", spec.Name, c.Definition())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return nil, errors.Wrapf(err, "add column %s", c.Name)
			}
		}
		mig.ColumnsAdded = len(missing)

	default:
		mig.Kind = KindRebuild
		mig.ColumnsAdded = len(missing)
		copied, err := rebuild(ctx, tx, spec, live)
		if err != nil {
			return nil, err
		}
		mig.RowsCopied = copied
	}

	mig.AppliedAt = time.Now().UTC().Format("2006-01-02 15:04:05.000")
	if _, err := tx.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (table_name, version, kind, columns_added, rows_copied, applied_at)
		VALUES (:table_name, :version, :kind, :columns_added, :rows_copied, :applied_at)`, mig); err != nil {
		return nil, errors.Wrap(err, "record migration")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return mig, nil
}

// liveColumns returns the current column names of table, empty when it does not exist
func liveColumns(ctx context.Context, tx *sqlx.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errors.Wrapf(err, "table_info %s", table)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "scan table_info")
		}
		switch name := row["name"].(type) {
		case string:
			cols[strings.ToLower(name)] = true
		case []byte:
			cols[strings.ToLower(string(name))] = true
		}
	}
	return cols, rows.Err()
}

func diff(spec TableSpec, live map[string]bool) (missing []Column, keyMissing bool) {
	for _, c := range spec.Columns {
		if !live[c.Name] {
			missing = append(missing, c)
		}
	}
	for _, k := range spec.Key {
		if !live[k] {
			keyMissing = true
		}
	}
	return missing, keyMissing
}

// rebuild moves the table aside, recreates it and copies the overlapping columns.
// NULLs in columns that are NOT NULL in the target take the column default.
func rebuild(ctx context.Context, tx *sqlx.Tx, spec TableSpec, live map[string]bool) (int64, error) {
	old := spec.Name + "_old"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", old)); err != nil {
		return 0, errors.Wrap(err, "drop stale backup")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", spec.Name, old)); err != nil {
		return 0, errors.Wrap(err, "rename aside")
	}
	if _, err := tx.ExecContext(ctx, spec.CreateSQL(spec.Name)); err != nil {
		return 0, errors.Wrap(err, "create rebuilt table")
	}

	var targets, sources []string
	for _, c := range spec.Columns {
		if !live[c.Name] {
			continue
		}
		targets = append(targets, c.Name)
		if c.Nullable {
			sources = append(sources, c.Name)
		} else {
			sources = append(sources, fmt.Sprintf("COALESCE(%s, %s)", c.Name, c.zero()))
		}
	}

	var copied int64
	if len(targets) > 0 {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s",
			spec.Name, strings.Join(targets, ", "), strings.Join(sources, ", "), old))
		if err != nil {
			return 0, errors.Wrap(err, "copy rows")
		}
		copied, _ = res.RowsAffected()
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", old)); err != nil {
		return 0, errors.Wrap(err, "drop old table")
	}
	return copied, nil
}
