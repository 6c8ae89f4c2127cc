package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil = all non-conflict columns
	KeepCols     []string // columns updated only when the incoming value is non-null
	DoNothing    bool     // ON CONFLICT DO NOTHING; existing rows are never touched
}

// BulkUpsert stages rows in a temp table with COPY, then moves them into the
// target with INSERT ... ON CONFLICT inside one transaction. It returns the
// number of target rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := tempTableName(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, buildUpsertSQL(cfg, tempTable))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

func buildUpsertSQL(cfg UpsertConfig, tempTable string) string {
	colList := quoteAndJoin(cfg.Columns)
	insert := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		pgx.Identifier{cfg.Table}.Sanitize(),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
	)
	if cfg.DoNothing {
		return insert + " DO NOTHING"
	}

	skip := make(map[string]bool, len(cfg.ConflictKeys)+len(cfg.KeepCols))
	for _, k := range cfg.ConflictKeys {
		skip[k] = true
	}
	for _, k := range cfg.KeepCols {
		skip[k] = true
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		for _, c := range cfg.Columns {
			if !skip[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var set []string
	for _, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	for _, col := range cfg.KeepCols {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)", q, q, q))
	}
	if len(set) == 0 {
		return insert + " DO NOTHING"
	}
	return insert + " DO UPDATE SET " + strings.Join(set, ", ")
}

func tempTableName(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
