package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects placeholder and conflict syntax.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Placeholder returns the bind marker for the 1-based argument n.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Assignment sets Column to a raw SQL expression.
type Assignment struct {
	Column string
	Expr   string
}

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table (e.g., "ProductNutrientValue" or "public.ProductNutrientValue")
	Columns      []string // bound columns, in argument order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns copied from the new row on conflict; nil = all non-conflict columns
	// Literals are columns set to a fixed SQL expression on conflict.
	Literals []Assignment
	// Increment lists integer columns bumped by one on conflict.
	Increment []string
	// Where guards the update; rows failing it are left untouched.
	Where string
}

// BuildUpsert renders cfg for the dialect. The statement binds one argument
// per column in Columns.
func BuildUpsert(d Dialect, cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	table := sanitizeTable(cfg.Table)
	var setClauses []string
	for _, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", q, q))
	}
	for _, a := range cfg.Literals {
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", pgx.Identifier{a.Column}.Sanitize(), a.Expr))
	}
	for _, col := range cfg.Increment {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = %s.%s + 1", q, table, q))
	}
	if len(setClauses) == 0 {
		return "", eris.New("db: upsert: nothing to update")
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		quoteAndJoin(cfg.Columns),
		placeholders(d, len(cfg.Columns)),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)
	if cfg.Where != "" {
		sql += " WHERE " + cfg.Where
	}
	return sql, nil
}

// BuildInsertIgnore renders a single-row insert that silently does nothing
// when any unique constraint or unique index rejects the row.
func BuildInsertIgnore(d Dialect, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}
	if d == SQLite {
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
			sanitizeTable(table), quoteAndJoin(columns), placeholders(d, len(columns))), nil
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		sanitizeTable(table), quoteAndJoin(columns), placeholders(d, len(columns))), nil
}

// sanitizeTable handles schema-qualified table names like "public.ProductCatalog".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func placeholders(d Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}
