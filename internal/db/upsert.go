package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder renders the bind parameter for the i-th value (1-based).
type Placeholder func(i int) string

// Dollar renders Postgres positional parameters ($1, $2, ...).
func Dollar(i int) string { return "$" + strconv.Itoa(i) }

// Question renders SQLite parameters (?).
func Question(int) string { return "?" }

// UpsertConfig defines an INSERT ... ON CONFLICT ... DO UPDATE statement.
// Every column not in ConflictKeys should appear in exactly one of
// Overwrite or Coalesce so the conflict rule for it is explicit.
type UpsertConfig struct {
	Table        string   // target table (e.g., "product")
	Columns      []string // columns supplied by the caller, in value order
	ConflictKeys []string // columns forming the unique constraint
	Overwrite    []string // set to the incoming value on conflict
	Coalesce     []string // set to the incoming value only when it is non-null
	Touch        []string // set to CURRENT_TIMESTAMP on conflict
	Returning    []string // columns returned for the inserted or updated row
}

// SQL builds the statement with one bind parameter per column.
func (c UpsertConfig) SQL(ph Placeholder) (string, error) {
	values := make([]string, len(c.Columns))
	for i := range c.Columns {
		values[i] = ph(i + 1)
	}
	return c.Build(values)
}

// Build builds the statement with caller-rendered value expressions, one per
// column. Used for SQL dumps where values are literals or sub-selects.
func (c UpsertConfig) Build(values []string) (string, error) {
	if c.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(c.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}
	if len(values) != len(c.Columns) {
		return "", eris.Errorf("db: upsert: %d values for %d columns in %s", len(values), len(c.Columns), c.Table)
	}

	table := sanitizeTable(c.Table)

	var setClauses []string
	for _, col := range c.Overwrite {
		id := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", id, id))
	}
	for _, col := range c.Coalesce {
		id := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(excluded.%s, %s.%s)", id, id, table, id))
	}
	for _, col := range c.Touch {
		setClauses = append(setClauses, fmt.Sprintf("%s = CURRENT_TIMESTAMP", pgx.Identifier{col}.Sanitize()))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table,
		quoteAndJoin(c.Columns),
		strings.Join(values, ", "),
		quoteAndJoin(c.ConflictKeys),
	)
	if len(setClauses) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}
	if len(c.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(quoteAndJoin(c.Returning))
	}
	return b.String(), nil
}

// MustSQL is SQL for statically declared configs; it panics on an invalid config.
func (c UpsertConfig) MustSQL(ph Placeholder) string {
	s, err := c.SQL(ph)
	if err != nil {
		panic(err)
	}
	return s
}

// sanitizeTable handles schema-qualified table names like "deals.product".
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
