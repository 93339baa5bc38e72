package tableio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb database/sql driver

	"pmt-pipeline/internal/domain"
)

// OpenDuckDB opens (or creates) a DuckDB database file. An empty path opens
// an in-memory database.
func OpenDuckDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb %q: %w", path, err)
	}
	return db, nil
}

// DuckTable reads and writes a DuckDB table. It implements
// domain.TableReader and domain.TableWriter. The header flag on Write is
// ignored: a table's schema is its header.
type DuckTable struct {
	db    *sql.DB
	table string
}

// NewDuckTable creates a DuckTable for the named table.
func NewDuckTable(db *sql.DB, table string) *DuckTable {
	return &DuckTable{db: db, table: table}
}

// Read selects the requested columns and returns a chunk iterator.
// chunkSize 0 yields the whole table as one RecordSet.
func (t *DuckTable) Read(ctx context.Context, columns []string, chunkSize int) (domain.ChunkIterator, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = schema
	}
	present := make(map[string]struct{}, len(schema))
	for _, c := range schema {
		present[c] = struct{}{}
	}
	for _, col := range columns {
		if _, ok := present[col]; !ok {
			return nil, domain.ErrSchema("column %q not in table %s (has %v)", col, t.table, schema)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", quoteIdents(columns), quoteIdent(t.table))
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.ErrStorage("read table %s: %v", t.table, err)
	}

	return &duckChunkIter{
		ctx:       ctx,
		rows:      rows,
		table:     t.table,
		columns:   columns,
		chunkSize: chunkSize,
	}, nil
}

// Write persists the record set. Overwrite replaces the table; append
// inserts into the existing one (creating it on first use).
func (t *DuckTable) Write(ctx context.Context, records *domain.RecordSet, mode domain.WriteMode, _ bool) error {
	switch mode {
	case domain.ModeOverwrite:
		if err := t.createTable(ctx, records, true); err != nil {
			return err
		}
	case domain.ModeAppend:
		exists, err := t.exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			if err := t.createTable(ctx, records, false); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("invalid write mode %q", mode)
	}
	return t.insert(ctx, records)
}

// schema returns the table's column names in declared order.
func (t *DuckTable) schema(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_name = ? ORDER BY ordinal_position`, t.table)
	if err != nil {
		return nil, domain.ErrStorage("describe table %s: %v", t.table, err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, domain.ErrStorage("describe table %s: %v", t.table, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorage("describe table %s: %v", t.table, err)
	}
	if len(cols) == 0 {
		return nil, domain.ErrStorage("table %s does not exist", t.table)
	}
	return cols, nil
}

func (t *DuckTable) exists(ctx context.Context) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = ?`,
		t.table).Scan(&n)
	if err != nil {
		return false, domain.ErrStorage("check table %s: %v", t.table, err)
	}
	return n > 0, nil
}

// createTable creates the table with types inferred from the first record
// (BIGINT, DOUBLE, else VARCHAR).
func (t *DuckTable) createTable(ctx context.Context, records *domain.RecordSet, replace bool) error {
	defs := make([]string, len(records.Columns))
	for i, col := range records.Columns {
		defs[i] = quoteIdent(col) + " " + columnType(records, col)
	}
	stmt := "CREATE TABLE "
	if replace {
		stmt = "CREATE OR REPLACE TABLE "
	}
	stmt += quoteIdent(t.table) + " (" + strings.Join(defs, ", ") + ")"
	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return domain.ErrStorage("create table %s: %v", t.table, err)
	}
	return nil
}

func (t *DuckTable) insert(ctx context.Context, records *domain.RecordSet) error {
	if records.Len() == 0 {
		return nil
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(records.Columns)), ", ") + ")"
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(t.table), quoteIdents(records.Columns), placeholders)

	prepared, err := t.db.PrepareContext(ctx, stmt)
	if err != nil {
		return domain.ErrStorage("prepare insert into %s: %v", t.table, err)
	}
	defer prepared.Close() //nolint:errcheck

	args := make([]any, len(records.Columns))
	for _, rec := range records.Records {
		for i, col := range records.Columns {
			args[i] = rec[col]
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return domain.ErrStorage("insert into %s: %v", t.table, err)
		}
	}
	return nil
}

// duckChunkIter streams bounded-size RecordSets off an open result cursor.
type duckChunkIter struct {
	ctx       context.Context
	rows      *sql.Rows
	table     string
	columns   []string
	chunkSize int

	current *domain.RecordSet
	err     error
	done    bool
}

func (it *duckChunkIter) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	chunk := domain.NewRecordSet(it.columns...)
	dest := make([]any, len(it.columns))
	ptrs := make([]any, len(it.columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for it.chunkSize == 0 || chunk.Len() < it.chunkSize {
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				it.err = domain.ErrStorage("read table %s: %v", it.table, err)
				return false
			}
			break
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			it.err = domain.ErrStorage("scan table %s: %v", it.table, err)
			return false
		}
		rec := make(domain.Record, len(it.columns))
		for i, col := range it.columns {
			rec[col] = normalizeValue(dest[i])
		}
		chunk.Records = append(chunk.Records, rec)
	}

	if chunk.Len() == 0 {
		return false
	}
	it.current = chunk
	return true
}

func (it *duckChunkIter) RecordSet() *domain.RecordSet { return it.current }

func (it *duckChunkIter) Columns() []string { return it.columns }

func (it *duckChunkIter) Err() error { return it.err }

func (it *duckChunkIter) Close() error { return it.rows.Close() }

// normalizeValue maps driver scan results onto the record value types.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// columnType infers a DuckDB column type from the first non-null value.
func columnType(records *domain.RecordSet, col string) string {
	for _, rec := range records.Records {
		switch rec[col].(type) {
		case nil:
			continue
		case int64, int, int32:
			return "BIGINT"
		case float64, float32:
			return "DOUBLE"
		case bool:
			return "BOOLEAN"
		default:
			return "VARCHAR"
		}
	}
	return "VARCHAR"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
