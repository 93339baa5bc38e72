package tableio

import (
	"context"
	"os"

	"pmt-pipeline/internal/domain"
)

// Probe verifies the CSV destination is writable without truncating or
// writing rows. The file is created if absent.
func (t *CSVTable) Probe(ctx context.Context) error {
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.ErrStorage("destination %s not writable: %v", t.Path, err)
	}
	return f.Close()
}

// Discard removes the output file. A missing file is not an error.
func (t *CSVTable) Discard(ctx context.Context) error {
	if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
		return domain.ErrStorage("discard %s: %v", t.Path, err)
	}
	return nil
}

// Probe verifies the DuckDB connection accepts writes.
func (t *DuckTable) Probe(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, "SELECT 1"); err != nil {
		return domain.ErrStorage("destination table %s not writable: %v", t.table, err)
	}
	return nil
}

// Discard drops the output table if it exists.
func (t *DuckTable) Discard(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.table)); err != nil {
		return domain.ErrStorage("discard table %s: %v", t.table, err)
	}
	return nil
}
