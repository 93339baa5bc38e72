// Package writer accumulates per-unit results into a single output table
// across repeated appends, emitting the header exactly once per run.
package writer

import (
	"context"
	"fmt"

	"pmt-pipeline/internal/domain"
)

// Destination is an output table that can be probed for writability before
// the run and discarded if the run fails partway.
type Destination interface {
	domain.TableWriter
	Probe(ctx context.Context) error
	Discard(ctx context.Context) error
}

// Incremental owns one OutputTable for the duration of a run: the first
// Append overwrites the destination and emits the header, subsequent
// Appends extend it. A single writer per destination; appends are ordered
// by the caller.
type Incremental struct {
	dest   Destination
	wrote  bool
	closed bool
}

// Open probes the destination and returns a writer handle. An unwritable
// destination fails with a StorageError before any partial write.
func Open(ctx context.Context, dest Destination) (*Incremental, error) {
	if err := dest.Probe(ctx); err != nil {
		return nil, err
	}
	return &Incremental{dest: dest}, nil
}

// Append writes the record set. The first call truncates the destination
// and writes the header; later calls append rows only.
func (w *Incremental) Append(ctx context.Context, records *domain.RecordSet) error {
	if w.closed {
		return fmt.Errorf("append on closed writer")
	}
	mode, header := domain.ModeAppend, false
	if !w.wrote {
		mode, header = domain.ModeOverwrite, true
	}
	if err := w.dest.Write(ctx, records, mode, header); err != nil {
		return err
	}
	w.wrote = true
	return nil
}

// Close finalizes the handle. Further appends are rejected.
func (w *Incremental) Close() error {
	w.closed = true
	return nil
}

// Abort discards any partial output and closes the handle. Safe to call
// whether or not anything was written; the scoped-cleanup path for a
// failed run.
func (w *Incremental) Abort(ctx context.Context) error {
	w.closed = true
	// Probe may have created an empty file; discard covers that case too.
	return w.dest.Discard(ctx)
}
