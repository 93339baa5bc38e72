package domain

import (
	"context"
	"time"
)

// ChunkIterator is a lazy, finite, non-restartable sequence of bounded-size
// RecordSets covering a source in order. Usage follows sql.Rows:
//
//	for it.Next() {
//	    chunk := it.RecordSet()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIterator interface {
	Next() bool
	RecordSet() *RecordSet
	// Columns reports the resolved column order, available even when the
	// source has no rows.
	Columns() []string
	Err() error
	Close() error
}

// TableReader reads a tabular source into record sets.
type TableReader interface {
	// Read opens the source restricted to the requested columns. A
	// chunkSize of 0 yields the whole source as a single RecordSet.
	// Requesting a column absent from the source's schema fails with a
	// SchemaError.
	Read(ctx context.Context, columns []string, chunkSize int) (ChunkIterator, error)
}

// TableWriter persists a record set to a destination. Partial writes on
// failure are not rolled back across chunks.
type TableWriter interface {
	Write(ctx context.Context, records *RecordSet, mode WriteMode, header bool) error
}

// SpatialRelator determines group membership by spatial predicate between a
// disaggregate geometry set and an aggregate geometry set. Implementations
// delegate to an external geometry engine.
type SpatialRelator interface {
	// Relate maps each disaggregate ID to the aggregate IDs it relates to
	// under the predicate. A disaggregate geometry relating to nothing maps
	// to an empty (or absent) set, not an error. Radius applies only to
	// PredicateNearestWithin.
	Relate(ctx context.Context, disaggregate, aggregate GeometrySet, predicate Predicate, radius float64) (map[string][]string, error)
}

// GeometrySet names a feature table and its identifier and geometry columns.
// Geometry itself is opaque to the pipeline.
type GeometrySet struct {
	Table     string
	IDColumn  string
	GeoColumn string
}

// RunStatus is the lifecycle state of a batch run or unit.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// Run is one execution of a job file over its units.
type Run struct {
	ID         string
	JobName    string
	Status     RunStatus
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// UnitResult is the outcome of one batch unit (a year or chunk) in a run.
type UnitResult struct {
	ID      string
	RunID   string
	Unit    string
	Status  RunStatus
	RowsIn  int
	RowsOut int
	Error   *string
}

// RunRepository records batch runs and their per-unit outcomes.
type RunRepository interface {
	BeginRun(ctx context.Context, jobName string) (*Run, error)
	FinishRun(ctx context.Context, runID string, status RunStatus, errText *string) error
	RecordUnit(ctx context.Context, result *UnitResult) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListUnits(ctx context.Context, runID string) ([]UnitResult, error)
}
