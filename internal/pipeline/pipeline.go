// Package pipeline wires the stages — read, join, relate, transform,
// aggregate, append — into a sequential batch over units (years or chunks).
package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"pmt-pipeline/internal/aggregate"
	"pmt-pipeline/internal/config"
	"pmt-pipeline/internal/domain"
	"pmt-pipeline/internal/jobspec"
	"pmt-pipeline/internal/join"
	"pmt-pipeline/internal/spatial"
	"pmt-pipeline/internal/tableio"
	"pmt-pipeline/internal/writer"
)

// Runner executes job definitions over their units.
type Runner struct {
	cfg     *config.Config
	duckDB  *sql.DB // nil when no job touches a DuckDB table
	relator domain.SpatialRelator
	runs    domain.RunRepository
	logger  *slog.Logger

	// referenceCache holds loaded reference tables by resolved name, so a
	// multi-year run reads each lookup table once. refMu covers the whole
	// load: parallel units share the cache.
	refMu          sync.Mutex
	referenceCache map[string]*domain.RecordSet
}

// NewRunner creates a Runner. duckDB and relator may be nil when jobs only
// touch delimited files; runs may be nil to skip history recording.
func NewRunner(cfg *config.Config, duckDB *sql.DB, relator domain.SpatialRelator, runs domain.RunRepository, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:            cfg,
		duckDB:         duckDB,
		relator:        relator,
		runs:           runs,
		logger:         logger,
		referenceCache: make(map[string]*domain.RecordSet),
	}
}

// unitResult is the in-memory outcome of one unit before it is appended.
type unitResult struct {
	unit    string
	records *domain.RecordSet
	rowsIn  int
}

// processUnit runs the read → join → relate → transform → aggregate stages
// for one year. Each stage is a pure transformation over an explicit
// record set.
func (r *Runner) processUnit(ctx context.Context, job *jobspec.Job, year int) (*unitResult, error) {
	unit := strconv.Itoa(year)
	logger := r.logger.With("job", job.Name, "unit", unit)

	source, err := r.resolveReader(job.Source, year)
	if err != nil {
		return nil, err
	}

	it, err := source.Read(ctx, job.Source.Columns, job.Source.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	var reference *domain.RecordSet
	var joinSpec domain.JoinSpec
	if job.Reference != nil {
		reference, err = r.loadReference(ctx, job.Reference, year)
		if err != nil {
			return nil, err
		}
		joinSpec = job.Reference.JoinSpec()
	}

	var assignments map[string][]string
	if job.Spatial != nil {
		assignments, err = r.relate(ctx, job.Spatial, year)
		if err != nil {
			return nil, err
		}
	}

	transforms := job.DomainTransforms()

	applyStages := func(chunk *domain.RecordSet) (*domain.RecordSet, error) {
		var err error
		if reference != nil {
			chunk, err = join.Join(chunk, reference, joinSpec)
			if err != nil {
				return nil, err
			}
		}
		if assignments != nil {
			chunk, err = spatial.AssignGroups(chunk, job.Spatial.IDColumn, job.Spatial.GroupColumn, assignments)
			if err != nil {
				return nil, err
			}
		}
		return aggregate.ApplyTransforms(chunk, transforms)
	}

	// Chunking bounds read memory; the joined records accumulate so the
	// group-by sees the whole unit and chunked == unchunked holds.
	var joined *domain.RecordSet
	rowsIn := 0
	for it.Next() {
		chunk := it.RecordSet()
		rowsIn += chunk.Len()

		chunk, err = applyStages(chunk)
		if err != nil {
			return nil, err
		}

		if joined == nil {
			joined = chunk
		} else if err := joined.Concat(chunk); err != nil {
			return nil, err
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if joined == nil {
		// Header-only source. Zero rows still pass through the stages so
		// the group-by sees the full schema and yields zero groups.
		joined, err = applyStages(domain.NewRecordSet(it.Columns()...))
		if err != nil {
			return nil, err
		}
	}

	result, err := aggregate.Aggregate(joined, job.Group.GroupSpec())
	if err != nil {
		return nil, err
	}

	if job.Output.YearColumn != "" {
		tagged := domain.NewRecordSet(append([]string{job.Output.YearColumn}, result.Columns...)...)
		for _, rec := range result.Records {
			rec[job.Output.YearColumn] = int64(year)
			tagged.Records = append(tagged.Records, rec)
		}
		result = tagged
	}

	logger.Info("unit processed", "rows_in", rowsIn, "groups_out", result.Len())
	return &unitResult{unit: unit, records: result, rowsIn: rowsIn}, nil
}

// resolveReader builds the TableReader for a year-substituted table ref.
func (r *Runner) resolveReader(ref jobspec.TableRef, year int) (domain.TableReader, error) {
	if ref.Path != "" {
		return tableio.NewCSVTable(r.resolvePath(jobspec.ForYear(ref.Path, year))), nil
	}
	if r.duckDB == nil {
		return nil, domain.ErrStorage("table %q requires a DuckDB store (set PMT_DUCKDB_PATH)", ref.Table)
	}
	return tableio.NewDuckTable(r.duckDB, jobspec.ForYear(ref.Table, year)), nil
}

// resolveDestination builds the probe-and-discard destination for the
// job's single output table.
func (r *Runner) resolveDestination(out jobspec.OutputRef) (writer.Destination, error) {
	if out.Path != "" {
		return tableio.NewCSVTable(r.resolvePath(out.Path)), nil
	}
	if r.duckDB == nil {
		return nil, domain.ErrStorage("output table %q requires a DuckDB store (set PMT_DUCKDB_PATH)", out.Table)
	}
	return tableio.NewDuckTable(r.duckDB, out.Table), nil
}

func (r *Runner) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.cfg.RootDir, path)
}

// loadReference reads a lookup table once per resolved name. Holding the
// mutex across the read means concurrent units wait rather than load the
// same table twice.
func (r *Runner) loadReference(ctx context.Context, ref *jobspec.ReferenceSpec, year int) (*domain.RecordSet, error) {
	r.refMu.Lock()
	defer r.refMu.Unlock()

	name := jobspec.ForYear(ref.Path+ref.Table, year)
	if cached, ok := r.referenceCache[name]; ok {
		return cached, nil
	}

	reader, err := r.resolveReader(ref.TableRef, year)
	if err != nil {
		return nil, err
	}
	it, err := reader.Read(ctx, ref.Columns, 0)
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	loaded := domain.NewRecordSet(ref.Columns...)
	for it.Next() {
		loaded = it.RecordSet()
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	r.referenceCache[name] = loaded
	return loaded, nil
}

// relate asks the spatial relator for this unit's group membership.
func (r *Runner) relate(ctx context.Context, spec *jobspec.SpatialSpec, year int) (map[string][]string, error) {
	if r.relator == nil {
		return nil, domain.ErrStorage("job declares a spatial relation but no relator is configured")
	}
	dis := domain.GeometrySet{
		Table:     jobspec.ForYear(spec.Disaggregate.Table, year),
		IDColumn:  spec.Disaggregate.ID,
		GeoColumn: spec.Disaggregate.Geometry,
	}
	agg := domain.GeometrySet{
		Table:     jobspec.ForYear(spec.Aggregate.Table, year),
		IDColumn:  spec.Aggregate.ID,
		GeoColumn: spec.Aggregate.Geometry,
	}
	return r.relator.Relate(ctx, dis, agg, domain.Predicate(spec.Predicate), spec.Radius)
}
