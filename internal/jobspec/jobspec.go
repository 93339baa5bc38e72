// Package jobspec loads and validates declarative job definitions. A job
// file names its source, optional reference join, optional spatial
// relation, transforms, group spec, and output — all drawn from closed,
// named operation sets. Nothing in a job file is evaluated as code.
package jobspec

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pmt-pipeline/internal/aggregate"
	"pmt-pipeline/internal/domain"
)

// Job is one declarative pipeline definition.
type Job struct {
	Name       string         `yaml:"name"`
	Source     TableRef       `yaml:"source"`
	Reference  *ReferenceSpec `yaml:"reference,omitempty"`
	Spatial    *SpatialSpec   `yaml:"spatial,omitempty"`
	Transforms []TransformRef `yaml:"transforms,omitempty"`
	Group      GroupRef       `yaml:"group"`
	Output     OutputRef      `yaml:"output"`
}

// TableRef points at a tabular source: a CSV file path or a DuckDB table
// name, exactly one of which must be set. Paths and table names may carry
// a {year} placeholder substituted per unit.
type TableRef struct {
	Path      string   `yaml:"path,omitempty"`
	Table     string   `yaml:"table,omitempty"`
	Columns   []string `yaml:"columns,omitempty"`
	ChunkSize int      `yaml:"chunk_size,omitempty"`
}

// ReferenceSpec declares the lookup join.
type ReferenceSpec struct {
	TableRef    `yaml:",inline"`
	Keys        []string       `yaml:"keys"`
	Defaults    map[string]any `yaml:"defaults,omitempty"`
	OnDuplicate string         `yaml:"on_duplicate,omitempty"` // first | error (default error)
}

// GeometryRef names a feature table and its id/geometry columns.
type GeometryRef struct {
	Table    string `yaml:"table"`
	ID       string `yaml:"id"`
	Geometry string `yaml:"geometry"`
}

// SpatialSpec declares the spatial group-membership derivation.
type SpatialSpec struct {
	Predicate    string      `yaml:"predicate"`
	Radius       float64     `yaml:"radius,omitempty"`
	Disaggregate GeometryRef `yaml:"disaggregate"`
	Aggregate    GeometryRef `yaml:"aggregate"`
	// IDColumn is the source column matched against disaggregate IDs.
	IDColumn string `yaml:"id_column"`
	// GroupColumn receives the aggregate ID (or "unassigned").
	GroupColumn string `yaml:"group_column"`
}

// TransformRef declares one derived column.
type TransformRef struct {
	Op     string  `yaml:"op"`
	Target string  `yaml:"target"`
	Left   string  `yaml:"left"`
	Right  string  `yaml:"right,omitempty"`
	Factor float64 `yaml:"factor,omitempty"`
}

// GroupRef declares the aggregation.
type GroupRef struct {
	By          []string          `yaml:"by"`
	Reduce      map[string]string `yaml:"reduce"`
	CountColumn string            `yaml:"count_column,omitempty"`
	SortBy      []string          `yaml:"sort_by,omitempty"`
}

// OutputRef declares the single output table all units append into.
type OutputRef struct {
	Path  string `yaml:"path,omitempty"`
	Table string `yaml:"table,omitempty"`
	// YearColumn, when set, tags each unit's rows with its year.
	YearColumn string `yaml:"year_column,omitempty"`
	// RowIDColumn, when set, numbers output rows consecutively from 1
	// across the whole run, in append order.
	RowIDColumn string `yaml:"row_id_column,omitempty"`
}

// Load reads and validates a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, domain.ErrStorage("read job file %s: %v", path, err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("job file %s: %w", path, err)
	}
	return &job, nil
}

// Validate checks the job against the closed operation sets without
// executing anything.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job requires a name")
	}
	if err := j.Source.validate("source"); err != nil {
		return err
	}
	if err := j.Output.validate(); err != nil {
		return err
	}

	if j.Reference != nil {
		if err := j.Reference.TableRef.validate("reference"); err != nil {
			return err
		}
		if len(j.Reference.Keys) == 0 {
			return fmt.Errorf("reference requires at least one key column")
		}
		switch j.Reference.OnDuplicate {
		case "", string(domain.DuplicateFirst), string(domain.DuplicateError):
		default:
			return fmt.Errorf("unknown on_duplicate policy %q (want first or error)", j.Reference.OnDuplicate)
		}
	}

	if j.Spatial != nil {
		switch domain.Predicate(j.Spatial.Predicate) {
		case domain.PredicateIntersects, domain.PredicateCentroidIn:
		case domain.PredicateNearestWithin:
			if j.Spatial.Radius <= 0 {
				return fmt.Errorf("predicate %q requires a positive radius", j.Spatial.Predicate)
			}
		default:
			return fmt.Errorf("unknown spatial predicate %q", j.Spatial.Predicate)
		}
		for _, g := range []GeometryRef{j.Spatial.Disaggregate, j.Spatial.Aggregate} {
			if g.Table == "" || g.ID == "" || g.Geometry == "" {
				return fmt.Errorf("spatial geometry refs require table, id, and geometry")
			}
		}
		if j.Spatial.IDColumn == "" || j.Spatial.GroupColumn == "" {
			return fmt.Errorf("spatial requires id_column and group_column")
		}
	}

	for i, tr := range j.Transforms {
		switch aggregate.TransformOp(tr.Op) {
		case aggregate.OpRatio:
			if tr.Left == "" || tr.Right == "" {
				return fmt.Errorf("transform %d: ratio requires left and right", i)
			}
		case aggregate.OpScale:
			if tr.Left == "" {
				return fmt.Errorf("transform %d: scale requires left", i)
			}
		default:
			return fmt.Errorf("transform %d: unknown op %q", i, tr.Op)
		}
		if tr.Target == "" {
			return fmt.Errorf("transform %d: requires a target column", i)
		}
	}

	if len(j.Group.By) == 0 {
		return fmt.Errorf("group requires at least one key column")
	}
	for col, red := range j.Group.Reduce {
		switch domain.Reducer(red) {
		case domain.ReduceSum, domain.ReduceMean, domain.ReduceMin, domain.ReduceMax, domain.ReduceCount:
		default:
			return fmt.Errorf("column %q: unknown reducer %q", col, red)
		}
	}
	return nil
}

func (t *TableRef) validate(what string) error {
	if (t.Path == "") == (t.Table == "") {
		return fmt.Errorf("%s requires exactly one of path or table", what)
	}
	if t.ChunkSize < 0 {
		return fmt.Errorf("%s chunk_size must be >= 0", what)
	}
	return nil
}

func (o *OutputRef) validate() error {
	if (o.Path == "") == (o.Table == "") {
		return fmt.Errorf("output requires exactly one of path or table")
	}
	if strings.Contains(o.Path, "{year}") || strings.Contains(o.Table, "{year}") {
		return fmt.Errorf("output must be a single table: {year} is not allowed there (use year_column)")
	}
	return nil
}

// JoinSpec converts the reference declaration to the join contract.
func (r *ReferenceSpec) JoinSpec() domain.JoinSpec {
	policy := domain.DuplicatePolicy(r.OnDuplicate)
	if policy == "" {
		policy = domain.DuplicateError
	}
	return domain.JoinSpec{Keys: r.Keys, Defaults: r.Defaults, OnDuplicate: policy}
}

// GroupSpec converts the group declaration to the aggregation contract.
func (g *GroupRef) GroupSpec() domain.GroupSpec {
	reduce := make(map[string]domain.Reducer, len(g.Reduce))
	for col, red := range g.Reduce {
		reduce[col] = domain.Reducer(red)
	}
	return domain.GroupSpec{
		By:          g.By,
		Reduce:      reduce,
		CountColumn: g.CountColumn,
		SortBy:      g.SortBy,
	}
}

// DomainTransforms converts the transform declarations.
func (j *Job) DomainTransforms() []aggregate.Transform {
	out := make([]aggregate.Transform, len(j.Transforms))
	for i, tr := range j.Transforms {
		out[i] = aggregate.Transform{
			Op:     aggregate.TransformOp(tr.Op),
			Target: tr.Target,
			Left:   tr.Left,
			Right:  tr.Right,
			Factor: tr.Factor,
		}
	}
	return out
}

// ForYear substitutes the {year} placeholder in a path or table name.
func ForYear(s string, year int) string {
	return strings.ReplaceAll(s, "{year}", strconv.Itoa(year))
}
