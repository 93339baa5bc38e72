// Package aggregate reduces record sets by group key with a closed,
// registered set of reduction functions. There is no runtime expression
// evaluation: a reducer is selected by name from the registry or it does
// not run.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"pmt-pipeline/internal/domain"
)

// Accumulator folds the values of one column within one group.
type Accumulator interface {
	// Add folds one value. Nil values are passed through so each
	// accumulator applies its own declared null policy.
	Add(v any)
	// Result returns the reduced value for the group.
	Result() any
}

// registry maps reducer names to accumulator constructors. Custom reducers
// join the closed set via Register.
var registry = map[domain.Reducer]func() Accumulator{
	domain.ReduceSum:   func() Accumulator { return &sumAcc{} },
	domain.ReduceMean:  func() Accumulator { return &meanAcc{} },
	domain.ReduceMin:   func() Accumulator { return &minAcc{} },
	domain.ReduceMax:   func() Accumulator { return &maxAcc{} },
	domain.ReduceCount: func() Accumulator { return &countAcc{} },
}

// Register adds a named reducer to the registry. Registering a reserved
// name is an error.
func Register(name domain.Reducer, ctor func() Accumulator) error {
	if _, exists := registry[name]; exists {
		return fmt.Errorf("reducer %q already registered", name)
	}
	registry[name] = ctor
	return nil
}

// Aggregate groups records by spec.By and reduces each value column in
// spec.Reduce, producing one output record per distinct key combination.
// When spec.CountColumn is set, the output carries the raw group
// cardinality. Output order follows spec.SortBy when given; otherwise it
// is first-seen group order and callers must not rely on it.
func Aggregate(records *domain.RecordSet, spec domain.GroupSpec) (*domain.RecordSet, error) {
	if len(spec.By) == 0 {
		return nil, domain.ErrSchema("group spec requires at least one key column")
	}
	for _, col := range spec.By {
		if !records.HasColumn(col) {
			return nil, domain.ErrSchema("group key %q not in schema %v", col, records.Columns)
		}
	}

	// Value columns reduce in schema order so the output schema is stable.
	var valueCols []string
	for _, col := range records.Columns {
		if _, ok := spec.Reduce[col]; ok {
			valueCols = append(valueCols, col)
		}
	}
	if len(valueCols) != len(spec.Reduce) {
		for col := range spec.Reduce {
			if !records.HasColumn(col) {
				return nil, domain.ErrSchema("value column %q not in schema %v", col, records.Columns)
			}
		}
	}
	ctors := make(map[string]func() Accumulator, len(valueCols))
	for _, col := range valueCols {
		name := spec.Reduce[col]
		ctor, ok := registry[name]
		if !ok {
			return nil, domain.ErrSchema("unknown reducer %q for column %q", name, col)
		}
		ctors[col] = ctor
	}

	type group struct {
		key   domain.Record
		accs  map[string]Accumulator
		count int
	}

	groups := make(map[string]*group)
	var order []string // first-seen group order
	for _, rec := range records.Records {
		k := groupKey(rec, spec.By)
		g, ok := groups[k]
		if !ok {
			g = &group{key: make(domain.Record, len(spec.By)), accs: make(map[string]Accumulator, len(valueCols))}
			for _, col := range spec.By {
				g.key[col] = rec[col]
			}
			for _, col := range valueCols {
				g.accs[col] = ctors[col]()
			}
			groups[k] = g
			order = append(order, k)
		}
		g.count++
		for _, col := range valueCols {
			g.accs[col].Add(rec[col])
		}
	}

	outCols := append([]string{}, spec.By...)
	outCols = append(outCols, valueCols...)
	if spec.CountColumn != "" {
		outCols = append(outCols, spec.CountColumn)
	}

	out := domain.NewRecordSet(outCols...)
	for _, k := range order {
		g := groups[k]
		rec := g.key.Clone()
		for _, col := range valueCols {
			rec[col] = g.accs[col].Result()
		}
		if spec.CountColumn != "" {
			rec[spec.CountColumn] = int64(g.count)
		}
		out.Records = append(out.Records, rec)
	}

	if len(spec.SortBy) > 0 {
		if err := sortRecords(out, spec.SortBy); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func groupKey(rec domain.Record, by []string) string {
	parts := make([]string, len(by))
	for i, col := range by {
		parts[i] = domain.FormatValue(rec[col])
	}
	return strings.Join(parts, "\x1f")
}

func sortRecords(rs *domain.RecordSet, by []string) error {
	for _, col := range by {
		if !rs.HasColumn(col) {
			return domain.ErrSchema("sort key %q not in schema %v", col, rs.Columns)
		}
	}
	sort.SliceStable(rs.Records, func(i, j int) bool {
		for _, col := range by {
			c := compareValues(rs.Records[i][col], rs.Records[j][col])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

// compareValues orders nulls first, then numerics, then strings.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aok := domain.AsFloat(a)
	fb, bok := domain.AsFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(domain.FormatValue(a), domain.FormatValue(b))
}

// sumAcc treats null as 0.
type sumAcc struct {
	total float64
}

func (a *sumAcc) Add(v any) {
	if f, ok := domain.AsFloat(v); ok {
		a.total += f
	}
}

func (a *sumAcc) Result() any { return a.total }

// meanAcc excludes nulls from the denominator. An all-null group yields nil,
// never a 0-biased mean.
type meanAcc struct {
	total float64
	n     int
}

func (a *meanAcc) Add(v any) {
	if f, ok := domain.AsFloat(v); ok {
		a.total += f
		a.n++
	}
}

func (a *meanAcc) Result() any {
	if a.n == 0 {
		return nil
	}
	return a.total / float64(a.n)
}

// minAcc ignores nulls. An all-null group yields nil.
type minAcc struct {
	best float64
	seen bool
}

func (a *minAcc) Add(v any) {
	f, ok := domain.AsFloat(v)
	if !ok {
		return
	}
	if !a.seen || f < a.best {
		a.best = f
		a.seen = true
	}
}

func (a *minAcc) Result() any {
	if !a.seen {
		return nil
	}
	return a.best
}

// maxAcc ignores nulls. An all-null group yields nil.
type maxAcc struct {
	best float64
	seen bool
}

func (a *maxAcc) Add(v any) {
	f, ok := domain.AsFloat(v)
	if !ok {
		return
	}
	if !a.seen || f > a.best {
		a.best = f
		a.seen = true
	}
}

func (a *maxAcc) Result() any {
	if !a.seen {
		return nil
	}
	return a.best
}

// countAcc counts records, including null values.
type countAcc struct {
	n int64
}

func (a *countAcc) Add(any) { a.n++ }

func (a *countAcc) Result() any { return a.n }
