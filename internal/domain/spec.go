package domain

// WriteMode controls how a write treats an existing destination.
type WriteMode string

const (
	ModeOverwrite WriteMode = "overwrite"
	ModeAppend    WriteMode = "append"
)

// DuplicatePolicy declares how a join resolves duplicate reference keys.
type DuplicatePolicy string

const (
	// DuplicateFirst keeps the first reference record per key, in source order.
	DuplicateFirst DuplicatePolicy = "first"
	// DuplicateError fails the join with an AmbiguousJoinError.
	DuplicateError DuplicatePolicy = "error"
)

// JoinSpec declares a many-to-one left join of a primary record set
// against a reference lookup table.
type JoinSpec struct {
	// Keys are the equality-join column names, present in both schemas.
	Keys []string
	// Defaults fill reference-sourced columns when a primary key has no
	// match. Columns absent from Defaults fill with nil.
	Defaults map[string]any
	// OnDuplicate resolves duplicate reference keys. Empty means
	// DuplicateError: ambiguity is never resolved silently.
	OnDuplicate DuplicatePolicy
}

// Reducer names one of the closed set of registered reduction functions.
type Reducer string

const (
	ReduceSum   Reducer = "sum"
	ReduceMean  Reducer = "mean"
	ReduceMin   Reducer = "min"
	ReduceMax   Reducer = "max"
	ReduceCount Reducer = "count"
)

// GroupSpec declares a group-by aggregation: group key columns, a reducer
// per value column, and an optional cardinality column.
type GroupSpec struct {
	// By lists the group key columns.
	By []string
	// Reduce maps each value column to its reducer.
	Reduce map[string]Reducer
	// CountColumn, when non-empty, adds a column holding the raw group
	// cardinality (number of input records, independent of nulls).
	CountColumn string
	// SortBy orders the output by these columns. Empty leaves the output
	// order unspecified.
	SortBy []string
}

// Predicate selects the spatial relationship used to derive group membership.
type Predicate string

const (
	PredicateIntersects    Predicate = "intersects"
	PredicateCentroidIn    Predicate = "centroid-within"
	PredicateNearestWithin Predicate = "nearest-within-radius"
)

// Unassigned is the group label for disaggregate records that relate to no
// aggregate geometry. Such records are carried through, never dropped.
const Unassigned = "unassigned"
