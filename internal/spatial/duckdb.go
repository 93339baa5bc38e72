// Package spatial derives group membership from spatial predicates by
// delegating to an external geometry engine. The pipeline never inspects
// geometry itself.
package spatial

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"pmt-pipeline/internal/domain"
)

// DuckRelator answers spatial predicates with the DuckDB spatial extension.
// Both geometry sets must be tables in the attached database with a
// GEOMETRY column.
type DuckRelator struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckRelator creates a DuckRelator. The spatial extension must already
// be loaded (see EnsureSpatial).
func NewDuckRelator(db *sql.DB, logger *slog.Logger) *DuckRelator {
	return &DuckRelator{db: db, logger: logger}
}

// Compile-time check.
var _ domain.SpatialRelator = (*DuckRelator)(nil)

// EnsureSpatial installs and loads the DuckDB spatial extension.
func EnsureSpatial(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "INSTALL spatial"); err != nil {
		return fmt.Errorf("install spatial extension: %w", err)
	}
	if _, err := db.ExecContext(ctx, "LOAD spatial"); err != nil {
		return fmt.Errorf("load spatial extension: %w", err)
	}
	return nil
}

// Relate maps each disaggregate ID to the aggregate IDs it relates to under
// the predicate. IDs with null geometry are reported once at warn level and
// excluded from the result, which downstream treats as unassigned.
func (r *DuckRelator) Relate(ctx context.Context, dis, agg domain.GeometrySet, predicate domain.Predicate, radius float64) (map[string][]string, error) {
	query, args, err := relateQuery(dis, agg, predicate, radius)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.ErrStorage("spatial relate %s/%s: %v", dis.Table, agg.Table, err)
	}
	defer rows.Close() //nolint:errcheck

	assignments := make(map[string][]string)
	for rows.Next() {
		var disID, aggID string
		if err := rows.Scan(&disID, &aggID); err != nil {
			return nil, domain.ErrStorage("scan spatial result: %v", err)
		}
		assignments[disID] = append(assignments[disID], aggID)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorage("spatial relate %s/%s: %v", dis.Table, agg.Table, err)
	}

	r.warnNullGeometries(ctx, dis)

	return assignments, nil
}

// warnNullGeometries reports disaggregate rows whose geometry is null; they
// cannot be related and end up unassigned. A failing count query is itself
// logged rather than dropped.
func (r *DuckRelator) warnNullGeometries(ctx context.Context, gs domain.GeometrySet) {
	n, err := r.countNullGeometries(ctx, gs)
	if err != nil {
		r.logger.Warn("null geometry check failed", "table", gs.Table, "error", err)
		return
	}
	if n > 0 {
		r.logger.Warn("disaggregate geometries are null and will be unassigned",
			"table", gs.Table, "count", n,
			"reason", domain.ErrSpatialUndefined("null geometry in %s", gs.Table).Error())
	}
}

// relateQuery builds the predicate join. Identifiers are quoted; the radius
// binds as a parameter.
func relateQuery(dis, agg domain.GeometrySet, predicate domain.Predicate, radius float64) (string, []any, error) {
	d := quoteIdent(dis.Table)
	a := quoteIdent(agg.Table)
	dID := "d." + quoteIdent(dis.IDColumn)
	aID := "a." + quoteIdent(agg.IDColumn)
	dGeo := "d." + quoteIdent(dis.GeoColumn)
	aGeo := "a." + quoteIdent(agg.GeoColumn)
	notNull := fmt.Sprintf("%s IS NOT NULL AND %s IS NOT NULL", dGeo, aGeo)

	switch predicate {
	case domain.PredicateIntersects:
		q := fmt.Sprintf(
			"SELECT %s, %s FROM %s d JOIN %s a ON ST_Intersects(%s, %s) WHERE %s",
			dID, aID, d, a, dGeo, aGeo, notNull)
		return q, nil, nil
	case domain.PredicateCentroidIn:
		q := fmt.Sprintf(
			"SELECT %s, %s FROM %s d JOIN %s a ON ST_Within(ST_Centroid(%s), %s) WHERE %s",
			dID, aID, d, a, dGeo, aGeo, notNull)
		return q, nil, nil
	case domain.PredicateNearestWithin:
		if radius <= 0 {
			return "", nil, domain.ErrSchema("predicate %q requires a positive radius", predicate)
		}
		// One nearest aggregate per disaggregate, among those within radius.
		q := fmt.Sprintf(`SELECT dis_id, agg_id FROM (
  SELECT %s AS dis_id, %s AS agg_id,
         row_number() OVER (PARTITION BY %s ORDER BY ST_Distance(%s, %s)) AS rn
  FROM %s d JOIN %s a ON ST_DWithin(%s, %s, ?)
  WHERE %s
) WHERE rn = 1`,
			dID, aID, dID, dGeo, aGeo, d, a, dGeo, aGeo, notNull)
		return q, []any{radius}, nil
	default:
		return "", nil, domain.ErrSchema("unknown spatial predicate %q", predicate)
	}
}

func (r *DuckRelator) countNullGeometries(ctx context.Context, gs domain.GeometrySet) (int, error) {
	var n int
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL",
		quoteIdent(gs.Table), quoteIdent(gs.GeoColumn))
	err := r.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

func quoteIdent(name string) string {
	out := `"`
	for _, c := range name {
		if c == '"' {
			out += `""`
		} else {
			out += string(c)
		}
	}
	return out + `"`
}
