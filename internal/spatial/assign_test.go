package spatial

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmt-pipeline/internal/domain"
)

func parcels(ids ...string) *domain.RecordSet {
	rs := domain.NewRecordSet("parcel_id", "units")
	for i, id := range ids {
		rs.Append(domain.Record{"parcel_id": id, "units": int64(i + 1)})
	}
	return rs
}

func TestAssignGroups(t *testing.T) {
	recs := parcels("P1", "P2", "P3")
	out, err := AssignGroups(recs, "parcel_id", "zone", map[string][]string{
		"P1": {"Z1"},
		"P2": {"Z2"},
		"P3": {"Z1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"parcel_id", "units", "zone"}, out.Columns)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, "Z1", out.Records[0]["zone"])
	assert.Equal(t, "Z2", out.Records[1]["zone"])
	assert.Equal(t, "Z1", out.Records[2]["zone"])
}

func TestAssignGroupsUnassigned(t *testing.T) {
	recs := parcels("P1", "P2")
	out, err := AssignGroups(recs, "parcel_id", "zone", map[string][]string{
		"P1": {"Z1"},
	})
	require.NoError(t, err)

	require.Equal(t, 2, out.Len(), "unrelated records are carried, not dropped")
	assert.Equal(t, "Z1", out.Records[0]["zone"])
	assert.Equal(t, domain.Unassigned, out.Records[1]["zone"])
	assert.Equal(t, int64(2), out.Records[1]["units"])
}

func TestAssignGroupsMultiMatch(t *testing.T) {
	recs := parcels("P1")
	out, err := AssignGroups(recs, "parcel_id", "zone", map[string][]string{
		"P1": {"Z1", "Z2", "Z3"},
	})
	require.NoError(t, err)

	require.Equal(t, 3, out.Len(), "one row per matched aggregate")
	zones := []string{}
	for _, rec := range out.Records {
		assert.Equal(t, "P1", rec["parcel_id"])
		assert.Equal(t, int64(1), rec["units"])
		zones = append(zones, rec["zone"].(string))
	}
	assert.Equal(t, []string{"Z1", "Z2", "Z3"}, zones)
}

func TestAssignGroupsNonStringID(t *testing.T) {
	rs := domain.NewRecordSet("id")
	rs.Append(domain.Record{"id": int64(42)})

	out, err := AssignGroups(rs, "id", "zone", map[string][]string{"42": {"Z1"}})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "Z1", out.Records[0]["zone"])
}

func TestAssignGroupsMissingIDColumn(t *testing.T) {
	recs := parcels("P1")
	_, err := AssignGroups(recs, "nope", "zone", nil)
	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestAssignGroupsDoesNotMutateInput(t *testing.T) {
	recs := parcels("P1")
	_, err := AssignGroups(recs, "parcel_id", "zone", map[string][]string{"P1": {"Z1"}})
	require.NoError(t, err)
	_, ok := recs.Records[0]["zone"]
	assert.False(t, ok, "input records stay untouched")
}

func TestRelateQueryPredicates(t *testing.T) {
	dis := domain.GeometrySet{Table: "parcels", IDColumn: "parcel_id", GeoColumn: "geom"}
	agg := domain.GeometrySet{Table: "zones", IDColumn: "zone_id", GeoColumn: "geom"}

	q, args, err := relateQuery(dis, agg, domain.PredicateIntersects, 0)
	require.NoError(t, err)
	assert.Contains(t, q, "ST_Intersects")
	assert.Empty(t, args)

	q, args, err = relateQuery(dis, agg, domain.PredicateCentroidIn, 0)
	require.NoError(t, err)
	assert.Contains(t, q, "ST_Within(ST_Centroid(")
	assert.Empty(t, args)

	q, args, err = relateQuery(dis, agg, domain.PredicateNearestWithin, 804.5)
	require.NoError(t, err)
	assert.Contains(t, q, "ST_DWithin")
	assert.Contains(t, q, "rn = 1")
	assert.Equal(t, []any{804.5}, args)
}

func TestRelateQueryErrors(t *testing.T) {
	dis := domain.GeometrySet{Table: "parcels", IDColumn: "parcel_id", GeoColumn: "geom"}
	agg := domain.GeometrySet{Table: "zones", IDColumn: "zone_id", GeoColumn: "geom"}

	var schemaErr *domain.SchemaError

	_, _, err := relateQuery(dis, agg, domain.PredicateNearestWithin, 0)
	require.ErrorAs(t, err, &schemaErr, "nearest-within needs a radius")

	_, _, err = relateQuery(dis, agg, domain.Predicate("touches"), 0)
	require.ErrorAs(t, err, &schemaErr)
}

func TestWarnNullGeometries(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	_, err = db.ExecContext(ctx, `CREATE TABLE parcels (parcel_id TEXT, geom BLOB)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO parcels VALUES ('P1', x'00'), ('P2', NULL)`)
	require.NoError(t, err)

	var buf bytes.Buffer
	r := NewDuckRelator(db, slog.New(slog.NewTextHandler(&buf, nil)))
	gs := domain.GeometrySet{Table: "parcels", IDColumn: "parcel_id", GeoColumn: "geom"}

	r.warnNullGeometries(ctx, gs)
	assert.Contains(t, buf.String(), "unassigned")
	assert.Contains(t, buf.String(), "count=1")

	// A failing count query is logged, never silently dropped.
	buf.Reset()
	r.warnNullGeometries(ctx, domain.GeometrySet{Table: "missing", GeoColumn: "geom"})
	assert.Contains(t, buf.String(), "null geometry check failed")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"zones"`, quoteIdent("zones"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}
