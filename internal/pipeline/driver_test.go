package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"pmt-pipeline/internal/config"
	"pmt-pipeline/internal/domain"
	"pmt-pipeline/internal/jobspec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureRoot writes per-year parcel files and a land-use lookup table
// under a temp root and returns it.
func fixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"parcels_2018.csv": "parcel_id,land_use,units\nA,R,2\nB,C,4\nC,R,6\n",
		"parcels_2019.csv": "parcel_id,land_use,units\nA,R,3\nB,C,5\n",
		"land_use.csv":     "land_use,category\nR,residential\nC,commercial\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return root
}

func parcelJob() *jobspec.Job {
	return &jobspec.Job{
		Name:   "units-by-category",
		Source: jobspec.TableRef{Path: "parcels_{year}.csv"},
		Reference: &jobspec.ReferenceSpec{
			TableRef: jobspec.TableRef{Path: "land_use.csv"},
			Keys:     []string{"land_use"},
		},
		Group: jobspec.GroupRef{
			By:          []string{"category"},
			Reduce:      map[string]string{"units": "sum"},
			CountColumn: "parcels",
			SortBy:      []string{"category"},
		},
		Output: jobspec.OutputRef{Path: "out.csv", YearColumn: "year"},
	}
}

func newTestRunner(root string) *Runner {
	cfg := &config.Config{RootDir: root, Years: []int{2018, 2019}}
	return NewRunner(cfg, nil, nil, nil, testLogger())
}

const wantOutput = `year,category,units,parcels
2018,commercial,4,1
2018,residential,8,2
2019,commercial,5,1
2019,residential,3,1
`

func TestRunMultiYear(t *testing.T) {
	root := fixtureRoot(t)
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, wantOutput, string(data))
}

func TestRunParallelMatchesSequential(t *testing.T) {
	root := fixtureRoot(t)
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{Parallelism: 4}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, wantOutput, string(data), "appends keep year order under parallelism")
}

func TestRunYearsOverride(t *testing.T) {
	root := fixtureRoot(t)
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{Years: []int{2019}}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,category,units,parcels\n2019,commercial,5,1\n2019,residential,3,1\n", string(data))
}

func TestRunEmptyUnit(t *testing.T) {
	root := fixtureRoot(t)
	// 2019 has a header but no rows: a valid unit that aggregates to zero
	// groups, not a failure.
	require.NoError(t, os.WriteFile(filepath.Join(root, "parcels_2019.csv"),
		[]byte("parcel_id,land_use,units\n"), 0o644))
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,category,units,parcels\n2018,commercial,4,1\n2018,residential,8,2\n", string(data))
}

func TestRunAllUnitsEmpty(t *testing.T) {
	root := fixtureRoot(t)
	for _, name := range []string{"parcels_2018.csv", "parcels_2019.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name),
			[]byte("parcel_id,land_use,units\n"), 0o644))
	}
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,category,units,parcels\n", string(data), "header only, zero groups")
}

func TestRunRowIDColumn(t *testing.T) {
	root := fixtureRoot(t)
	job := parcelJob()
	job.Output.RowIDColumn = "row_id"
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), job, RunOptions{}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	want := `row_id,year,category,units,parcels
1,2018,commercial,4,1
2,2018,residential,8,2
3,2019,commercial,5,1
4,2019,residential,3,1
`
	assert.Equal(t, want, string(data), "row IDs run consecutively across units")
}

func TestRunFailedUnitDiscardsOutput(t *testing.T) {
	root := fixtureRoot(t)
	require.NoError(t, os.Remove(filepath.Join(root, "parcels_2019.csv")))
	r := newTestRunner(root)

	err := r.Run(context.Background(), parcelJob(), RunOptions{})
	require.Error(t, err)

	var unitErr *domain.UnitError
	require.ErrorAs(t, err, &unitErr)
	assert.Equal(t, "2019", unitErr.Unit)

	_, statErr := os.Stat(filepath.Join(root, "out.csv"))
	assert.True(t, os.IsNotExist(statErr), "partial output is discarded on failure")
}

func TestRunSkipFailedUnits(t *testing.T) {
	root := fixtureRoot(t)
	require.NoError(t, os.Remove(filepath.Join(root, "parcels_2019.csv")))
	r := newTestRunner(root)

	require.NoError(t, r.Run(context.Background(), parcelJob(), RunOptions{SkipFailedUnits: true}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,category,units,parcels\n2018,commercial,4,1\n2018,residential,8,2\n", string(data))
}

func TestLoadReferenceConcurrent(t *testing.T) {
	root := fixtureRoot(t)
	r := newTestRunner(root)

	// Distinct years resolve to distinct cache entries, so the goroutines
	// both populate and read the shared cache.
	ref := &jobspec.ReferenceSpec{
		TableRef: jobspec.TableRef{Path: "parcels_{year}.csv"},
		Keys:     []string{"parcel_id"},
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		year := 2018 + i%2
		g.Go(func() error {
			loaded, err := r.loadReference(context.Background(), ref, year)
			if err != nil {
				return err
			}
			if loaded.Len() == 0 {
				return fmt.Errorf("year %d: empty reference", year)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

// fakeRelator serves canned assignments without touching geometry.
type fakeRelator struct {
	assignments map[string][]string
	gotDis      domain.GeometrySet
}

func (f *fakeRelator) Relate(ctx context.Context, dis, agg domain.GeometrySet, predicate domain.Predicate, radius float64) (map[string][]string, error) {
	f.gotDis = dis
	return f.assignments, nil
}

func TestRunSpatialJob(t *testing.T) {
	root := fixtureRoot(t)
	relator := &fakeRelator{assignments: map[string][]string{
		"A": {"Z1"},
		"B": {"Z1", "Z2"},
		// C has no relation and lands in the unassigned group.
	}}
	cfg := &config.Config{RootDir: root}
	r := NewRunner(cfg, nil, relator, nil, testLogger())

	job := &jobspec.Job{
		Name:   "units-by-zone",
		Source: jobspec.TableRef{Path: "parcels_{year}.csv"},
		Spatial: &jobspec.SpatialSpec{
			Predicate:    string(domain.PredicateIntersects),
			Disaggregate: jobspec.GeometryRef{Table: "parcels_{year}", ID: "parcel_id", Geometry: "geom"},
			Aggregate:    jobspec.GeometryRef{Table: "zones", ID: "zone_id", Geometry: "geom"},
			IDColumn:     "parcel_id",
			GroupColumn:  "zone",
		},
		Group: jobspec.GroupRef{
			By:     []string{"zone"},
			Reduce: map[string]string{"units": "sum"},
			SortBy: []string{"zone"},
		},
		Output: jobspec.OutputRef{Path: "out.csv"},
	}

	require.NoError(t, r.Run(context.Background(), job, RunOptions{Years: []int{2018}}))

	assert.Equal(t, "parcels_2018", relator.gotDis.Table, "year placeholder resolves per unit")

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	// B contributes its units to both zones it relates to.
	assert.Equal(t, "zone,units\nZ1,6\nZ2,4\nunassigned,6\n", string(data))
}

func TestRunTransformJob(t *testing.T) {
	root := t.TempDir()
	body := "parcel_id,sq_ft\nA,4\nB,8\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "parcels_2018.csv"), []byte(body), 0o644))
	r := newTestRunner(root)

	job := &jobspec.Job{
		Name:   "acreage",
		Source: jobspec.TableRef{Path: "parcels_{year}.csv"},
		Transforms: []jobspec.TransformRef{
			{Op: "scale", Target: "acres", Left: "sq_ft", Factor: 0.25},
		},
		Group: jobspec.GroupRef{
			By:     []string{"parcel_id"},
			Reduce: map[string]string{"acres": "sum"},
			SortBy: []string{"parcel_id"},
		},
		Output: jobspec.OutputRef{Path: "out.csv"},
	}

	require.NoError(t, r.Run(context.Background(), job, RunOptions{Years: []int{2018}}))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "parcel_id,acres\nA,1\nB,2\n", string(data), "scaled values of 4 and 8 at factor 0.25")
}

func TestRunChunkedMatchesUnchunked(t *testing.T) {
	root := fixtureRoot(t)

	whole := newTestRunner(root)
	require.NoError(t, whole.Run(context.Background(), parcelJob(), RunOptions{}))
	wholeOut, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)

	chunkedJob := parcelJob()
	chunkedJob.Source.ChunkSize = 2
	chunkedJob.Output.Path = "out_chunked.csv"
	chunked := newTestRunner(root)
	require.NoError(t, chunked.Run(context.Background(), chunkedJob, RunOptions{}))
	chunkedOut, err := os.ReadFile(filepath.Join(root, "out_chunked.csv"))
	require.NoError(t, err)

	assert.Equal(t, string(wholeOut), string(chunkedOut))
}

func TestRunMissingRelator(t *testing.T) {
	root := fixtureRoot(t)
	r := newTestRunner(root)

	job := parcelJob()
	job.Spatial = &jobspec.SpatialSpec{
		Predicate:    string(domain.PredicateIntersects),
		Disaggregate: jobspec.GeometryRef{Table: "d", ID: "i", Geometry: "g"},
		Aggregate:    jobspec.GeometryRef{Table: "a", ID: "i", Geometry: "g"},
		IDColumn:     "parcel_id",
		GroupColumn:  "zone",
	}

	err := r.Run(context.Background(), job, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relator")
}
