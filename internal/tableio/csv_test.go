package tableio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmt-pipeline/internal/domain"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, table *CSVTable, columns []string, chunkSize int) *domain.RecordSet {
	t.Helper()
	it, err := table.Read(context.Background(), columns, chunkSize)
	require.NoError(t, err)
	defer it.Close() //nolint:errcheck

	var all *domain.RecordSet
	for it.Next() {
		if all == nil {
			all = it.RecordSet()
			continue
		}
		require.NoError(t, all.Concat(it.RecordSet()))
	}
	require.NoError(t, it.Err())
	if all == nil {
		all = domain.NewRecordSet(columns...)
	}
	return all
}

func TestCSVReadTypes(t *testing.T) {
	path := writeFixture(t, "parcels.csv",
		"parcel_id,lu_code,acres\nP1,210,1.5\nP2,330,\n")

	got := readAll(t, NewCSVTable(path), nil, 0)
	require.Equal(t, []string{"parcel_id", "lu_code", "acres"}, got.Columns)
	require.Equal(t, 2, got.Len())

	assert.Equal(t, domain.Record{"parcel_id": "P1", "lu_code": int64(210), "acres": 1.5}, got.Records[0])
	// Empty field is null.
	assert.Nil(t, got.Records[1]["acres"])
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, "in.csv", "id,qty,label\nA,1,alpha\nB,2,beta\nC,,gamma\n")
	dst := filepath.Join(dir, "out.csv")

	original := readAll(t, NewCSVTable(src), nil, 0)
	require.NoError(t, NewCSVTable(dst).Write(context.Background(), original, domain.ModeOverwrite, true))

	reread := readAll(t, NewCSVTable(dst), nil, 0)
	assert.Equal(t, original.Columns, reread.Columns)
	assert.ElementsMatch(t, original.Records, reread.Records)
}

func TestCSVChunkedEqualsUnchunked(t *testing.T) {
	// 5 rows: chunk sizes that divide, don't divide, and exceed the length.
	src := writeFixture(t, "in.csv", "id,v\nA,1\nB,2\nC,3\nD,4\nE,5\n")
	whole := readAll(t, NewCSVTable(src), nil, 0)

	for _, n := range []int{1, 2, 3, 5, 7} {
		chunked := readAll(t, NewCSVTable(src), nil, n)
		assert.Equal(t, whole, chunked, "chunk size %d", n)
	}
}

func TestCSVChunkSizes(t *testing.T) {
	src := writeFixture(t, "in.csv", "id\nA\nB\nC\n")

	it, err := NewCSVTable(src).Read(context.Background(), nil, 2)
	require.NoError(t, err)
	defer it.Close() //nolint:errcheck

	var sizes []int
	for it.Next() {
		sizes = append(sizes, it.RecordSet().Len())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestCSVUnknownColumn(t *testing.T) {
	src := writeFixture(t, "in.csv", "id,v\nA,1\n")

	_, err := NewCSVTable(src).Read(context.Background(), []string{"id", "zone"}, 0)
	var schemaErr *domain.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestCSVMissingSource(t *testing.T) {
	_, err := NewCSVTable(filepath.Join(t.TempDir(), "nope.csv")).Read(context.Background(), nil, 0)
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestCSVColumnProjection(t *testing.T) {
	src := writeFixture(t, "in.csv", "id,v,extra\nA,1,x\n")

	got := readAll(t, NewCSVTable(src), []string{"v", "id"}, 0)
	assert.Equal(t, []string{"v", "id"}, got.Columns)
	assert.Equal(t, domain.Record{"v": int64(1), "id": "A"}, got.Records[0])
}

func TestCSVAppendMode(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.csv")
	table := NewCSVTable(dst)
	ctx := context.Background()

	first := domain.NewRecordSet("id", "v")
	first.Append(domain.Record{"id": "A", "v": int64(1)})
	require.NoError(t, table.Write(ctx, first, domain.ModeOverwrite, true))

	second := domain.NewRecordSet("id", "v")
	second.Append(domain.Record{"id": "B", "v": int64(2)})
	require.NoError(t, table.Write(ctx, second, domain.ModeAppend, false))

	got := readAll(t, table, nil, 0)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "A", got.Records[0]["id"])
	assert.Equal(t, "B", got.Records[1]["id"])
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", nil},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.25", 3.25},
		{"1e3", 1000.0},
		{"P-101", "P-101"},
		{"007", int64(7)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseValue(tt.in), "input %q", tt.in)
	}
}
