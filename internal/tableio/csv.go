// Package tableio adapts tabular sources (delimited files and DuckDB
// tables) to the pipeline's RecordSet model.
package tableio

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"pmt-pipeline/internal/domain"
)

// CSVTable reads and writes a UTF-8, comma-delimited file with a single
// header row. It implements domain.TableReader and domain.TableWriter.
type CSVTable struct {
	Path string
}

// NewCSVTable creates a CSVTable for the given file path.
func NewCSVTable(path string) *CSVTable {
	return &CSVTable{Path: path}
}

// Read opens the file and returns a chunk iterator over the requested
// columns. chunkSize 0 yields the whole file as one RecordSet.
func (t *CSVTable) Read(ctx context.Context, columns []string, chunkSize int) (domain.ChunkIterator, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, domain.ErrStorage("open source %s: %v", t.Path, err)
	}

	r := csv.NewReader(f)
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		return nil, domain.ErrStorage("read header of %s: %v", t.Path, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	if len(columns) == 0 {
		columns = header
	}
	for _, col := range columns {
		if _, ok := colIndex[col]; !ok {
			_ = f.Close()
			return nil, domain.ErrSchema("column %q not in %s (has %v)", col, t.Path, header)
		}
	}

	return &csvChunkIter{
		ctx:       ctx,
		f:         f,
		r:         r,
		source:    t.Path,
		columns:   columns,
		colIndex:  colIndex,
		chunkSize: chunkSize,
	}, nil
}

// Write persists the record set. Overwrite truncates; append extends.
// Columns are emitted in the record set's declared order.
func (t *CSVTable) Write(ctx context.Context, records *domain.RecordSet, mode domain.WriteMode, header bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case domain.ModeOverwrite:
		flags |= os.O_TRUNC
	case domain.ModeAppend:
		flags |= os.O_APPEND
	default:
		return fmt.Errorf("invalid write mode %q", mode)
	}

	f, err := os.OpenFile(t.Path, flags, 0o644)
	if err != nil {
		return domain.ErrStorage("open destination %s: %v", t.Path, err)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if header {
		if err := w.Write(records.Columns); err != nil {
			return domain.ErrStorage("write header to %s: %v", t.Path, err)
		}
	}
	row := make([]string, len(records.Columns))
	for _, rec := range records.Records {
		for i, col := range records.Columns {
			row[i] = domain.FormatValue(rec[col])
		}
		if err := w.Write(row); err != nil {
			return domain.ErrStorage("write row to %s: %v", t.Path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return domain.ErrStorage("flush %s: %v", t.Path, err)
	}
	return nil
}

// csvChunkIter streams bounded-size RecordSets off an open CSV reader.
type csvChunkIter struct {
	ctx       context.Context
	f         *os.File
	r         *csv.Reader
	source    string
	columns   []string
	colIndex  map[string]int
	chunkSize int

	current *domain.RecordSet
	err     error
	done    bool
}

func (it *csvChunkIter) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	chunk := domain.NewRecordSet(it.columns...)
	for it.chunkSize == 0 || chunk.Len() < it.chunkSize {
		row, err := it.r.Read()
		if err == io.EOF {
			it.done = true
			break
		}
		if err != nil {
			it.err = domain.ErrStorage("read %s: %v", it.source, err)
			return false
		}
		rec := make(domain.Record, len(it.columns))
		for _, col := range it.columns {
			idx := it.colIndex[col]
			if idx >= len(row) {
				rec[col] = nil
				continue
			}
			rec[col] = ParseValue(row[idx])
		}
		chunk.Records = append(chunk.Records, rec)
	}

	if chunk.Len() == 0 {
		return false
	}
	it.current = chunk
	return true
}

func (it *csvChunkIter) RecordSet() *domain.RecordSet { return it.current }

func (it *csvChunkIter) Columns() []string { return it.columns }

func (it *csvChunkIter) Err() error { return it.err }

func (it *csvChunkIter) Close() error { return it.f.Close() }

// ParseValue interprets a delimited field as int64, float64, or string.
// The empty field is null.
func ParseValue(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
