// Package join implements the many-to-one reference lookup join.
package join

import (
	"strings"

	"pmt-pipeline/internal/domain"
)

// Join left-joins primary against reference on spec.Keys. Every primary
// record survives: reference-sourced columns fill from the matched
// reference record, or from spec.Defaults (nil when undeclared) when the
// key has no match. Duplicate reference keys resolve per spec.OnDuplicate;
// an empty policy fails with an AmbiguousJoinError on the first duplicate.
func Join(primary, reference *domain.RecordSet, spec domain.JoinSpec) (*domain.RecordSet, error) {
	if len(spec.Keys) == 0 {
		return nil, domain.ErrSchema("join requires at least one key column")
	}
	for _, key := range spec.Keys {
		if !primary.HasColumn(key) {
			return nil, domain.ErrSchema("join key %q not in primary schema %v", key, primary.Columns)
		}
		if !reference.HasColumn(key) {
			return nil, domain.ErrSchema("join key %q not in reference schema %v", key, reference.Columns)
		}
	}

	// Reference columns carried into the output: everything except the keys.
	keySet := make(map[string]struct{}, len(spec.Keys))
	for _, k := range spec.Keys {
		keySet[k] = struct{}{}
	}
	var refCols []string
	for _, col := range reference.Columns {
		if _, isKey := keySet[col]; !isKey {
			refCols = append(refCols, col)
		}
	}

	// Index the reference set by composite key.
	index := make(map[string]domain.Record, reference.Len())
	for _, rec := range reference.Records {
		k := compositeKey(rec, spec.Keys)
		if _, dup := index[k]; dup {
			switch spec.OnDuplicate {
			case domain.DuplicateFirst:
				continue // keep the first occurrence
			default:
				return nil, domain.ErrAmbiguousJoin(
					"duplicate reference key %s on columns %v", k, spec.Keys)
			}
		}
		index[k] = rec
	}

	outCols := append([]string{}, primary.Columns...)
	for _, col := range refCols {
		if !primary.HasColumn(col) {
			outCols = append(outCols, col)
		}
	}

	out := domain.NewRecordSet(outCols...)
	for _, rec := range primary.Records {
		joined := rec.Clone()
		match, ok := index[compositeKey(rec, spec.Keys)]
		for _, col := range refCols {
			if ok {
				joined[col] = match[col]
			} else if def, declared := spec.Defaults[col]; declared {
				joined[col] = def
			} else {
				joined[col] = nil
			}
		}
		out.Records = append(out.Records, joined)
	}
	return out, nil
}

// compositeKey builds a stable lookup key from the record's key columns.
func compositeKey(rec domain.Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = domain.FormatValue(rec[k])
	}
	return strings.Join(parts, "\x1f")
}
