package spatial

import (
	"pmt-pipeline/internal/domain"
)

// AssignGroups derives the spatial-membership group column on a record set
// from a Relate result. A record relating to several aggregates is emitted
// once per aggregate (it contributes to each group's summary). A record
// relating to none is carried through with the Unassigned label, never
// dropped.
func AssignGroups(records *domain.RecordSet, idColumn, groupColumn string, assignments map[string][]string) (*domain.RecordSet, error) {
	if !records.HasColumn(idColumn) {
		return nil, domain.ErrSchema("id column %q not in schema %v", idColumn, records.Columns)
	}

	outCols := append([]string{}, records.Columns...)
	if !records.HasColumn(groupColumn) {
		outCols = append(outCols, groupColumn)
	}

	out := domain.NewRecordSet(outCols...)
	for _, rec := range records.Records {
		id := domain.FormatValue(rec[idColumn])
		groups := assignments[id]
		if len(groups) == 0 {
			unassigned := rec.Clone()
			unassigned[groupColumn] = domain.Unassigned
			out.Records = append(out.Records, unassigned)
			continue
		}
		for _, g := range groups {
			assigned := rec.Clone()
			assigned[groupColumn] = g
			out.Records = append(out.Records, assigned)
		}
	}
	return out, nil
}
