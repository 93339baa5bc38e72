package aggregate

import (
	"pmt-pipeline/internal/domain"
)

// TransformOp names one of the closed set of row transforms applied before
// aggregation. Formula strings are never evaluated at runtime.
type TransformOp string

const (
	// OpRatio divides Left by Right into Target. A null operand or zero
	// denominator yields null.
	OpRatio TransformOp = "ratio"
	// OpScale multiplies Left by Factor into Target (unit conversions:
	// square feet to acres, meters to miles).
	OpScale TransformOp = "scale"
)

// Transform declares one derived column.
type Transform struct {
	Op     TransformOp
	Target string
	Left   string
	Right  string  // ratio only
	Factor float64 // scale only
}

// ApplyTransforms derives each transform's target column on every record,
// in declaration order. Later transforms may reference earlier targets.
func ApplyTransforms(records *domain.RecordSet, transforms []Transform) (*domain.RecordSet, error) {
	if len(transforms) == 0 {
		return records, nil
	}

	out := &domain.RecordSet{Columns: append([]string{}, records.Columns...)}
	declared := make(map[string]struct{}, len(records.Columns))
	for _, col := range records.Columns {
		declared[col] = struct{}{}
	}
	for _, tr := range transforms {
		if err := validateTransform(tr, declared); err != nil {
			return nil, err
		}
		if _, ok := declared[tr.Target]; !ok {
			out.Columns = append(out.Columns, tr.Target)
			declared[tr.Target] = struct{}{}
		}
	}

	for _, rec := range records.Records {
		derived := rec.Clone()
		for _, tr := range transforms {
			derived[tr.Target] = applyTransform(tr, derived)
		}
		out.Records = append(out.Records, derived)
	}
	return out, nil
}

func validateTransform(tr Transform, declared map[string]struct{}) error {
	if tr.Target == "" {
		return domain.ErrSchema("transform %q requires a target column", tr.Op)
	}
	if _, ok := declared[tr.Left]; !ok {
		return domain.ErrSchema("transform column %q not in schema", tr.Left)
	}
	switch tr.Op {
	case OpRatio:
		if _, ok := declared[tr.Right]; !ok {
			return domain.ErrSchema("transform column %q not in schema", tr.Right)
		}
	case OpScale:
		// Factor 0 is allowed; it zeroes the column explicitly.
	default:
		return domain.ErrSchema("unknown transform op %q", tr.Op)
	}
	return nil
}

func applyTransform(tr Transform, rec domain.Record) any {
	left, ok := domain.AsFloat(rec[tr.Left])
	if !ok {
		return nil
	}
	switch tr.Op {
	case OpRatio:
		right, ok := domain.AsFloat(rec[tr.Right])
		if !ok || right == 0 {
			return nil
		}
		return left / right
	case OpScale:
		return left * tr.Factor
	}
	return nil
}
