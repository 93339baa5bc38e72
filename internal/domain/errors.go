package domain

import "fmt"

// SchemaError indicates a requested column is absent from a source's schema.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

// AmbiguousJoinError indicates duplicate reference keys with no declared
// resolution policy.
type AmbiguousJoinError struct {
	Message string
}

func (e *AmbiguousJoinError) Error() string { return e.Message }

// StorageError indicates a destination is unwritable or a source unreadable.
type StorageError struct {
	Message string
}

func (e *StorageError) Error() string { return e.Message }

// SpatialRelationUndefinedError indicates a geometry that cannot be related
// (null or invalid). Not fatal: the record is carried through as unassigned.
type SpatialRelationUndefinedError struct {
	Message string
}

func (e *SpatialRelationUndefinedError) Error() string { return e.Message }

// ErrSchema creates a SchemaError with a formatted message.
func ErrSchema(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// ErrAmbiguousJoin creates an AmbiguousJoinError with a formatted message.
func ErrAmbiguousJoin(format string, args ...interface{}) *AmbiguousJoinError {
	return &AmbiguousJoinError{Message: fmt.Sprintf(format, args...)}
}

// ErrStorage creates a StorageError with a formatted message.
func ErrStorage(format string, args ...interface{}) *StorageError {
	return &StorageError{Message: fmt.Sprintf(format, args...)}
}

// ErrSpatialUndefined creates a SpatialRelationUndefinedError with a
// formatted message.
func ErrSpatialUndefined(format string, args ...interface{}) *SpatialRelationUndefinedError {
	return &SpatialRelationUndefinedError{Message: fmt.Sprintf(format, args...)}
}

// UnitError attributes a pipeline failure to the batch unit (year, chunk,
// table) that caused it.
type UnitError struct {
	Unit string
	Err  error
}

func (e *UnitError) Error() string { return fmt.Sprintf("unit %s: %v", e.Unit, e.Err) }

func (e *UnitError) Unwrap() error { return e.Err }

// WrapUnit wraps err with the failing unit's label. Returns nil for nil err.
func WrapUnit(unit string, err error) error {
	if err == nil {
		return nil
	}
	return &UnitError{Unit: unit, Err: err}
}
