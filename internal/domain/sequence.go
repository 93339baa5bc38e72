package domain

// Sequence hands out consecutive int64 identifiers from a declared start
// value. It replaces the shared-counter-by-closure pattern: callers that
// need sequential IDs receive a *Sequence explicitly.
type Sequence struct {
	next int64
}

// NewSequence creates a sequence whose first Next() returns start.
func NewSequence(start int64) *Sequence {
	return &Sequence{next: start}
}

// Next returns the next identifier.
func (s *Sequence) Next() int64 {
	v := s.next
	s.next++
	return v
}

// Peek returns the value the next call to Next would produce.
func (s *Sequence) Peek() int64 { return s.next }
