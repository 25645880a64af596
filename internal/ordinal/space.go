// Package ordinal hands out chunk ordinals and holds the embedding vector
// addressed by each one.
//
// A Space is not safe for concurrent use. The index engine owns it and
// serializes every call behind its mutation lock.
package ordinal

import (
	"errors"
	"fmt"
	"math"

	"github.com/dshills/codelocal/pkg/types"
)

var (
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrExhausted is returned when the ordinal range is used up
	ErrExhausted = errors.New("ordinal space exhausted")

	// ErrOccupied is returned when restoring a vector over an existing one
	ErrOccupied = fmt.Errorf("%w: ordinal already holds a vector", types.ErrInvariant)
)

// Space assigns monotonically increasing ordinals and stores their vectors
type Space struct {
	dim     int
	next    types.Ordinal
	vectors map[types.Ordinal][]float32
}

// New creates an empty Space for vectors of length dim
func New(dim int) *Space {
	return &Space{
		dim:     dim,
		vectors: make(map[types.Ordinal][]float32),
	}
}

// Dim returns the vector length
func (s *Space) Dim() int {
	return s.dim
}

// Allocate stores a copy of vec under the next ordinal and returns it
func (s *Space) Allocate(vec []float32) (types.Ordinal, error) {
	if len(vec) != s.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	if s.next == math.MaxUint32 {
		return 0, ErrExhausted
	}

	ord := s.next
	s.vectors[ord] = append([]float32(nil), vec...)
	s.next++
	return ord, nil
}

// Restore puts vec back under an ordinal read from a snapshot and moves the
// allocation cursor past it
func (s *Space) Restore(ord types.Ordinal, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	if _, ok := s.vectors[ord]; ok {
		return fmt.Errorf("%w: %d", ErrOccupied, ord)
	}
	s.vectors[ord] = vec
	if ord >= s.next {
		s.next = ord + 1
	}
	return nil
}

// Vector returns the stored vector for ord. The slice must not be modified.
func (s *Space) Vector(ord types.Ordinal) ([]float32, bool) {
	v, ok := s.vectors[ord]
	return v, ok
}

// Release drops the vector for ord. The ordinal itself is never handed out again.
func (s *Space) Release(ord types.Ordinal) {
	delete(s.vectors, ord)
}

// Len returns the number of stored vectors
func (s *Space) Len() int {
	return len(s.vectors)
}

// Next returns the ordinal the next Allocate will return
func (s *Space) Next() types.Ordinal {
	return s.next
}

// Advance moves the allocation cursor to at least next. It never moves backwards.
func (s *Space) Advance(next types.Ordinal) {
	if next > s.next {
		s.next = next
	}
}
