package matrix

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDataIntegrity     = errors.New("data integrity")
	ErrMalformedMatrix   = errors.New("malformed matrix")
	ErrInternalInvariant = errors.New("internal invariant violated")
	ErrShortWrite        = errors.New("short write")
)

// RowError locates a failure at a single matrix row.
type RowError struct {
	Kind   error  // one of the sentinel errors above
	Split  string // source split, empty when not applicable
	Row    int    // row index in the matrix
	Source int    // index within the split
	Err    error
}

func (e *RowError) Error() string {
	if e.Split != "" {
		return fmt.Sprintf("%v: row %d (%s[%d]): %v", e.Kind, e.Row, e.Split, e.Source, e.Err)
	}
	return fmt.Sprintf("%v: row %d: %v", e.Kind, e.Row, e.Err)
}

func (e *RowError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
