// Package matrix builds the combined MNIST matrix and lays it out as raw
// little-endian float32 bytes.
//
// File layout: rows*cols float32 values, row-major, least-significant byte
// first. There is no header, padding or metadata, so the file size is always
// rows*cols*4 bytes.
package matrix

import (
	"fmt"

	"github.com/grexie/mnist-tensor/pkg/mnist"
	"gorgonia.org/tensor"
)

// BytesPerValue is the encoded width of one float32.
const BytesPerValue = 4

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	dense *tensor.Dense
}

func newMatrix(rows, cols int, backing []float32) *Matrix {
	return &Matrix{
		dense: tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing)),
	}
}

// FromRows copies rows into a new Matrix. Every row must have the same width.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrMalformedMatrix)
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("%w: zero-width rows", ErrMalformedMatrix)
	}

	backing := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, &RowError{
				Kind: ErrMalformedMatrix,
				Row:  i,
				Err:  fmt.Errorf("width %d, want %d", len(row), cols),
			}
		}
		backing = append(backing, row...)
	}
	return newMatrix(len(rows), cols, backing), nil
}

func (m *Matrix) Rows() int {
	return m.dense.Shape()[0]
}

func (m *Matrix) Cols() int {
	return m.dense.Shape()[1]
}

// Data returns the row-major backing slice. Callers must not modify it.
func (m *Matrix) Data() []float32 {
	return m.dense.Data().([]float32)
}

// Row returns a view of row i.
func (m *Matrix) Row(i int) []float32 {
	cols := m.Cols()
	return m.Data()[i*cols : (i+1)*cols]
}

// Dense exposes the underlying tensor.
func (m *Matrix) Dense() *tensor.Dense {
	return m.dense
}

// Size is the encoded size of the matrix in bytes.
func (m *Matrix) Size() int64 {
	return ExpectedSize(m.Rows(), m.Cols())
}

func ExpectedSize(rows, cols int) int64 {
	return int64(rows) * int64(cols) * BytesPerValue
}

// Validate checks the matrix has the fixed row layout: two dimensions,
// mnist.RowWidth columns and a backing slice covering every cell.
func (m *Matrix) Validate() error {
	if m == nil || m.dense == nil {
		return fmt.Errorf("%w: nil matrix", ErrMalformedMatrix)
	}
	shape := m.dense.Shape()
	if len(shape) != 2 {
		return fmt.Errorf("%w: %d dimensions, want 2", ErrMalformedMatrix, len(shape))
	}
	if shape[1] != mnist.RowWidth {
		return fmt.Errorf("%w: row width %d, want %d", ErrMalformedMatrix, shape[1], mnist.RowWidth)
	}
	data, ok := m.dense.Data().([]float32)
	if !ok {
		return fmt.Errorf("%w: dtype %v, want float32", ErrMalformedMatrix, m.dense.Dtype())
	}
	if len(data) != shape[0]*shape[1] {
		return fmt.Errorf("%w: %d values for shape %v", ErrMalformedMatrix, len(data), shape)
	}
	return nil
}
