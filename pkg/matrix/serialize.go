package matrix

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// WriteTo encodes the matrix as little-endian float32 values, row-major, and
// returns the number of bytes written.
func (m *Matrix) WriteTo(w io.Writer) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	cols := m.Cols()
	data := m.Data()
	buf := make([]byte, cols*BytesPerValue)

	var written int64
	for r := 0; r < m.Rows(); r++ {
		row := data[r*cols : (r+1)*cols]
		for c, v := range row {
			binary.LittleEndian.PutUint32(buf[c*BytesPerValue:], math.Float32bits(v))
		}
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write row %d: %w", r, err)
		}
	}
	return written, nil
}

// WriteFile serializes m to path, creating the parent directory if needed.
// The returned count is what actually reached the file; comparing it with
// m.Size() is left to the caller.
func WriteFile(m *Matrix, path string) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	//nolint:gosec // G304: output path is user supplied
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	n, err := m.WriteTo(bw)
	if err != nil {
		f.Close()
		return n, err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return n - int64(bw.Buffered()), fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return n, nil
}

// Decode reads a headerless little-endian float32 stream with the given row width.
func Decode(r io.Reader, cols int) (*Matrix, error) {
	if cols <= 0 {
		return nil, fmt.Errorf("%w: row width %d", ErrInvalidArgument, cols)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	rowBytes := cols * BytesPerValue
	if len(raw) == 0 || len(raw)%rowBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte rows", ErrMalformedMatrix, len(raw), rowBytes)
	}

	backing := make([]float32, len(raw)/BytesPerValue)
	for i := range backing {
		backing[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*BytesPerValue:]))
	}
	return newMatrix(len(raw)/rowBytes, cols, backing), nil
}

// ReadFile decodes a file written by WriteFile.
func ReadFile(path string, cols int) (*Matrix, error) {
	//nolint:gosec // G304: path is user supplied
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f), cols)
}

// Equal reports whether a and b have the same shape and bitwise identical values.
func Equal(a, b *Matrix) bool {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return false
	}
	ad, bd := a.Data(), b.Data()
	for i := range ad {
		if math.Float32bits(ad[i]) != math.Float32bits(bd[i]) {
			return false
		}
	}
	return true
}

// CheckSize compares both the reported byte count and the size on disk with
// the size m encodes to.
func CheckSize(m *Matrix, path string, written int64) error {
	expected := m.Size()
	if written != expected {
		return fmt.Errorf("%w: wrote %d bytes, expected %d", ErrShortWrite, written, expected)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expected {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", ErrShortWrite, path, info.Size(), expected)
	}
	return nil
}

// Verify checks the file at path holds exactly m: first its size, then every value.
func Verify(m *Matrix, path string) error {
	if err := CheckSize(m, path, m.Size()); err != nil {
		return err
	}
	decoded, err := ReadFile(path, m.Cols())
	if err != nil {
		return err
	}
	if !Equal(m, decoded) {
		return fmt.Errorf("%w: %s does not decode to the assembled matrix", ErrDataIntegrity, path)
	}
	return nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
