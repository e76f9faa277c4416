package mnist

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	imagesMagic = 2051
	labelsMagic = 2049

	// upper bound on the item count we accept from a header
	maxItems = 1 << 20
)

// ReadImages decodes an IDX3 image stream.
//
// Layout (big-endian):
//
//	magic 0x00000803
//	item count, rows, cols (uint32 each)
//	rows*cols unsigned bytes per image
func ReadImages(r io.Reader) ([]Image, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: images header: %v", ErrCorruptArchive, err)
	}

	if magic := binary.BigEndian.Uint32(header[0:4]); magic != imagesMagic {
		return nil, fmt.Errorf("%w: images magic %d, want %d", ErrCorruptArchive, magic, imagesMagic)
	}
	count := binary.BigEndian.Uint32(header[4:8])
	rows := binary.BigEndian.Uint32(header[8:12])
	cols := binary.BigEndian.Uint32(header[12:16])

	if rows != ImageRows || cols != ImageCols {
		return nil, fmt.Errorf("%w: image shape %dx%d, want %dx%d", ErrCorruptArchive, rows, cols, ImageRows, ImageCols)
	}
	if count > maxItems {
		return nil, fmt.Errorf("%w: %d images exceeds limit %d", ErrCorruptArchive, count, maxItems)
	}

	images := make([]Image, count)
	buf := make([]byte, ImageSize)
	for i := range images {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", ErrCorruptArchive, i, err)
		}
		for y := 0; y < ImageRows; y++ {
			copy(images[i][y][:], buf[y*ImageCols:(y+1)*ImageCols])
		}
	}

	return images, nil
}

// ReadLabels decodes an IDX1 label stream: magic 0x00000801, item count, one byte per label.
func ReadLabels(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: labels header: %v", ErrCorruptArchive, err)
	}

	if magic := binary.BigEndian.Uint32(header[0:4]); magic != labelsMagic {
		return nil, fmt.Errorf("%w: labels magic %d, want %d", ErrCorruptArchive, magic, labelsMagic)
	}
	count := binary.BigEndian.Uint32(header[4:8])
	if count > maxItems {
		return nil, fmt.Errorf("%w: %d labels exceeds limit %d", ErrCorruptArchive, count, maxItems)
	}

	labels := make([]byte, count)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrCorruptArchive, err)
	}

	return labels, nil
}

// WriteImages encodes images as an IDX3 stream.
func WriteImages(w io.Writer, images []Image) error {
	var header [16]byte
	binary.BigEndian.PutUint32(header[0:4], imagesMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(images)))
	binary.BigEndian.PutUint32(header[8:12], ImageRows)
	binary.BigEndian.PutUint32(header[12:16], ImageCols)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	for i := range images {
		for y := 0; y < ImageRows; y++ {
			if _, err := w.Write(images[i][y][:]); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteLabels encodes labels as an IDX1 stream.
func WriteLabels(w io.Writer, labels []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], labelsMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(labels)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(labels)
	return err
}

// NewExamples pairs decoded images with their labels.
func NewExamples(images []Image, labels []byte) (Examples, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%w: image count (%d) != label count (%d)", ErrCorruptArchive, len(images), len(labels))
	}
	out := make(Examples, len(images))
	for i := range images {
		out[i] = Example{Image: images[i], Label: int(labels[i])}
	}
	return out, nil
}
