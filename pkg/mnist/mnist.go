package mnist

import (
	"errors"
	"fmt"
)

const (
	ImageRows  = 28
	ImageCols  = 28
	ImageSize  = ImageRows * ImageCols
	NumClasses = 10

	// RowWidth is the width of an assembled row: flattened image then one-hot label.
	RowWidth = ImageSize + NumClasses

	TrainSize = 60000
	TestSize  = 10000

	// MaxIntensity is the largest raw sample value of an 8-bit image.
	MaxIntensity = 255.0
)

var (
	ErrLabelRange      = errors.New("label out of range")
	ErrCorruptArchive  = errors.New("corrupt idx archive")
	ErrChecksum        = errors.New("archive checksum mismatch")
	ErrUnknownSplit    = errors.New("unknown split")
	ErrCorruptCache    = errors.New("corrupt cache entry")
	ErrNoMirrorReached = errors.New("no mirror served the archive")
)

// Image is a grid of raw 8-bit intensities, indexed [row][col].
type Image [ImageRows][ImageCols]uint8

// Example pairs an image with the class identifier read from the source.
// Label is kept as read; use ParseLabel before trusting it.
type Example struct {
	Image Image
	Label int
}

// Label is a class identifier known to be in [0, NumClasses).
type Label uint8

func ParseLabel(v int) (Label, error) {
	if v < 0 || v >= NumClasses {
		return 0, fmt.Errorf("%w: %d not in [0,%d]", ErrLabelRange, v, NumClasses-1)
	}
	return Label(v), nil
}

// Split is an ordered, indexable collection of examples.
type Split interface {
	Len() int
	At(i int) Example
}

// Examples is the in-memory Split produced by Loader.
type Examples []Example

func (e Examples) Len() int {
	return len(e)
}

func (e Examples) At(i int) Example {
	return e[i]
}

type SplitKind string

const (
	Train SplitKind = "train"
	Test  SplitKind = "test"
)

func ParseSplitKind(s string) (SplitKind, error) {
	switch SplitKind(s) {
	case Train, Test:
		return SplitKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSplit, s)
	}
}

// Size is the number of examples published for the split.
func (k SplitKind) Size() int {
	if k == Train {
		return TrainSize
	}
	return TestSize
}

func (k SplitKind) prefix() string {
	if k == Train {
		return "train"
	}
	return "t10k"
}

// ImagesFile is the uncompressed IDX file name holding the split's images.
func (k SplitKind) ImagesFile() string {
	return k.prefix() + "-images-idx3-ubyte"
}

// LabelsFile is the uncompressed IDX file name holding the split's labels.
func (k SplitKind) LabelsFile() string {
	return k.prefix() + "-labels-idx1-ubyte"
}
