package matrix

import (
	"fmt"

	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/jedib0t/go-pretty/v6/progress"
)

// Assemble stacks primary[0:trainCount] followed by all of secondary into one
// matrix of mnist.RowWidth columns. Each row holds the image scaled to [0,1]
// and flattened row-major, then the one-hot encoded label.
//
// pw may be nil.
func Assemble(pw progress.Writer, primary, secondary mnist.Split, trainCount int) (*Matrix, error) {
	if trainCount < 0 || trainCount > primary.Len() {
		return nil, fmt.Errorf("%w: train count %d not in [0,%d]", ErrInvalidArgument, trainCount, primary.Len())
	}
	if secondary.Len() != mnist.TestSize {
		return nil, fmt.Errorf("%w: secondary split has %d examples, want %d", ErrDataIntegrity, secondary.Len(), mnist.TestSize)
	}

	rows := trainCount + secondary.Len()
	backing := make([]float32, rows*mnist.RowWidth)

	parts := []struct {
		name  string
		split mnist.Split
		count int
	}{
		{name: "primary", split: primary, count: trainCount},
		{name: "secondary", split: secondary, count: secondary.Len()},
	}

	filled := 0
	for _, part := range parts {
		var tracker *progress.Tracker
		if pw != nil {
			tracker = &progress.Tracker{
				Message: fmt.Sprintf("Assembling %s rows", part.name),
				Total:   int64(part.count),
				Units:   progress.UnitsDefault,
			}
			pw.AppendTracker(tracker)
			tracker.Start()
		}

		for i := 0; i < part.count; i++ {
			ex := part.split.At(i)
			label, err := mnist.ParseLabel(ex.Label)
			if err != nil {
				if tracker != nil {
					tracker.MarkAsErrored()
				}
				return nil, &RowError{Kind: ErrDataIntegrity, Split: part.name, Row: filled, Source: i, Err: err}
			}
			encodeRow(backing[filled*mnist.RowWidth:(filled+1)*mnist.RowWidth], &ex.Image, label)
			filled++
			if tracker != nil {
				tracker.Increment(1)
			}
		}

		if tracker != nil {
			tracker.MarkAsDone()
		}
	}

	if filled != rows {
		return nil, fmt.Errorf("%w: filled %d rows, expected %d", ErrInternalInvariant, filled, rows)
	}

	return newMatrix(rows, mnist.RowWidth, backing), nil
}

// encodeRow writes one example into row, which must be zeroed and
// mnist.RowWidth long.
func encodeRow(row []float32, img *mnist.Image, label mnist.Label) {
	flattenImage(row[:mnist.ImageSize], img)
	oneHot(row[mnist.ImageSize:], label)
}

func flattenImage(dst []float32, img *mnist.Image) {
	for y := 0; y < mnist.ImageRows; y++ {
		for x := 0; x < mnist.ImageCols; x++ {
			dst[y*mnist.ImageCols+x] = float32(img[y][x]) / mnist.MaxIntensity
		}
	}
}

func oneHot(dst []float32, label mnist.Label) {
	for i := range dst {
		dst[i] = 0
	}
	dst[label] = 1.0
}
