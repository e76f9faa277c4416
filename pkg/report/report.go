package report

import (
	"fmt"
	"io"
	"time"

	"github.com/grexie/mnist-tensor/pkg/matrix"
	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/stat"
)

func NewProgressWriter(trackers int) progress.Writer {
	pw := progress.NewWriter()
	pw.SetMessageLength(40)
	pw.SetNumTrackersExpected(trackers)
	pw.SetSortBy(progress.SortByNone)
	pw.SetStyle(progress.StyleDefault)
	pw.SetTrackerLength(15)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(time.Millisecond * 100)
	pw.Style().Colors = progress.StyleColorsExample
	pw.Style().Options.PercentFormat = "%2.0f%%"
	return pw
}

// Stop halts pw and waits for the final frame to render.
func Stop(pw progress.Writer) {
	if pw == nil {
		return
	}
	pw.Stop()
	for pw.IsRenderInProgress() {
		time.Sleep(100 * time.Millisecond)
	}
}

type SplitSummary struct {
	Name          string
	Rows          int
	Labels        [mnist.NumClasses]int
	MeanIntensity float64
	StdIntensity  float64
}

type Summary struct {
	Path     string
	Rows     int
	Cols     int
	Bytes    int64
	Checksum string
	Splits   []SplitSummary
}

// Summarize describes m, treating the first trainCount rows as the primary
// split and the remainder as the secondary split.
func Summarize(m *matrix.Matrix, trainCount int) Summary {
	s := Summary{
		Rows:  m.Rows(),
		Cols:  m.Cols(),
		Bytes: m.Size(),
	}
	s.Splits = []SplitSummary{
		summarizeRows(m, "primary", 0, trainCount),
		summarizeRows(m, "secondary", trainCount, m.Rows()),
	}
	return s
}

func summarizeRows(m *matrix.Matrix, name string, from, to int) SplitSummary {
	out := SplitSummary{Name: name, Rows: to - from}
	if out.Rows <= 0 {
		return out
	}

	means := make([]float64, 0, out.Rows)
	for i := from; i < to; i++ {
		row := m.Row(i)

		sum := 0.0
		for _, v := range row[:mnist.ImageSize] {
			sum += float64(v)
		}
		means = append(means, sum/mnist.ImageSize)

		for c, v := range row[mnist.ImageSize:] {
			if v == 1.0 {
				out.Labels[c]++
			}
		}
	}

	if len(means) == 1 {
		// the unbiased estimator is undefined for a single row
		out.MeanIntensity = means[0]
		return out
	}
	out.MeanIntensity, out.StdIntensity = stat.MeanStdDev(means, nil)
	return out
}

func (s Summary) Write(w io.Writer, title string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendRows([]table.Row{
		{"Path", s.Path},
		{"Shape", fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)},
		{"Dtype", "float32 little-endian, row-major"},
		{"Values", fmt.Sprintf("%d", s.Rows*s.Cols)},
		{"Bytes", fmt.Sprintf("%d", s.Bytes)},
	})
	if s.Checksum != "" {
		t.AppendRow(table.Row{"SHA-256", s.Checksum})
	}
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Splits")
	header := table.Row{"Split", "Rows", "Mean Intensity", "StdDev"}
	for c := 0; c < mnist.NumClasses; c++ {
		header = append(header, fmt.Sprintf("%d", c))
	}
	t.AppendHeader(header)
	for _, split := range s.Splits {
		row := table.Row{
			split.Name,
			split.Rows,
			fmt.Sprintf("%0.04f", split.MeanIntensity),
			fmt.Sprintf("%0.04f", split.StdIntensity),
		}
		for _, n := range split.Labels {
			row = append(row, n)
		}
		t.AppendRow(row)
	}
	t.Render()
}
