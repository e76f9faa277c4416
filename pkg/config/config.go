package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/grexie/mnist-tensor/pkg/matrix"
	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
)

type SizeMismatchPolicy string

const (
	SizeMismatchFail SizeMismatchPolicy = "fail"
	SizeMismatchWarn SizeMismatchPolicy = "warn"
)

// Apply checks the file at path against the size m encodes to. Under
// SizeMismatchFail a mismatch removes the file and is returned; under
// SizeMismatchWarn it is only logged and the file is kept.
func (p SizeMismatchPolicy) Apply(m *matrix.Matrix, path string, written int64) error {
	err := matrix.CheckSize(m, path, written)
	if err == nil {
		return nil
	}
	if p == SizeMismatchWarn {
		log.Printf("warning: %v", err)
		return nil
	}
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("%w (failed to remove %s: %v)", err, path, rmErr)
	}
	return err
}

type Config struct {
	DataDir      string
	TrainCount   int
	Out          string
	Mirrors      []string
	SizeMismatch SizeMismatchPolicy
	Verify       bool
	Progress     bool
	MongoURL     string
}

func envInt(name string, def func() int) func() int {
	return func() int {
		value := def()
		if v, ok := os.LookupEnv(name); ok {
			if v, err := strconv.ParseInt(v, 10, 32); err != nil {
				log.Fatalf("failed to parse env.%s: %v", name, err)
			} else {
				value = int(v)
			}
		}
		return value
	}
}

func envBool(name string, def func() bool) func() bool {
	return func() bool {
		value := def()
		if v, ok := os.LookupEnv(name); ok {
			if v, err := strconv.ParseBool(v); err != nil {
				log.Fatalf("failed to parse env.%s: %v", name, err)
			} else {
				value = v
			}
		}
		return value
	}
}

func envString(name string, def func() string) func() string {
	return func() string {
		value := def()
		if v, ok := os.LookupEnv(name); ok {
			value = v
		}
		return value
	}
}

var (
	DataDir      = envString("MNIST_DATA_DIR", func() string { return "data" })
	TrainCount   = envInt("MNIST_TRAIN_COUNT", func() int { return 50000 })
	Out          = envString("MNIST_OUT", func() string { return "mnist_60000x794_le_float32.bin" })
	Mirrors      = envString("MNIST_MIRRORS", func() string { return strings.Join(mnist.DefaultMirrors, ",") })
	SizeMismatch = envString("MNIST_SIZE_MISMATCH", func() string { return string(SizeMismatchFail) })
	Verify       = envBool("MNIST_VERIFY", func() bool { return false })
	Progress     = envBool("MNIST_PROGRESS", func() bool { return true })
	MongoURL     = envString("MONGO_URL", func() string { return "" })
)

// LoadEnv loads the .env cascade for env, most specific file first; files
// that do not exist are skipped.
func LoadEnv(env string) {
	for _, filename := range []string{".env." + env + ".local", ".env." + env, ".env.local", ".env"} {
		if s, err := os.Stat(filename); err == nil && !s.IsDir() {
			if err := godotenv.Load(filename); err != nil {
				log.Printf("failed to load %s: %v", filename, err)
			}
		}
	}
}

// Parse builds a Config from the environment defaults overridden by args.
func Parse(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	dataDir := fs.String("data-dir", DataDir(), "Directory to download MNIST data into")
	trainCount := fs.Int("train-count", TrainCount(), "Number of train examples to use from the training split")
	out := fs.String("out", Out(), "Output binary file path")
	mirrors := fs.String("mirrors", Mirrors(), "Comma separated list of MNIST mirror base URLs")
	sizeMismatch := fs.String("size-mismatch", SizeMismatch(), "Action when the written size differs from the expected size: fail or warn")
	verify := fs.Bool("verify", Verify(), "Re-read the output file and compare it with the assembled matrix")
	progress := fs.Bool("progress", Progress(), "Render progress trackers")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:      *dataDir,
		TrainCount:   *trainCount,
		Out:          *out,
		SizeMismatch: SizeMismatchPolicy(*sizeMismatch),
		Verify:       *verify,
		Progress:     *progress,
		MongoURL:     MongoURL(),
	}
	for _, m := range strings.Split(*mirrors, ",") {
		if m = strings.TrimSpace(m); m != "" {
			if !strings.HasSuffix(m, "/") {
				m += "/"
			}
			cfg.Mirrors = append(cfg.Mirrors, m)
		}
	}

	return cfg, nil
}

// Validate verifies the config is runnable. It runs before any download, so
// the train count is checked against the published training split size.
func (c *Config) Validate() error {
	if c.TrainCount < 0 || c.TrainCount > mnist.TrainSize {
		return fmt.Errorf("%w: train count must be between 0 and %d (got %d)", matrix.ErrInvalidArgument, mnist.TrainSize, c.TrainCount)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir must be set", matrix.ErrInvalidArgument)
	}
	if c.Out == "" {
		return fmt.Errorf("%w: output path must be set", matrix.ErrInvalidArgument)
	}
	if len(c.Mirrors) == 0 {
		return fmt.Errorf("%w: at least one mirror must be set", matrix.ErrInvalidArgument)
	}
	switch c.SizeMismatch {
	case SizeMismatchFail, SizeMismatchWarn:
	default:
		return fmt.Errorf("%w: size mismatch policy %q, want %q or %q", matrix.ErrInvalidArgument, c.SizeMismatch, SizeMismatchFail, SizeMismatchWarn)
	}
	return nil
}

// Rows is the number of rows the run will produce.
func (c *Config) Rows() int {
	return c.TrainCount + mnist.TestSize
}

func (c *Config) Write(w io.Writer, title string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.AppendRows([]table.Row{
		{"MNIST_DATA_DIR", c.DataDir},
		{"MNIST_TRAIN_COUNT", fmt.Sprintf("%d", c.TrainCount)},
		{"MNIST_OUT", c.Out},
		{"MNIST_SIZE_MISMATCH", string(c.SizeMismatch)},
		{"MNIST_VERIFY", fmt.Sprintf("%t", c.Verify)},
	})
	t.AppendSeparator()
	for i, m := range c.Mirrors {
		t.AppendRow(table.Row{fmt.Sprintf("MNIST_MIRRORS[%d]", i), m})
	}
	t.Render()
}
