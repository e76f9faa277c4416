package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grexie/mnist-tensor/pkg/config"
	"github.com/grexie/mnist-tensor/pkg/db"
	"github.com/grexie/mnist-tensor/pkg/matrix"
	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/grexie/mnist-tensor/pkg/report"
	"github.com/jedib0t/go-pretty/v6/progress"
)

func main() {
	if _, ok := os.LookupEnv("ENV"); !ok {
		os.Setenv("ENV", "development")
	}
	config.LoadEnv(os.Getenv("ENV"))

	cfg, err := config.Parse(filepath.Base(os.Args[0]), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	cfg.Write(os.Stdout, "Config")

	if total := cfg.Rows(); total != mnist.TrainSize {
		log.Printf("note: requested train_count=%d, combined total=%d", cfg.TrainCount, total)
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// run owns every resource opened after configuration, so its deferred
// cleanup happens before main exits on error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	cache, err := mnist.OpenCache(filepath.Join(cfg.DataDir, "mnist-cache.db"))
	if err != nil {
		return err
	}
	defer cache.Close()

	var pw progress.Writer
	if cfg.Progress {
		pw = report.NewProgressWriter(6)
		go pw.Render()
	}

	loader := &mnist.Loader{
		Dir:      cfg.DataDir,
		Mirrors:  cfg.Mirrors,
		Cache:    cache,
		Progress: pw,
	}

	log.Printf("reading MNIST from '%s' and building tensor (train_count=%d)", cfg.DataDir, cfg.TrainCount)
	train, err := loader.LoadSplit(ctx, mnist.Train)
	if err != nil {
		report.Stop(pw)
		return fmt.Errorf("failed to load train split: %w", err)
	}
	test, err := loader.LoadSplit(ctx, mnist.Test)
	if err != nil {
		report.Stop(pw)
		return fmt.Errorf("failed to load test split: %w", err)
	}

	m, err := matrix.Assemble(pw, train, test, cfg.TrainCount)
	report.Stop(pw)
	if err != nil {
		return fmt.Errorf("failed to assemble tensor: %w", err)
	}
	log.Printf("tensor built: shape=(%d, %d), dtype=float32", m.Rows(), m.Cols())

	if m.Rows() != cfg.Rows() || m.Cols() != mnist.RowWidth {
		return fmt.Errorf("%w: unexpected tensor shape (%d, %d), expected (%d, %d)", matrix.ErrInternalInvariant, m.Rows(), m.Cols(), cfg.Rows(), mnist.RowWidth)
	}

	log.Printf("saving to '%s' as little-endian float32 (row-major)", cfg.Out)
	start := time.Now()
	written, err := matrix.WriteFile(m, cfg.Out)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", cfg.Out, err)
	}
	log.Printf("wrote %d bytes (%d float32 values) to %s in %s", written, m.Rows()*m.Cols(), cfg.Out, time.Since(start).Round(time.Millisecond))

	if err := cfg.SizeMismatch.Apply(m, cfg.Out, written); err != nil {
		return fmt.Errorf("file size check failed: %w", err)
	}
	log.Println("file size check done")

	if cfg.Verify {
		if err := matrix.Verify(m, cfg.Out); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		log.Println("round-trip verification OK")
	}

	summary := report.Summarize(m, cfg.TrainCount)
	summary.Path = cfg.Out
	if sum, err := matrix.Checksum(cfg.Out); err != nil {
		log.Printf("failed to checksum %s: %v", cfg.Out, err)
	} else {
		summary.Checksum = sum
	}
	summary.Write(os.Stdout, "Output")

	if cfg.MongoURL != "" {
		recordManifest(ctx, cfg, summary)
	}
	return nil
}

func recordManifest(ctx context.Context, cfg *config.Config, summary report.Summary) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	database, err := db.ConnectMongo(ctx, cfg.MongoURL)
	if err != nil {
		log.Printf("failed to connect to MongoDB: %v", err)
		return
	}
	defer database.Client().Disconnect(context.Background())

	if err := db.RecordManifest(ctx, database, db.Manifest{
		Path:       cfg.Out,
		Rows:       summary.Rows,
		Cols:       summary.Cols,
		Bytes:      summary.Bytes,
		SHA256:     summary.Checksum,
		TrainCount: cfg.TrainCount,
	}); err != nil {
		log.Println(err)
		return
	}
	log.Printf("recorded manifest for %s", cfg.Out)
}
