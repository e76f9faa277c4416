package mnist

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/progress"
)

var DefaultMirrors = []string{
	"https://ossci-datasets.s3.amazonaws.com/mnist/",
	"https://storage.googleapis.com/cvdf-datasets/mnist/",
}

// DefaultDigests holds the SHA-256 of each published .gz archive.
var DefaultDigests = map[string]string{
	"train-images-idx3-ubyte.gz": "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	"train-labels-idx1-ubyte.gz": "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	"t10k-images-idx3-ubyte.gz":  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	"t10k-labels-idx1-ubyte.gz":  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// Loader materializes MNIST splits from, in order: the decoded-example cache,
// archives already present under Dir, and finally the mirrors.
type Loader struct {
	Dir      string
	Mirrors  []string
	Digests  map[string]string
	Client   *resty.Client
	Cache    *Cache
	Progress progress.Writer
}

func (l *Loader) client() *resty.Client {
	if l.Client == nil {
		l.Client = resty.New()
	}
	return l.Client
}

func (l *Loader) mirrors() []string {
	if len(l.Mirrors) == 0 {
		return DefaultMirrors
	}
	return l.Mirrors
}

func (l *Loader) digests() map[string]string {
	if l.Digests == nil {
		return DefaultDigests
	}
	return l.Digests
}

func (l *Loader) LoadSplit(ctx context.Context, which SplitKind) (Examples, error) {
	if _, err := ParseSplitKind(string(which)); err != nil {
		return nil, err
	}

	if l.Cache != nil {
		if examples, ok, err := l.Cache.Get(which); err != nil {
			log.Printf("ignoring %s cache: %v", which, err)
		} else if ok {
			return examples, nil
		}
	}

	imagesRaw, err := l.archive(ctx, which.ImagesFile())
	if err != nil {
		return nil, err
	}
	images, err := ReadImages(bytes.NewReader(imagesRaw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", which.ImagesFile(), err)
	}

	labelsRaw, err := l.archive(ctx, which.LabelsFile())
	if err != nil {
		return nil, err
	}
	labels, err := ReadLabels(bytes.NewReader(labelsRaw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", which.LabelsFile(), err)
	}

	examples, err := NewExamples(images, labels)
	if err != nil {
		return nil, fmt.Errorf("%s split: %w", which, err)
	}

	if l.Cache != nil {
		if err := l.Cache.Put(which, examples); err != nil {
			log.Printf("failed to cache %s split: %v", which, err)
		}
	}

	return examples, nil
}

// archive returns the uncompressed contents of the named IDX file.
func (l *Loader) archive(ctx context.Context, name string) ([]byte, error) {
	for _, dir := range []string{l.Dir, filepath.Join(l.Dir, "MNIST", "raw")} {
		path := filepath.Join(dir, name)
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}

		path += ".gz"
		if b, err := os.ReadFile(path); err == nil {
			if err := l.verify(name+".gz", b); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return gunzip(b)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
	}

	b, err := l.download(ctx, name+".gz")
	if err != nil {
		return nil, err
	}
	return gunzip(b)
}

func (l *Loader) download(ctx context.Context, name string) ([]byte, error) {
	var tracker *progress.Tracker
	if l.Progress != nil {
		tracker = &progress.Tracker{
			Message: fmt.Sprintf("Downloading %s", name),
			Units:   progress.UnitsBytes,
		}
		l.Progress.AppendTracker(tracker)
		tracker.Start()
	}

	var errs []error
	for _, mirror := range l.mirrors() {
		url := mirror + name

		resp, err := l.client().R().SetContext(ctx).Get(url)
		if err != nil {
			if ctx.Err() != nil {
				if tracker != nil {
					tracker.MarkAsErrored()
				}
				return nil, ctx.Err()
			}
			log.Printf("download %s: %v", url, err)
			errs = append(errs, err)
			continue
		} else if resp.IsError() {
			log.Printf("download %s: %s", url, resp.Status())
			errs = append(errs, fmt.Errorf("error response from %s: %v", url, resp.Status()))
			continue
		}

		body := resp.Body()
		if err := l.verify(name, body); err != nil {
			log.Printf("download %s: %v", url, err)
			errs = append(errs, err)
			continue
		}

		if err := os.MkdirAll(l.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", l.Dir, err)
		}
		if err := os.WriteFile(filepath.Join(l.Dir, name), body, 0o644); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", name, err)
		}

		if tracker != nil {
			tracker.Increment(int64(len(body)))
			tracker.MarkAsDone()
		}
		return body, nil
	}

	if tracker != nil {
		tracker.MarkAsErrored()
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNoMirrorReached, name, errors.Join(errs...))
}

func (l *Loader) verify(name string, b []byte) error {
	want, ok := l.digests()[name]
	if !ok {
		return nil
	}
	if got := fmt.Sprintf("%x", sha256.Sum256(b)); got != want {
		return fmt.Errorf("%w: %s is %s, want %s", ErrChecksum, name, got, want)
	}
	return nil
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return out, nil
}
