package mnist_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	raw     map[string][]byte // uncompressed IDX files by name
	gz      map[string][]byte // gzipped archives by name
	digests map[string]string
}

func newFixture(t *testing.T, which mnist.SplitKind, n int) fixture {
	t.Helper()
	f := fixture{raw: map[string][]byte{}, gz: map[string][]byte{}, digests: map[string]string{}}

	var ib, lb bytes.Buffer
	require.NoError(t, mnist.WriteImages(&ib, sampleImages(n)))
	require.NoError(t, mnist.WriteLabels(&lb, sampleLabels(n)))
	f.raw[which.ImagesFile()] = ib.Bytes()
	f.raw[which.LabelsFile()] = lb.Bytes()

	for name, b := range f.raw {
		var gz bytes.Buffer
		w := gzip.NewWriter(&gz)
		_, err := w.Write(b)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		f.gz[name+".gz"] = gz.Bytes()
		f.digests[name+".gz"] = fmt.Sprintf("%x", sha256.Sum256(gz.Bytes()))
	}
	return f
}

func (f fixture) server(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		b, ok := f.gz[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// trackingWriter keeps every tracker appended to it so tests can inspect
// their final state without rendering.
type trackingWriter struct {
	progress.Writer
	trackers []*progress.Tracker
}

func (w *trackingWriter) AppendTracker(t *progress.Tracker) {
	w.trackers = append(w.trackers, t)
	w.Writer.AppendTracker(t)
}

func TestLoaderDownloadsAndCaches(t *testing.T) {
	f := newFixture(t, mnist.Test, 6)
	var hits int32
	srv := f.server(t, &hits)
	dir := t.TempDir()
	cache := openCache(t)

	loader := &mnist.Loader{
		Dir:     dir,
		Mirrors: []string{srv.URL + "/mnist/"},
		Digests: f.digests,
		Cache:   cache,
	}

	examples, err := loader.LoadSplit(context.Background(), mnist.Test)
	require.NoError(t, err)
	require.Equal(t, 6, examples.Len())
	assert.Equal(t, 5, examples.At(5).Label)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	for name, b := range f.gz {
		saved, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, b, saved)
	}

	cached, ok, err := cache.Get(mnist.Test)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, examples, cached)

	again, err := loader.LoadSplit(context.Background(), mnist.Test)
	require.NoError(t, err)
	assert.Equal(t, examples, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "second load should be served from cache")
}

func TestLoaderFallsBackToNextMirror(t *testing.T) {
	f := newFixture(t, mnist.Train, 3)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)
	srv := f.server(t, nil)

	loader := &mnist.Loader{
		Dir:     t.TempDir(),
		Mirrors: []string{broken.URL + "/", srv.URL + "/"},
		Digests: f.digests,
	}

	examples, err := loader.LoadSplit(context.Background(), mnist.Train)
	require.NoError(t, err)
	assert.Equal(t, 3, examples.Len())
}

func TestLoaderRejectsChecksumMismatch(t *testing.T) {
	f := newFixture(t, mnist.Test, 2)
	srv := f.server(t, nil)
	digests := map[string]string{}
	for name := range f.digests {
		digests[name] = fmt.Sprintf("%x", sha256.Sum256([]byte(name)))
	}
	dir := t.TempDir()

	loader := &mnist.Loader{
		Dir:     dir,
		Mirrors: []string{srv.URL + "/"},
		Digests: digests,
	}

	_, err := loader.LoadSplit(context.Background(), mnist.Test)
	assert.ErrorIs(t, err, mnist.ErrChecksum)
	assert.ErrorIs(t, err, mnist.ErrNoMirrorReached)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "unverified archives must not be saved")
}

func TestLoaderReadsLocalArchives(t *testing.T) {
	f := newFixture(t, mnist.Test, 4)
	dir := t.TempDir()

	// images uncompressed at the top level, labels gzipped in the torchvision layout
	require.NoError(t, os.WriteFile(filepath.Join(dir, mnist.Test.ImagesFile()), f.raw[mnist.Test.ImagesFile()], 0o644))
	raw := filepath.Join(dir, "MNIST", "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	name := mnist.Test.LabelsFile() + ".gz"
	require.NoError(t, os.WriteFile(filepath.Join(raw, name), f.gz[name], 0o644))

	loader := &mnist.Loader{
		Dir:     dir,
		Mirrors: []string{"http://127.0.0.1:0/unreachable/"},
		Digests: f.digests,
	}

	examples, err := loader.LoadSplit(context.Background(), mnist.Test)
	require.NoError(t, err)
	assert.Equal(t, 4, examples.Len())
}

func TestLoaderRejectsCorruptLocalArchive(t *testing.T) {
	f := newFixture(t, mnist.Test, 4)
	dir := t.TempDir()
	name := mnist.Test.ImagesFile() + ".gz"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("not gzip"), 0o644))

	loader := &mnist.Loader{Dir: dir, Digests: f.digests}
	_, err := loader.LoadSplit(context.Background(), mnist.Test)
	assert.ErrorIs(t, err, mnist.ErrChecksum)
}

func TestLoaderUnknownSplit(t *testing.T) {
	loader := &mnist.Loader{Dir: t.TempDir()}
	_, err := loader.LoadSplit(context.Background(), mnist.SplitKind("validation"))
	assert.ErrorIs(t, err, mnist.ErrUnknownSplit)
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	f := newFixture(t, mnist.Test, 1)
	srv := f.server(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pw := &trackingWriter{Writer: progress.NewWriter()}
	loader := &mnist.Loader{
		Dir:      t.TempDir(),
		Mirrors:  []string{srv.URL + "/"},
		Digests:  f.digests,
		Progress: pw,
	}
	_, err := loader.LoadSplit(ctx, mnist.Test)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, pw.trackers, 1)
	assert.True(t, pw.trackers[0].IsErrored(), "download tracker left running")
}
