package mnist_test

import (
	"path/filepath"
	"testing"

	"github.com/grexie/mnist-tensor/pkg/mnist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *mnist.Cache {
	t.Helper()
	cache, err := mnist.OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheMiss(t *testing.T) {
	cache := openCache(t)

	examples, ok, err := cache.Get(mnist.Train)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, examples)
}

func TestCachePutGet(t *testing.T) {
	cache := openCache(t)

	train, err := mnist.NewExamples(sampleImages(120), sampleLabels(120))
	require.NoError(t, err)
	test, err := mnist.NewExamples(sampleImages(3), []byte{9, 8, 7})
	require.NoError(t, err)

	require.NoError(t, cache.Put(mnist.Train, train))
	require.NoError(t, cache.Put(mnist.Test, test))

	got, ok, err := cache.Get(mnist.Train)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, train, got)

	got, ok, err = cache.Get(mnist.Test)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, test, got)
}

func TestCachePutReplacesSplit(t *testing.T) {
	cache := openCache(t)

	first, err := mnist.NewExamples(sampleImages(10), sampleLabels(10))
	require.NoError(t, err)
	second, err := mnist.NewExamples(sampleImages(4), []byte{1, 1, 1, 1})
	require.NoError(t, err)

	require.NoError(t, cache.Put(mnist.Test, first))
	require.NoError(t, cache.Put(mnist.Test, second))

	got, ok, err := cache.Get(mnist.Test)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestCachePutRejectsUnencodableLabel(t *testing.T) {
	cache := openCache(t)

	err := cache.Put(mnist.Train, mnist.Examples{{Label: -3}})
	assert.ErrorIs(t, err, mnist.ErrLabelRange)
}

func TestCacheKeepsOrderPastFiveDigits(t *testing.T) {
	cache := openCache(t)

	const n = 100001
	examples := make(mnist.Examples, n)
	for i := range examples {
		examples[i].Image[0][0] = uint8(i)
		examples[i].Image[0][1] = uint8(i >> 8)
		examples[i].Image[0][2] = uint8(i >> 16)
		examples[i].Label = i % mnist.NumClasses
	}
	require.NoError(t, cache.Put(mnist.Train, examples))

	got, ok, err := cache.Get(mnist.Train)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, n)
	for i, ex := range got {
		source := int(ex.Image[0][0]) | int(ex.Image[0][1])<<8 | int(ex.Image[0][2])<<16
		if source != i {
			t.Fatalf("cached position %d holds example %d", i, source)
		}
	}
}
