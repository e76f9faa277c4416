package mnist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const entrySize = 1 + ImageSize

// Cache keeps decoded examples in a leveldb store so later runs skip
// decompression and IDX parsing.
type Cache struct {
	db *leveldb.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func countKey(which SplitKind) []byte {
	return fmt.Appendf([]byte{}, "mnist-%s-count", which)
}

func examplePrefix(which SplitKind) []byte {
	return fmt.Appendf([]byte{}, "mnist-%s-ex-", which)
}

// exampleKey suffixes the prefix with the big-endian index, so leveldb's
// byte order is the split's order for every count ReadImages accepts.
func exampleKey(which SplitKind, i int) []byte {
	return binary.BigEndian.AppendUint32(examplePrefix(which), uint32(i))
}

// Get returns the cached split. ok is false when the split was never stored
// or the stored entries are incomplete.
func (c *Cache) Get(which SplitKind) (Examples, bool, error) {
	raw, err := c.db.Get(countKey(which), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	count, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, false, fmt.Errorf("%w: count %q", ErrCorruptCache, raw)
	}

	prefix := examplePrefix(which)
	out := make(Examples, 0, count)
	iter := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+4 || int(binary.BigEndian.Uint32(key[len(prefix):])) != len(out) {
			return nil, false, fmt.Errorf("%w: key %q at position %d", ErrCorruptCache, key, len(out))
		}
		value := iter.Value()
		if len(value) != entrySize {
			return nil, false, fmt.Errorf("%w: %s has %d bytes, want %d", ErrCorruptCache, iter.Key(), len(value), entrySize)
		}
		var ex Example
		ex.Label = int(value[0])
		for y := 0; y < ImageRows; y++ {
			copy(ex.Image[y][:], value[1+y*ImageCols:1+(y+1)*ImageCols])
		}
		out = append(out, ex)
	}
	if err := iter.Error(); err != nil {
		return nil, false, err
	}

	if len(out) != count {
		return nil, false, nil
	}
	return out, true, nil
}

// Put replaces the cached split in a single batch.
func (c *Cache) Put(which SplitKind, examples Examples) error {
	batch := new(leveldb.Batch)

	iter := c.db.NewIterator(util.BytesPrefix(examplePrefix(which)), nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for i, ex := range examples {
		if ex.Label < 0 || ex.Label > 0xff {
			return fmt.Errorf("%w: example %d", ErrLabelRange, i)
		}
		value := make([]byte, entrySize)
		value[0] = byte(ex.Label)
		for y := 0; y < ImageRows; y++ {
			copy(value[1+y*ImageCols:], ex.Image[y][:])
		}
		batch.Put(exampleKey(which, i), value)
	}
	batch.Put(countKey(which), []byte(strconv.Itoa(len(examples))))

	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("error storing %s split in cache: %v", which, err)
	}
	return nil
}
