package bpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/KevoDB/bpt/pkg/bpt/bpttest"
	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/storage"
)

// countingSource counts ReadAt calls on the wrapped source
type countingSource struct {
	storage.Source
	reads atomic.Int64
}

func (c *countingSource) ReadAt(p []byte, off int64) (int, error) {
	c.reads.Add(1)
	return c.Source.ReadAt(p, off)
}

func numberedKeys(n int) ([]string, []uint64) {
	keys := make([]string, n)
	vals := make([]uint64, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("key%05d", i)
		vals[i] = uint64(i) * 7
	}
	return keys, vals
}

func buildIndex(t *testing.T, items []bpttest.Item, opts bpttest.Options) []byte {
	t.Helper()
	data, err := bpttest.Build(items, opts)
	if err != nil {
		t.Fatalf("Failed to build index: %v", err)
	}
	return data
}

func openBytes(t *testing.T, data []byte, opts ...Option) *Index {
	t.Helper()
	idx, err := NewIndex(storage.NewMemorySource(data), "test.bpt", opts...)
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func mustFindUint64(t *testing.T, idx *Index, key string) (uint64, bool) {
	t.Helper()
	val, found, err := idx.Find([]byte(key), 8)
	if err != nil {
		t.Fatalf("Find(%q) failed: %v", key, err)
	}
	if !found {
		return 0, false
	}
	v, err := idx.Uint64(val)
	if err != nil {
		t.Fatalf("Uint64 failed: %v", err)
	}
	return v, true
}

func TestFindRoundTrip(t *testing.T) {
	keys, vals := numberedKeys(1000)
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)
	path := bpttest.MustWrite(t, items, bpttest.Options{BlockSize: 7, KeySize: 10, ValSize: 8})

	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	defer idx.Close()

	if idx.ItemCount() != 1000 || idx.BlockSize() != 7 || idx.KeySize() != 10 || idx.ValSize() != 8 {
		t.Fatalf("Unexpected header: %+v", idx.Header())
	}

	for i, key := range keys {
		v, found := mustFindUint64(t, idx, key)
		if !found {
			t.Fatalf("Expected to find %q", key)
		}
		if v != vals[i] {
			t.Errorf("Find(%q) = %d, expected %d", key, v, vals[i])
		}
	}

	for _, key := range []string{"key01000", "key", "a", "zzzz", "key00000x", ""} {
		if _, found := mustFindUint64(t, idx, key); found {
			t.Errorf("Did not expect to find %q", key)
		}
	}
}

func TestFindShortKeyIsZeroPadded(t *testing.T) {
	items := bpttest.StringItems(binary.LittleEndian, []string{"chr1", "chr10", "chr2"}, []uint64{1, 10, 2})
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{BlockSize: 2, KeySize: 6, ValSize: 8}))

	short, foundShort, err := idx.Find([]byte("chr1"), 8)
	if err != nil {
		t.Fatal(err)
	}
	padded, foundPadded, err := idx.Find([]byte("chr1\x00\x00"), 8)
	if err != nil {
		t.Fatal(err)
	}

	if !foundShort || !foundPadded {
		t.Fatalf("Expected both forms to be found, got %v and %v", foundShort, foundPadded)
	}
	if !bytes.Equal(short, padded) {
		t.Errorf("Short and padded keys returned different values: %x vs %x", short, padded)
	}

	// A key that is a prefix of a stored key is not a match
	if v, _ := mustFindUint64(t, idx, "chr1"); v != 1 {
		t.Errorf("Expected chr1 -> 1, got %d", v)
	}
	if _, found := mustFindUint64(t, idx, "chr"); found {
		t.Error("Did not expect to find prefix chr")
	}
}

func TestFindBothByteOrders(t *testing.T) {
	keys, vals := numberedKeys(300)

	indexes := make(map[string]*Index)
	for name, order := range map[string]binary.ByteOrder{"little": binary.LittleEndian, "big": binary.BigEndian} {
		items := bpttest.StringItems(order, keys, vals)
		data := buildIndex(t, items, bpttest.Options{Order: order, BlockSize: 5, KeySize: 8, ValSize: 8})
		indexes[name] = openBytes(t, data)
	}

	if indexes["big"].ByteOrder() != binary.BigEndian {
		t.Fatalf("Expected big-endian file to be detected, got %s", indexes["big"].ByteOrder())
	}
	if indexes["little"].ByteOrder() != binary.LittleEndian {
		t.Fatalf("Expected little-endian file to be detected, got %s", indexes["little"].ByteOrder())
	}

	for _, key := range append(keys, "missing", "key99999") {
		le, leFound := mustFindUint64(t, indexes["little"], key)
		be, beFound := mustFindUint64(t, indexes["big"], key)
		if le != be || leFound != beFound {
			t.Errorf("Byte orders disagree for %q: (%d,%v) vs (%d,%v)", key, le, leFound, be, beFound)
		}
	}
}

func TestFindOversizedKeyReadsNothing(t *testing.T) {
	keys, vals := numberedKeys(50)
	data := buildIndex(t, bpttest.StringItems(binary.LittleEndian, keys, vals),
		bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8})

	src := &countingSource{Source: storage.NewMemorySource(data)}
	idx, err := NewIndex(src, "counting.bpt")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	before := src.reads.Load()
	val, found, err := idx.Find([]byte("key000001"), 8)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if found || val != nil {
		t.Error("Expected oversized key not to be found")
	}
	vals2, err := idx.FindMultiple([]byte("key000001"), 8)
	if err != nil || vals2 != nil {
		t.Errorf("Expected no values and no error, got %v, %v", vals2, err)
	}
	if reads := src.reads.Load() - before; reads != 0 {
		t.Errorf("Expected no storage reads for oversized key, got %d", reads)
	}

	// A key of exactly keySize does read
	if _, _, err := idx.Find([]byte("key00001"), 8); err != nil {
		t.Fatal(err)
	}
	if src.reads.Load() == before {
		t.Error("Expected storage reads for a full-width key")
	}
}

func TestFindSizeMismatch(t *testing.T) {
	items := bpttest.StringItems(binary.LittleEndian, []string{"aaa"}, []uint64{1})
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8}))

	for _, size := range []int{0, 4, 16} {
		_, found, err := idx.Find([]byte("aaa"), size)
		if !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("Find with valSize %d: expected ErrSizeMismatch, got %v", size, err)
		}
		if found {
			t.Errorf("Find with valSize %d reported found", size)
		}

		var mismatch *SizeMismatchError
		if !errors.As(err, &mismatch) || mismatch.Want != size || mismatch.Have != 8 {
			t.Errorf("Expected SizeMismatchError{Want: %d, Have: 8}, got %#v", size, err)
		}
	}

	// The size check comes before the key length check
	if _, _, err := idx.Find([]byte("much too long key"), 4); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch for oversized key, got %v", err)
	}
	if _, err := idx.FindMultiple([]byte("aaa"), 4); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch from FindMultiple, got %v", err)
	}
}

func TestFindEmptyTree(t *testing.T) {
	data := buildIndex(t, nil, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8})
	idx := openBytes(t, data)

	if idx.ItemCount() != 0 {
		t.Fatalf("Expected empty index, got %d items", idx.ItemCount())
	}
	for _, key := range []string{"", "a", "zzzzzzzz"} {
		if _, found := mustFindUint64(t, idx, key); found {
			t.Errorf("Did not expect to find %q in empty index", key)
		}
	}

	// A header that claims items over an empty root leaf still finds nothing
	patched := bytes.Clone(data)
	binary.LittleEndian.PutUint64(patched[16:24], 5)
	idx = openBytes(t, patched)
	if _, found := mustFindUint64(t, idx, "a"); found {
		t.Error("Did not expect to find a key in an empty root leaf")
	}

	var visited int
	if err := idx.Traverse(func(key, val []byte) error { visited++; return nil }); err != nil {
		t.Fatal(err)
	}
	if visited != 0 {
		t.Errorf("Expected no items visited, got %d", visited)
	}
}

func TestFindThreeLevelTree(t *testing.T) {
	items := bpttest.StringItems(binary.LittleEndian, []string{"aaa", "bbb", "ccc"}, []uint64{1, 2, 3})
	data := buildIndex(t, items, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8, MinLevels: 3})

	if data[RootOffset] != 0 {
		t.Fatal("Expected the root block to be an index block")
	}

	src := &countingSource{Source: storage.NewMemorySource(data)}
	idx, err := NewIndex(src, "three.bpt")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	for key, want := range map[string]uint64{"aaa": 1, "bbb": 2, "ccc": 3} {
		got, found := mustFindUint64(t, idx, key)
		if !found || got != want {
			t.Errorf("Find(%q) = %d, %v; expected %d", key, got, found, want)
		}
	}
	if _, found := mustFindUint64(t, idx, "zzz"); found {
		t.Error("Did not expect to find zzz")
	}

	// Two index levels and one leaf, two reads per block
	before := src.reads.Load()
	mustFindUint64(t, idx, "bbb")
	if reads := src.reads.Load() - before; reads != 6 {
		t.Errorf("Expected 6 reads for a three-level descent, got %d", reads)
	}
}

func TestFindMultiple(t *testing.T) {
	keys := []string{"a", "b", "b", "b", "b", "b", "c"}
	vals := []uint64{1, 2, 3, 4, 5, 6, 7}
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{BlockSize: 3, KeySize: 4, ValSize: 8}))

	decode := func(vals [][]byte) []uint64 {
		var out []uint64
		for _, v := range vals {
			n, err := idx.Uint64(v)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, n)
		}
		return out
	}

	tests := []struct {
		key  string
		want []uint64
	}{
		{"a", []uint64{1}},
		{"b", []uint64{2, 3, 4, 5, 6}},
		{"c", []uint64{7}},
		{"bb", nil},
		{"0", nil},
		{"d", nil},
	}

	for _, tt := range tests {
		got, err := idx.FindMultiple([]byte(tt.key), 8)
		if err != nil {
			t.Fatalf("FindMultiple(%q) failed: %v", tt.key, err)
		}
		if fmt.Sprint(decode(got)) != fmt.Sprint(tt.want) {
			t.Errorf("FindMultiple(%q) = %v, expected %v", tt.key, decode(got), tt.want)
		}
	}

	// Find returns one of the duplicates
	v, found := mustFindUint64(t, idx, "b")
	if !found || v < 2 || v > 6 {
		t.Errorf("Find(b) = %d, %v; expected one of the duplicate values", v, found)
	}
}

func TestTraverse(t *testing.T) {
	keys, vals := numberedKeys(100)
	items := bpttest.StringItems(binary.BigEndian, keys, vals)
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{Order: binary.BigEndian, BlockSize: 3, KeySize: 12, ValSize: 8}))

	var got []string
	err := idx.Traverse(func(key, val []byte) error {
		if len(key) != 12 || len(val) != 8 {
			t.Fatalf("Unexpected item sizes %d/%d", len(key), len(val))
		}
		got = append(got, string(bytes.TrimRight(key, "\x00")))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != strings.Join(keys, ",") {
		t.Errorf("Traverse visited keys out of order: %v", got)
	}

	stop := errors.New("stop")
	var visited int
	err = idx.Traverse(func(key, val []byte) error {
		visited++
		if visited == 10 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected the callback error, got %v", err)
	}
	if visited != 10 {
		t.Errorf("Expected the walk to stop after 10 items, visited %d", visited)
	}
}

func TestKeyAtPos(t *testing.T) {
	keys, vals := numberedKeys(250)
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)

	for _, bs := range []int{2, 7, 16, 300} {
		t.Run(fmt.Sprintf("block_%d", bs), func(t *testing.T) {
			idx := openBytes(t, buildIndex(t, items, bpttest.Options{BlockSize: bs, KeySize: 10, ValSize: 8}))

			for pos, want := range keys {
				got, err := idx.StringKeyAtPos(uint64(pos))
				if err != nil {
					t.Fatalf("StringKeyAtPos(%d) failed: %v", pos, err)
				}
				if got != want {
					t.Fatalf("StringKeyAtPos(%d) = %q, expected %q", pos, got, want)
				}
			}

			raw, err := idx.KeyAtPos(3)
			if err != nil {
				t.Fatal(err)
			}
			if len(raw) != 10 || raw[9] != 0 {
				t.Errorf("Expected a zero-padded 10 byte key, got %q", raw)
			}

			if _, err := idx.KeyAtPos(uint64(len(keys))); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Expected ErrOutOfRange, got %v", err)
			}
		})
	}
}

func TestCorruptFiles(t *testing.T) {
	keys, vals := numberedKeys(20)
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)
	opts := bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8}
	good := buildIndex(t, items, opts)

	// Root is an index block: header at 32, first entry key at 36, child offset at 44
	const childCountAt = RootOffset + 2
	const firstChildAt = RootOffset + 4 + 8

	tests := []struct {
		name    string
		corrupt func([]byte) []byte
	}{
		{"child count over block size", func(d []byte) []byte {
			binary.LittleEndian.PutUint16(d[childCountAt:], 5)
			return d
		}},
		{"index block without children", func(d []byte) []byte {
			binary.LittleEndian.PutUint16(d[childCountAt:], 0)
			return d
		}},
		{"child pointing backwards", func(d []byte) []byte {
			binary.LittleEndian.PutUint64(d[firstChildAt:], RootOffset)
			return d
		}},
		{"child past end of file", func(d []byte) []byte {
			binary.LittleEndian.PutUint64(d[firstChildAt:], uint64(len(d))+100)
			return d
		}},
		{"truncated file", func(d []byte) []byte {
			return d[:RootOffset+20]
		}},
		{"leaf body past end of file", func(d []byte) []byte {
			d[RootOffset] = 1
			binary.LittleEndian.PutUint16(d[childCountAt:], 4)
			return d[:RootOffset+4+16+8]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := log.NewStandardLogger(log.WithOutput(&logs), log.WithLevel(log.LevelDebug))
			idx := openBytes(t, tt.corrupt(bytes.Clone(good)), WithLogger(logger))

			_, _, err := idx.Find([]byte("key00000"), 8)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("Expected ErrFormat, got %v", err)
			}

			var formatErr *FormatError
			if !errors.As(err, &formatErr) || formatErr.Name != "test.bpt" {
				t.Errorf("Expected a FormatError naming the file, got %#v", err)
			}

			if _, err := idx.FindMultiple([]byte("key00000"), 8); !errors.Is(err, ErrFormat) {
				t.Errorf("Expected ErrFormat from FindMultiple, got %v", err)
			}
			if err := idx.Traverse(func(k, v []byte) error { return nil }); !errors.Is(err, ErrFormat) {
				t.Errorf("Expected ErrFormat from Traverse, got %v", err)
			}

			if !strings.Contains(logs.String(), "Corrupt index") {
				t.Errorf("Expected corruption to be logged, got %q", logs.String())
			}
		})
	}
}

// rawIndex writes a little endian header followed by a single leaf block
// header claiming childCount entries and bodyLen bytes of zeroed body
func rawIndex(blockSize, keySize, valSize uint32, itemCount uint64, childCount uint16, bodyLen int) []byte {
	d := make([]byte, RootOffset+4+bodyLen)
	binary.LittleEndian.PutUint32(d[0:4], 0x78CA8C91)
	binary.LittleEndian.PutUint32(d[4:8], blockSize)
	binary.LittleEndian.PutUint32(d[8:12], keySize)
	binary.LittleEndian.PutUint32(d[12:16], valSize)
	binary.LittleEndian.PutUint64(d[16:24], itemCount)
	d[RootOffset] = 1
	binary.LittleEndian.PutUint16(d[RootOffset+2:], childCount)
	return d
}

func TestOversizedGeometry(t *testing.T) {
	// Wide keys and values with a full leaf: opens, but the leaf body is far
	// larger than the file
	idx := openBytes(t, rawIndex(65535, 100, 100, 1, 65535, 200))

	if _, _, err := idx.Find([]byte("a"), 100); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat from Find, got %v", err)
	}
	if _, err := idx.FindMultiple([]byte("a"), 100); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat from FindMultiple, got %v", err)
	}
	if err := idx.Traverse(func(k, v []byte) error { return nil }); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat from Traverse, got %v", err)
	}
	if _, err := idx.KeyAtPos(0); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat from KeyAtPos, got %v", err)
	}
}

func TestKeyAtPosOutsideFile(t *testing.T) {
	// One real item, but the header claims far more
	idx := openBytes(t, rawIndex(1, 1, 1, 1<<63, 1, 2))

	if _, err := idx.KeyAtPos(0); err != nil {
		t.Fatalf("KeyAtPos(0) failed: %v", err)
	}

	for _, pos := range []uint64{1, 1 << 40, 1 << 62, 1<<63 - 1} {
		_, err := idx.KeyAtPos(pos)
		if !errors.Is(err, ErrFormat) {
			t.Errorf("KeyAtPos(%d): expected ErrFormat, got %v", pos, err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	good := buildIndex(t, nil, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8})

	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"empty", nil, "truncated"},
		{"short header", good[:20], "truncated"},
		{"bad magic", append([]byte("NOPE"), good[4:]...), "not a bpt b-plus tree index file"},
		{"zero block size", func() []byte {
			d := bytes.Clone(good)
			binary.LittleEndian.PutUint32(d[4:8], 0)
			return d
		}(), "block size is zero"},
		{"zero key size", func() []byte {
			d := bytes.Clone(good)
			binary.LittleEndian.PutUint32(d[8:12], 0)
			return d
		}(), "key size is zero"},
		{"entry larger than file", rawIndex(65535, 0xFFFFFFFF, 0xFFFFFFFF, 1, 65535, 0), "do not fit"},
		{"entry one byte short", rawIndex(4, 8, 8, 1, 1, 15), "do not fit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndex(storage.NewMemorySource(tt.data), "bad.bpt")
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("Expected ErrFormat, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("Expected error to mention %q, got %q", tt.msg, err.Error())
			}
		})
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.bpt")); err == nil || errors.Is(err, ErrFormat) {
		t.Errorf("Expected a plain I/O error for a missing file, got %v", err)
	}
}

func TestOpenModesAndCompression(t *testing.T) {
	keys, vals := numberedKeys(64)
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)
	data := buildIndex(t, items, bpttest.Options{BlockSize: 5, KeySize: 8, ValSize: 8})
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.bpt")
	if err := os.WriteFile(plain, data, 0644); err != nil {
		t.Fatal(err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := filepath.Join(dir, "index.bpt.zst")
	if err := os.WriteFile(zst, enc.EncodeAll(data, nil), 0644); err != nil {
		t.Fatal(err)
	}
	enc.Close()

	var gzBuf bytes.Buffer
	gz := pgzip.NewWriter(&gzBuf)
	if _, err := gz.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	gzPath := filepath.Join(dir, "index.bpt.gz")
	if err := os.WriteFile(gzPath, gzBuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		mode storage.Mode
	}{
		{plain, storage.ModeAuto},
		{plain, storage.ModeFile},
		{plain, storage.ModeMmap},
		{plain, storage.ModeMemory},
		{zst, storage.ModeAuto},
		{zst, storage.ModeMmap},
		{gzPath, storage.ModeAuto},
		{gzPath, storage.ModeMemory},
	}

	var sums []uint64
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s_%s", filepath.Base(c.path), c.mode), func(t *testing.T) {
			idx, err := Open(c.path, WithMode(c.mode))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer idx.Close()

			v, found := mustFindUint64(t, idx, "key00042")
			if !found || v != 42*7 {
				t.Errorf("Find(key00042) = %d, %v", v, found)
			}

			sum, err := idx.Checksum()
			if err != nil {
				t.Fatal(err)
			}
			sums = append(sums, sum)
		})
	}

	for i := 1; i < len(sums); i++ {
		if sums[i] != sums[0] {
			t.Errorf("Checksums differ across modes: %v", sums)
			break
		}
	}
}

func TestClose(t *testing.T) {
	items := bpttest.StringItems(binary.LittleEndian, []string{"aaa"}, []uint64{1})
	path := bpttest.MustWrite(t, items, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8})

	idx, err := Open(path, WithMode(storage.ModeFile))
	if err != nil {
		t.Fatal(err)
	}

	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if _, _, err := idx.Find([]byte("aaa"), 8); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Find, got %v", err)
	}
	if _, err := idx.FindMultiple([]byte("aaa"), 8); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from FindMultiple, got %v", err)
	}
	if _, err := idx.KeyAtPos(0); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from KeyAtPos, got %v", err)
	}
	if err := idx.Traverse(func(k, v []byte) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Traverse, got %v", err)
	}
	if _, err := idx.Checksum(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Checksum, got %v", err)
	}
}

func TestConcurrentFind(t *testing.T) {
	keys, vals := numberedKeys(500)
	items := bpttest.StringItems(binary.LittleEndian, keys, vals)
	path := bpttest.MustWrite(t, items, bpttest.Options{BlockSize: 6, KeySize: 8, ValSize: 8})

	idx, err := Open(path, WithMode(storage.ModeFile))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < len(keys); i += 8 {
				val, found, err := idx.Find([]byte(keys[i]), 8)
				if err != nil {
					errs <- err
					return
				}
				if !found || binary.LittleEndian.Uint64(val) != vals[i] {
					errs <- fmt.Errorf("bad result for %s", keys[i])
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestStatsTracking(t *testing.T) {
	items := bpttest.StringItems(binary.LittleEndian, []string{"aaa", "bbb"}, []uint64{1, 2})
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{BlockSize: 4, KeySize: 8, ValSize: 8}))

	mustFindUint64(t, idx, "aaa")
	mustFindUint64(t, idx, "nope")
	idx.Find([]byte("aaa"), 3)

	stats := idx.Stats()
	if stats["find_ops"].(uint64) != 3 {
		t.Errorf("Expected 3 find operations, got %v", stats["find_ops"])
	}
	if stats["lookup_hits"].(uint64) != 1 || stats["lookup_misses"].(uint64) != 1 {
		t.Errorf("Unexpected hits/misses: %v/%v", stats["lookup_hits"], stats["lookup_misses"])
	}
	if stats["block_reads"].(uint64) != 2 {
		t.Errorf("Expected 2 block reads, got %v", stats["block_reads"])
	}
	if errs := stats["errors"].(map[string]uint64); errs["size_mismatch"] != 1 {
		t.Errorf("Expected one size mismatch error, got %v", errs)
	}
}

func TestUint64(t *testing.T) {
	items := bpttest.StringItems(binary.BigEndian, []string{"aaa"}, []uint64{0x0102030405060708})
	idx := openBytes(t, buildIndex(t, items, bpttest.Options{Order: binary.BigEndian, BlockSize: 4, KeySize: 8, ValSize: 8}))

	val, _, err := idx.Find([]byte("aaa"), 8)
	if err != nil {
		t.Fatal(err)
	}
	v, err := idx.Uint64(val)
	if err != nil || v != 0x0102030405060708 {
		t.Errorf("Uint64 = %#x, %v", v, err)
	}

	if _, err := idx.Uint64([]byte{1, 2, 3}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
}
