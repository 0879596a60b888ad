package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/dispict/internal/models"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "embeddings.dspv")
	ids := []int64{11, 42, 7}
	vectors := [][]float32{
		{3, 4, 0, 0},
		{0, 0, 2, 0},
		{1, 1, 1, 1},
	}
	if err := WriteStore(path, 4, ids, vectors); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}

	s, err := ReadStore(path, 4)
	if err != nil {
		t.Fatalf("ReadStore: %v", err)
	}
	if s.Dim != 4 || s.Len() != 3 {
		t.Fatalf("dim=%d len=%d", s.Dim, s.Len())
	}
	for i, id := range ids {
		if s.IDs[i] != id {
			t.Errorf("IDs[%d] = %d, want %d", i, s.IDs[i], id)
		}
		// rows come back unit length, pointing the same way as written
		want := append([]float32(nil), vectors[i]...)
		NormalizeL2(want)
		for d := range want {
			if math.Abs(float64(s.Vectors[i][d]-want[d])) > 1e-6 {
				t.Errorf("row %d dim %d = %f, want %f", i, d, s.Vectors[i][d], want[d])
			}
		}
		if n := L2Norm(s.Vectors[i]); math.Abs(n-1) > 1e-6 {
			t.Errorf("row %d norm = %f", i, n)
		}
	}
}

func TestStore_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dspv")
	if err := WriteStore(path, 8, nil, nil); err != nil {
		t.Fatal(err)
	}
	s, err := ReadStore(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestWriteStore_RejectsBadShapes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		ids     []int64
		vectors [][]float32
	}{
		{"more ids than rows", []int64{1, 2}, [][]float32{{1, 0}}},
		{"more rows than ids", []int64{1}, [][]float32{{1, 0}, {0, 1}}},
		{"wrong width", []int64{1, 2}, [][]float32{{1, 0}, {0, 1, 0}}},
		{"duplicate id", []int64{5, 5}, [][]float32{{1, 0}, {0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".dspv")
			err := WriteStore(path, 2, tt.ids, tt.vectors)
			if !errors.Is(err, models.ErrConsistency) {
				t.Errorf("err = %v, want consistency error", err)
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Error("no file should be published on failure")
			}
		})
	}
}

func TestWriteStore_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.dspv")
	if err := WriteStore(path, 2, []int64{1}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	// a failed write leaves the previous store intact
	if err := WriteStore(path, 2, []int64{1, 2}, [][]float32{{1, 0}}); err == nil {
		t.Fatal("expected error")
	}
	if err := WriteStore(path, 2, []int64{2, 3}, [][]float32{{0, 1}, {1, 1}}); err != nil {
		t.Fatal(err)
	}
	s, err := ReadStore(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 || s.IDs[0] != 2 {
		t.Errorf("store not replaced: %v", s.IDs)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestReadStore_Missing(t *testing.T) {
	if _, err := ReadStore(filepath.Join(t.TempDir(), "nope.dspv"), 4); err == nil {
		t.Error("expected error for missing store")
	}
}

func TestReadStore_DimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.dspv")
	if err := WriteStore(path, 2, []int64{1}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStore(path, 512); !errors.Is(err, models.ErrConsistency) {
		t.Errorf("err = %v, want consistency error", err)
	}
}

func TestReadStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.dspv")
	if err := WriteStore(path, 2, []int64{1, 2}, [][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	data[headerSize+1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStore(path, 2); err == nil {
		t.Error("expected checksum error")
	}
}

// rawStore builds a file with an id section that does not match the matrix.
func rawStore(t *testing.T, dim int, matrix [][]float32, ids []int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(storeMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(storeVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(dim))
	binary.Write(&buf, binary.LittleEndian, uint64(len(matrix)))
	for _, row := range matrix {
		binary.Write(&buf, binary.LittleEndian, row)
	}
	binary.Write(&buf, binary.LittleEndian, uint64(len(ids)))
	binary.Write(&buf, binary.LittleEndian, ids)
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

func TestReadStore_ConsistencyErrors(t *testing.T) {
	tests := []struct {
		name   string
		matrix [][]float32
		ids    []int64
	}{
		{"fewer ids than rows", [][]float32{{1, 0}, {0, 1}}, []int64{1}},
		{"more ids than rows", [][]float32{{1, 0}}, []int64{1, 2}},
		{"duplicate ids", [][]float32{{1, 0}, {0, 1}}, []int64{9, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.dspv")
			if err := os.WriteFile(path, rawStore(t, 2, tt.matrix, tt.ids), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := ReadStore(path, 2)
			if !errors.Is(err, models.ErrConsistency) {
				t.Errorf("err = %v, want consistency error", err)
			}
		})
	}
}
