package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/dispict/internal/models"
)

// Store file layout, little endian:
//
//	magic   [4]byte "DSPV"
//	version uint32
//	dim     uint32
//	rows    uint64
//	matrix  [rows*dim]float32
//	idCount uint64
//	ids     [idCount]int64
//	crc     uint32  (IEEE, over every preceding byte)
const (
	storeMagic   = "DSPV"
	storeVersion = 1
	headerSize   = 4 + 4 + 4 + 8
)

// Store is the loaded embedding matrix. Row i is the embedding of IDs[i].
// Rows are unit length after ReadStore. A Store must not be modified after load.
type Store struct {
	Dim     int
	IDs     []int64
	Vectors [][]float32
}

// Len returns the number of rows.
func (s *Store) Len() int {
	return len(s.IDs)
}

// NewStore validates ids and vectors and wraps them without copying or
// normalizing.
func NewStore(dim int, ids []int64, vectors [][]float32) (*Store, error) {
	if err := validateShape(dim, ids, vectors); err != nil {
		return nil, err
	}
	return &Store{Dim: dim, IDs: ids, Vectors: vectors}, nil
}

func validateShape(dim int, ids []int64, vectors [][]float32) error {
	if dim <= 0 {
		return fmt.Errorf("store dimension must be positive, got %d", dim)
	}
	if len(ids) != len(vectors) {
		return &models.ConsistencyError{Op: "store", Expected: len(ids), Actual: len(vectors), Detail: "ids vs vector rows"}
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return &models.ConsistencyError{
				Op:       "store",
				Expected: len(ids),
				Actual:   len(seen),
				Detail:   fmt.Sprintf("duplicate id %d at row %d", id, i),
			}
		}
		seen[id] = struct{}{}
		if len(vectors[i]) != dim {
			return &models.ConsistencyError{
				Op:       "store",
				Expected: dim,
				Actual:   len(vectors[i]),
				Detail:   fmt.Sprintf("dimension of row %d", i),
			}
		}
	}
	return nil
}

// WriteStore publishes ids and vectors to path atomically: the data is written
// to a temporary file in the same directory, synced, then renamed over path.
// Readers see either the previous file or the complete new one.
func WriteStore(path string, dim int, ids []int64, vectors [][]float32) (err error) {
	if err := validateShape(dim, ids, vectors); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	crc := crc32.NewIEEE()
	buf := bufio.NewWriterSize(io.MultiWriter(tmp, crc), 1<<20)
	if err := encodeStore(buf, dim, ids, vectors); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := binary.Write(tmp, binary.LittleEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod store: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publish store: %w", err)
	}
	return nil
}

func encodeStore(w io.Writer, dim int, ids []int64, vectors [][]float32) error {
	header := make([]byte, headerSize)
	copy(header, storeMagic)
	binary.LittleEndian.PutUint32(header[4:], storeVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(len(vectors)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, row := range vectors {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(ids))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, ids)
}

// ReadStore loads and verifies a store file and normalizes every row to unit
// length. When dim is positive the file must have that dimension. Count,
// dimension and duplicate-id violations are consistency errors.
func ReadStore(path string, dim int) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	s, err := decodeStore(data, dim)
	if err != nil {
		return nil, fmt.Errorf("load store %s: %w", path, err)
	}
	for _, row := range s.Vectors {
		NormalizeL2(row)
	}
	return s, nil
}

func decodeStore(data []byte, wantDim int) (*Store, error) {
	if len(data) < headerSize+8+4 {
		return nil, fmt.Errorf("file too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], []byte(storeMagic)) {
		return nil, fmt.Errorf("not a vector store (bad magic %q)", data[:4])
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != storeVersion {
		return nil, fmt.Errorf("unsupported store version %d", v)
	}

	dim := int(binary.LittleEndian.Uint32(data[8:]))
	rows := binary.LittleEndian.Uint64(data[12:])
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if wantDim > 0 && dim != wantDim {
		return nil, &models.ConsistencyError{Op: "load_store", Expected: wantDim, Actual: dim, Detail: "embedding dimension"}
	}

	r := bytes.NewReader(body[headerSize:])
	if rows > uint64(r.Len())/uint64(dim*4) {
		return nil, fmt.Errorf("truncated matrix: %d rows of %d dims", rows, dim)
	}
	matrix := make([]float32, int(rows)*dim)
	if err := binary.Read(r, binary.LittleEndian, matrix); err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}

	var idCount uint64
	if err := binary.Read(r, binary.LittleEndian, &idCount); err != nil {
		return nil, fmt.Errorf("read id count: %w", err)
	}
	if idCount != rows {
		return nil, &models.ConsistencyError{Op: "load_store", Expected: int(rows), Actual: int(idCount), Detail: "matrix rows vs ids"}
	}
	if uint64(r.Len()) != idCount*8 {
		return nil, fmt.Errorf("id section has %d bytes, want %d", r.Len(), idCount*8)
	}
	ids := make([]int64, idCount)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}

	vectors := make([][]float32, rows)
	for i := range vectors {
		vectors[i] = matrix[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return NewStore(dim, ids, vectors)
}
