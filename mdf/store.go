package mdf

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/INLOpen/nexusmdf/compressors"
	"github.com/INLOpen/nexusmdf/core"
)

// spillRef locates one compressed fragment inside the spill file.
type spillRef struct {
	offset int64
	length int64
	rawLen int
	sum    uint64
}

// spillStore keeps appended record fragments out of memory. Fragments
// are compressed, checksummed and written append-only to one temp file
// per engine instance; the file is removed on Close.
type spillStore struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	size   int64
	comp   core.Compressor
	verify bool
	logger *slog.Logger
}

func newSpillStore(dir string, ct core.CompressionType, verify bool, logger *slog.Logger) (*spillStore, error) {
	comp, err := compressors.Get(ct)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &spillStore{dir: dir, comp: comp, verify: verify, logger: logger}, nil
}

// put compresses and appends data, returning its reference. The file is
// created lazily on the first spill.
func (s *spillStore) put(data []byte) (*spillRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		f, err := os.CreateTemp(s.dir, "nexusmdf-spill-*.bin")
		if err != nil {
			return nil, fmt.Errorf("create spill file: %w", err)
		}
		s.file = f
		s.logger.Debug("spill store created", "path", f.Name(), "compression", s.comp.Type())
	}

	compressed, err := s.comp.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("compress spill fragment: %w", err)
	}
	ref := &spillRef{
		offset: s.size,
		length: int64(len(compressed)),
		rawLen: len(data),
		sum:    xxhash.Sum64(data),
	}
	if _, err := s.file.WriteAt(compressed, ref.offset); err != nil {
		return nil, fmt.Errorf("write spill fragment: %w", err)
	}
	s.size += ref.length
	return ref, nil
}

// get reads a fragment back, decompressing and verifying its checksum.
func (s *spillStore) get(ref *spillRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, fmt.Errorf("spill store is empty")
	}
	compressed := make([]byte, ref.length)
	if _, err := s.file.ReadAt(compressed, ref.offset); err != nil {
		return nil, fmt.Errorf("read spill fragment: %w", err)
	}
	data, err := decompressAll(s.comp, compressed, ref.rawLen)
	if err != nil {
		return nil, err
	}
	if s.verify {
		if sum := xxhash.Sum64(data); sum != ref.sum {
			return nil, fmt.Errorf("spill fragment checksum mismatch: got %x, want %x", sum, ref.sum)
		}
	}
	return data, nil
}

func (s *spillStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}

func decompressAll(comp core.Compressor, compressed []byte, rawLen int) ([]byte, error) {
	r, err := comp.Decompress(compressed)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data := make([]byte, rawLen)
	read := 0
	for read < rawLen {
		n, err := r.Read(data[read:])
		read += n
		if err != nil {
			break
		}
	}
	if read != rawLen {
		return nil, fmt.Errorf("spill fragment decompressed to %d bytes, want %d", read, rawLen)
	}
	return data, nil
}

// fragment is one run of whole records, resident or spilled.
type fragment struct {
	mem     []byte
	spilled *spillRef
	records int
}

// recordStore holds the raw record stream of one channel group as a
// list of whole-record fragments.
type recordStore struct {
	frags   []fragment
	records uint64
	bytes   int64
	spill   *spillStore
	// spillThreshold moves fragments at least this large to the spill
	// store; 0 keeps everything resident.
	spillThreshold int64
}

func (rs *recordStore) appendFragment(data []byte, records int) error {
	if records == 0 {
		return nil
	}
	f := fragment{records: records}
	if rs.spill != nil && rs.spillThreshold > 0 && int64(len(data)) >= rs.spillThreshold {
		ref, err := rs.spill.put(data)
		if err != nil {
			return err
		}
		f.spilled = ref
	} else {
		f.mem = data
		rs.bytes += int64(len(data))
	}
	rs.frags = append(rs.frags, f)
	rs.records += uint64(records)
	return nil
}

func (rs *recordStore) load(f *fragment) ([]byte, error) {
	if f.spilled != nil {
		return rs.spill.get(f.spilled)
	}
	return f.mem, nil
}

// iter returns a pull-based iterator over the store's fragments.
func (rs *recordStore) iter() *fragmentIter {
	return &fragmentIter{store: rs, i: -1}
}

// fragmentIter walks a record store fragment by fragment. Usage follows
// the usual pattern: for it.Next() { ... it.Fragment() ... }; it.Err().
type fragmentIter struct {
	store *recordStore
	i     int
	data  []byte
	err   error
}

func (it *fragmentIter) Next() bool {
	if it.err != nil {
		return false
	}
	it.i++
	if it.i >= len(it.store.frags) {
		return false
	}
	it.data, it.err = it.store.load(&it.store.frags[it.i])
	return it.err == nil
}

// Fragment returns the raw bytes of the current fragment. The slice is
// only valid until the next call to Next for spilled fragments.
func (it *fragmentIter) Fragment() []byte { return it.data }

// Records returns the record count of the current fragment.
func (it *fragmentIter) Records() int { return it.store.frags[it.i].records }

func (it *fragmentIter) Err() error { return it.err }
