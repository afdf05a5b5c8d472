// Package segment owns the on-disk representation of one generation's
// append-only data file: creating it, appending encoded records to it,
// and serving random-access reads against it.
package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/caskdb/caskdb/internal/record"
)

// Suffix is the filename suffix identifying a segment's data file:
// "<generation>.caskdb.data".
const Suffix = ".caskdb.data"

// HintSuffix names the optional, not-yet-implemented per-segment hint file
// that would let recovery skip a full scan. Reserved so a future extension
// can light it up without a filename-convention migration.
const HintSuffix = ".caskdb.hint"

// Segment owns one data file: a writer side used only by the active
// segment, and a read side usable by any segment regardless of whether it
// is active. Reads go through os.File.ReadAt, which is safe to call
// concurrently from many goroutines against the same handle, so a single
// Segment can be shared without per-goroutine cloning.
type Segment struct {
	Generation int
	file       *os.File
	size       atomic.Int64
}

// Path returns the conventional filename for generation within dir.
func Path(dir string, generation int) string {
	return filepath.Join(dir, fmt.Sprintf("%010d%s", generation, Suffix))
}

// Create creates a brand-new, empty segment file for generation and opens
// it for both append and random-access read.
func Create(dir string, generation int) (*Segment, error) {
	path := Path(dir, generation)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %q: %w", path, err)
	}
	return &Segment{Generation: generation, file: f}, nil
}

// Open opens an existing segment file for generation without scanning it.
// Recovery uses Recover instead, which also rebuilds the record stream and
// truncates a trailing partial write.
func Open(dir string, generation int) (*Segment, error) {
	path := Path(dir, generation)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment %q: %w", path, err)
	}

	seg := &Segment{Generation: generation, file: f}
	seg.size.Store(info.Size())
	return seg, nil
}

// Recover opens the segment for generation, scans it from the start, and
// truncates it to the offset just past the last complete record — the
// scan's own tolerance for a truncated tail left by a prior crash. It
// returns the opened segment and every record the scan gathered, in file
// order.
func Recover(dir string, generation int, verifyChecksums bool) (seg *Segment, recs []record.Record, rerr error) {
	seg, err := Open(dir, generation)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if rerr != nil {
			seg.file.Close()
		}
	}()

	sc := record.NewScanner(seg.file, verifyChecksums)
	for sc.Scan() {
		recs = append(recs, sc.Record())
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan segment %d: %w", generation, err)
	}

	if err := seg.file.Truncate(sc.End()); err != nil {
		return nil, nil, fmt.Errorf("truncate segment %d: %w", generation, err)
	}
	if _, err := seg.file.Seek(0, io.SeekEnd); err != nil {
		return nil, nil, fmt.Errorf("seek segment %d: %w", generation, err)
	}
	seg.size.Store(sc.End())

	return seg, recs, nil
}

// Append encodes kind/key/value and writes it at the current end of the
// segment, returning the offset the record begins at. The write is handed
// to the OS in one syscall so subsequent ReadAt calls observe it via the
// page cache even before Sync is called.
func (s *Segment) Append(kind record.Kind, key, value []byte) (offset int64, err error) {
	buf := record.Encode(kind, key, value)

	off := s.size.Load()
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("append to segment %d: %w", s.Generation, err)
	}
	s.size.Add(int64(len(buf)))

	return off, nil
}

// Sync forces all previously appended bytes to stable storage.
func (s *Segment) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", s.Generation, err)
	}
	return nil
}

// Size returns the current logical end-of-file offset, including bytes
// appended but not yet synced.
func (s *Segment) Size() int64 { return s.size.Load() }

// DecodeAt reads and decodes the record at off, verifying its checksum
// when verify is true.
func (s *Segment) DecodeAt(off int64, verify bool) (record.Record, error) {
	rec, err := record.DecodeAt(s.file, off, verify)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode segment %d at %d: %w", s.Generation, off, err)
	}
	return rec, nil
}

// NewScanner returns a fresh sequential Scanner over the segment,
// independent of any other scanner or the write cursor.
func (s *Segment) NewScanner(verify bool) *record.Scanner {
	return record.NewScanner(s.file, verify)
}

// Close closes the underlying file handle without syncing. Callers that
// need durability should Sync first.
func (s *Segment) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment %d: %w", s.Generation, err)
	}
	return nil
}

// Remove closes and unlinks the segment's file.
func (s *Segment) Remove(dir string) error {
	_ = s.file.Close()
	if err := os.Remove(Path(dir, s.Generation)); err != nil {
		return fmt.Errorf("remove segment %d: %w", s.Generation, err)
	}
	return nil
}

// ParseGeneration extracts the generation number from a segment filename,
// reporting ok=false for names that don't match the convention (e.g. the
// manifest, the lock file, or a future hint file) so callers can silently
// skip unrelated directory entries.
func ParseGeneration(name string) (generation int, ok bool) {
	if !strings.HasSuffix(name, Suffix) {
		return 0, false
	}
	idStr := strings.TrimSuffix(name, Suffix)
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// ScanDir lists every segment generation present in dir, sorted ascending
// by numeric generation (not lexicographic filename order — necessary
// since generations are not zero-padded to a fixed width in principle,
// though Path always produces padded names itself).
func ScanDir(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var generations []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if gen, ok := ParseGeneration(e.Name()); ok {
			generations = append(generations, gen)
		}
	}

	sort.Ints(generations)
	return generations, nil
}
