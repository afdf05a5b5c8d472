package caskdb

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/caskdb/caskdb/internal/dirlock"
	"github.com/caskdb/caskdb/internal/keydir"
	"github.com/caskdb/caskdb/internal/manifest"
	"github.com/caskdb/caskdb/internal/record"
	"github.com/caskdb/caskdb/internal/segment"
	"github.com/caskdb/caskdb/pkg/caskerr"
)

// DB is an open handle to a caskdb database directory. A DB owns the
// directory's exclusivity lock for its lifetime; callers must Close it to
// release that lock and let another process (or a later Open in this one)
// take it over.
type DB struct {
	dir  string
	opts *options
	log  *zap.SugaredLogger

	lock *dirlock.Lock

	// mu serializes Set, Remove and Merge's publish step against each
	// other and against Get. This is Bitcask's single-appender invariant:
	// append offsets are only authoritative because exactly one goroutine
	// can be appending (or rotating, or publishing a merge) at a time. Get
	// takes the read side across its entire keydir lookup and segment
	// decode, so it can never observe a segment that a concurrent merge
	// has already unlinked, nor a keydir entry a concurrent merge is in
	// the middle of republishing.
	mu       sync.RWMutex
	active   *segment.Segment
	segments map[int]*segment.Segment // generation -> segment, includes active
	order    []int                    // generations in replay order: creation order, merge outputs before the segments that outlived the merge
	nextGen  atomic.Int64

	index *keydir.Keydir

	mergeSem chan struct{} // 1-buffered; non-blocking send debounces concurrent auto-merges
	mergeErr chan error
}

// Open opens (creating if necessary) the database directory at dir,
// recovers its keydir from the segments present, and returns a ready DB.
func Open(dir string, opts ...Option) (db *DB, err error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	info, statErr := os.Stat(dir)
	switch {
	case statErr == nil && !info.IsDir():
		return nil, caskerr.NewOpenError(caskerr.CodeNotDirectory, fmt.Errorf("%q is not a directory", dir))
	case statErr != nil && !os.IsNotExist(statErr):
		return nil, caskerr.NewOpenError(caskerr.CodeIO, statErr)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, caskerr.NewOpenError(caskerr.CodeIO, fmt.Errorf("mkdir %q: %w", dir, err))
	}

	lock, ok, err := dirlock.Acquire(dir)
	if err != nil {
		return nil, caskerr.NewOpenError(caskerr.CodeIO, err)
	}
	if !ok {
		return nil, caskerr.NewOpenError(caskerr.CodeLocked, caskerr.ErrLocked)
	}

	db = &DB{
		dir:      dir,
		opts:     cfg,
		log:      cfg.logger,
		lock:     lock,
		segments: make(map[int]*segment.Segment),
		index:    keydir.New(),
		mergeSem: make(chan struct{}, 1),
		mergeErr: make(chan error, 1),
	}

	defer func() {
		if err != nil {
			db.abortOpen()
		}
	}()

	if err = db.recover(); err != nil {
		return nil, err
	}

	if err = db.rotate(); err != nil {
		return nil, err
	}

	if err = db.checkOrphanSegments(); err != nil {
		return nil, caskerr.NewOpenError(caskerr.CodeIO, err)
	}

	db.log.Infow("opened database", "dir", dir, "segments", len(db.order), "keys", db.index.Len())

	return db, nil
}

// abortOpen releases everything Open acquired so far, used when Open
// fails partway through.
func (db *DB) abortOpen() {
	for _, seg := range db.segments {
		_ = seg.Close()
	}
	_ = db.lock.Release()
}

// Close flushes and syncs every open segment, releases the directory
// lock, and makes db unusable. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	for _, gen := range db.order {
		seg := db.segments[gen]
		if err := seg.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.segments = map[int]*segment.Segment{}
	db.order = nil
	db.active = nil

	if err := db.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// Get returns the value most recently Set for key, or a GetError wrapping
// ErrKeyNotFound if key has no live entry. The keydir lookup and the
// segment decode happen under a single read lock so a concurrent merge
// can never republish the key or unlink its segment midway through.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, ok := db.index.Get(string(key))
	if !ok {
		return nil, caskerr.NewGetError(string(key), caskerr.CodeKeyNotFound, caskerr.ErrKeyNotFound)
	}
	return db.readEntryLocked(key, entry)
}

// readEntryLocked decodes entry's record. Callers must hold db.mu for
// reading.
func (db *DB) readEntryLocked(key []byte, entry keydir.Entry) ([]byte, error) {
	seg, ok := db.segments[entry.Generation]
	if !ok {
		return nil, caskerr.NewGetError(string(key), caskerr.CodeIO,
			fmt.Errorf("segment %d referenced by keydir is not open", entry.Generation))
	}

	rec, err := seg.DecodeAt(entry.Offset, db.opts.verifyChecksums)
	if err != nil {
		return nil, caskerr.NewGetError(string(key), caskerr.CodeIO, err)
	}
	if rec.Kind != record.KindPut {
		return nil, caskerr.NewGetError(string(key), caskerr.CodeInvariant, caskerr.ErrCorruptIndex)
	}

	return rec.Value, nil
}

// Set writes value for key, making it immediately visible to Get.
func (db *DB) Set(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	off, err := db.active.Append(record.KindPut, key, value)
	if err != nil {
		return caskerr.NewSetError(string(key), caskerr.CodeIO, err)
	}

	if db.opts.syncOnWrite {
		if err := db.active.Sync(); err != nil {
			return caskerr.NewSetError(string(key), caskerr.CodeIO, err)
		}
	}

	length := int64(record.HeaderLen + len(key) + len(value))
	db.index.Put(string(key), keydir.Entry{
		Generation: db.active.Generation,
		Offset:     off,
		Length:     length,
		Timestamp:  time.Now().UnixNano(),
	})

	if db.active.Size() >= db.opts.maxActiveFileSize {
		if err := db.rotateLocked(); err != nil {
			return caskerr.NewSetError(string(key), caskerr.CodeIO, err)
		}
		if db.opts.mergeEnabled && db.mergeableCountLocked() >= db.opts.mergeThreshold {
			db.triggerAsyncMerge()
		}
	}

	return nil
}

// Remove deletes key. If key has no live entry, Remove returns a
// RemoveError wrapping ErrKeyNotFound and writes nothing.
func (db *DB) Remove(key []byte) error {
	if _, ok := db.index.Get(string(key)); !ok {
		return caskerr.NewRemoveError(string(key), caskerr.CodeKeyNotFound, caskerr.ErrKeyNotFound)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.active.Append(record.KindTombstone, key, nil); err != nil {
		return caskerr.NewRemoveError(string(key), caskerr.CodeIO, err)
	}
	if db.opts.syncOnWrite {
		if err := db.active.Sync(); err != nil {
			return caskerr.NewRemoveError(string(key), caskerr.CodeIO, err)
		}
	}

	db.index.Delete(string(key))

	if db.active.Size() >= db.opts.maxActiveFileSize {
		if err := db.rotateLocked(); err != nil {
			return caskerr.NewRemoveError(string(key), caskerr.CodeIO, err)
		}
	}

	return nil
}

// DiskSize returns the sum of every open segment's on-disk size.
func (db *DB) DiskSize() (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var total int64
	for _, gen := range db.order {
		info, err := os.Stat(segment.Path(db.dir, gen))
		if err != nil {
			return 0, fmt.Errorf("stat segment %d: %w", gen, err)
		}
		total += info.Size()
	}
	return total, nil
}

// rotate creates the active segment Open writes to after recovery, at the
// generation after the highest one recovered. It does nothing if an active
// segment already exists.
func (db *DB) rotate() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.active != nil {
		return nil
	}
	return db.rotateLocked()
}

// rotateLocked allocates the next generation as a new active segment.
// Callers must hold db.mu. The outgoing active segment (if any) is synced
// per WithSyncOnRotate before the new one takes over, and the manifest is
// rewritten so the new segment set survives a restart.
func (db *DB) rotateLocked() error {
	if db.active != nil && db.opts.syncOnRotate {
		if err := db.active.Sync(); err != nil {
			return fmt.Errorf("sync outgoing active segment %d: %w", db.active.Generation, err)
		}
	}

	gen := int(db.nextGen.Add(1)) - 1
	seg, err := segment.Create(db.dir, gen)
	if err != nil {
		return fmt.Errorf("create segment %d: %w", gen, err)
	}

	db.segments[gen] = seg
	db.order = append(db.order, gen)
	db.active = seg

	if err := db.writeManifestLocked(); err != nil {
		return err
	}

	db.log.Debugw("rotated to new active segment", "generation", gen)
	return nil
}

func (db *DB) writeManifestLocked() error {
	if err := manifest.Write(db.dir, db.order); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// mergeableCountLocked returns the number of immutable (non-active)
// segments currently open. Callers must hold db.mu.
func (db *DB) mergeableCountLocked() int {
	n := len(db.order)
	if db.active != nil {
		n--
	}
	return n
}

// checkOrphanSegments logs a warning for any segment file present in the
// directory that isn't part of the loaded segment set — the residue of a
// merge that crashed before rewriting the manifest (its output segments)
// or before unlinking its inputs (the old segments). It never deletes
// anything, and Merge only works on the loaded segment set, so orphans are
// neither replayed nor removed; they stay on disk until deleted by hand.
func (db *DB) checkOrphanSegments() error {
	db.mu.RLock()
	order := append([]int(nil), db.order...)
	db.mu.RUnlock()

	actualGens, err := segment.ScanDir(db.dir)
	if err != nil {
		return fmt.Errorf("scan dir for orphan check: %w", err)
	}

	expected := mapset.NewSet[int]()
	for _, gen := range order {
		expected.Add(gen)
	}
	actual := mapset.NewSet[int](actualGens...)

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		db.log.Warnw("orphaned segment files found; they are not loaded or removed",
			"dir", db.dir, "orphans", orphans.ToSlice())
	}

	return nil
}
