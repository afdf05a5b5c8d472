package caskdb

import (
	"fmt"

	"github.com/caskdb/caskdb/internal/keydir"
	"github.com/caskdb/caskdb/internal/manifest"
	"github.com/caskdb/caskdb/internal/record"
	"github.com/caskdb/caskdb/internal/segment"
	"github.com/caskdb/caskdb/pkg/caskerr"
)

// recover loads every segment named by the manifest (falling back to a
// directory scan, in ascending generation order, when the manifest is
// missing) and replays them in that order to rebuild the keydir. The
// manifest lists segments in the order their data was written: creation
// order, except that a merge's output segments come before the segments
// that outlived the merge. Every recovered segment stays immutable; Open's
// following rotate call creates the new active segment at the generation
// after the highest one loaded.
func (db *DB) recover() error {
	generations, err := manifest.Load(db.dir)
	if err != nil {
		return caskerr.NewOpenError(caskerr.CodeIO, fmt.Errorf("load manifest: %w", err))
	}
	if generations == nil {
		generations, err = segment.ScanDir(db.dir)
		if err != nil {
			return caskerr.NewOpenError(caskerr.CodeIO, fmt.Errorf("scan dir: %w", err))
		}
	}

	maxGen := -1
	for _, gen := range generations {
		seg, recs, err := segment.Recover(db.dir, gen, db.opts.verifyChecksums)
		if err != nil {
			return caskerr.NewOpenError(caskerr.CodeCorrupt, fmt.Errorf("recover segment %d: %w", gen, err))
		}

		db.segments[gen] = seg
		db.order = append(db.order, gen)
		if gen > maxGen {
			maxGen = gen
		}

		db.applyRecords(gen, recs)
	}

	db.nextGen.Store(int64(maxGen + 1))

	return nil
}

// applyRecords folds a single segment's scanned records into the keydir,
// in file order: a Put (over)writes the entry, a Tombstone removes it.
// Because segments are replayed in the order their data was written and
// records within a segment are already in write order, later writes always
// win.
func (db *DB) applyRecords(generation int, recs []record.Record) {
	for _, rec := range recs {
		key := string(rec.Key)
		switch rec.Kind {
		case record.KindPut:
			db.index.Put(key, keydir.Entry{
				Generation: generation,
				Offset:     rec.Offset,
				Length:     rec.Length,
			})
		case record.KindTombstone:
			db.index.Delete(key)
		}
	}
}
