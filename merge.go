package caskdb

import (
	"context"
	"fmt"

	"github.com/caskdb/caskdb/internal/keydir"
	"github.com/caskdb/caskdb/internal/record"
	"github.com/caskdb/caskdb/internal/segment"
	"github.com/caskdb/caskdb/pkg/caskerr"
)

// mergeOutput accumulates the segments written by an in-progress merge and
// the pending keydir changes they imply, so the publish step (§4.6) can
// apply everything in one pass while holding db.mu.
type mergeOutput struct {
	segments []*segment.Segment
	// pending maps a key to its location before the merge touched it and
	// the new location the merge wrote it to. Publish only applies a
	// change when the key's current keydir entry still equals the
	// "before" location, so a concurrent Set/Remove always wins.
	pending map[string]pendingChange
}

type pendingChange struct {
	before keydir.Entry
	after  keydir.Entry
}

// triggerAsyncMerge starts a background merge unless one is already
// running, using a 1-buffered semaphore as a non-blocking debounce. Errors
// from the background run are delivered on MergeErrors rather than
// returned, since nothing synchronously called this path.
func (db *DB) triggerAsyncMerge() {
	select {
	case db.mergeSem <- struct{}{}:
		go func() {
			defer func() { <-db.mergeSem }()
			if err := db.Merge(context.Background()); err != nil {
				select {
				case db.mergeErr <- err:
				default:
				}
			}
		}()
	default:
		// a merge is already in flight; this rollover's worth of
		// growth will be picked up by it or the next one.
	}
}

// MergeErrors returns a channel that receives errors from merges started
// automatically by WithMergeEnabled. Synchronous Merge calls return their
// error directly and never populate this channel.
func (db *DB) MergeErrors() <-chan error { return db.mergeErr }

// Merge rewrites every immutable segment's live entries into a new, dense
// set of segments, then atomically swaps them in. The active segment is
// never touched: writes continue to land on it throughout.
func (db *DB) Merge(ctx context.Context) (rerr error) {
	db.mu.RLock()
	inputGens := make([]int, 0, len(db.order))
	for _, gen := range db.order {
		if db.active == nil || gen != db.active.Generation {
			inputGens = append(inputGens, gen)
		}
	}
	db.mu.RUnlock()

	if len(inputGens) == 0 {
		return nil
	}

	out := &mergeOutput{pending: make(map[string]pendingChange)}

	defer func() {
		if rerr != nil {
			db.abortMerge(out)
		}
	}()

	outSeg, err := db.rolloverMergeSegment(out)
	if err != nil {
		return caskerr.NewMergeError(caskerr.CodeIO, err)
	}

	for _, gen := range inputGens {
		select {
		case <-ctx.Done():
			return caskerr.NewMergeError(caskerr.CodeIO, ctx.Err())
		default:
		}

		db.mu.RLock()
		inSeg := db.segments[gen]
		db.mu.RUnlock()

		sc := inSeg.NewScanner(false) // merge does not re-verify checksums
		for sc.Scan() {
			rec := sc.Record()
			key := string(rec.Key)

			cur, ok := db.index.Get(key)
			if !ok {
				continue // deleted or never live by the time we got here
			}
			if cur.Generation != gen || cur.Offset != rec.Offset {
				continue // a newer copy of this key exists elsewhere; skip
			}
			if rec.Kind != record.KindPut {
				continue // shouldn't happen: keydir only points at Puts
			}

			if outSeg.Size() >= db.opts.maxActiveFileSize {
				if outSeg, err = db.rolloverMergeSegment(out); err != nil {
					return caskerr.NewMergeError(caskerr.CodeIO, err)
				}
			}

			newOff, err := outSeg.Append(record.KindPut, rec.Key, rec.Value)
			if err != nil {
				return caskerr.NewMergeError(caskerr.CodeIO, err)
			}

			out.pending[key] = pendingChange{
				before: cur,
				after: keydir.Entry{
					Generation: outSeg.Generation,
					Offset:     newOff,
					Length:     int64(record.HeaderLen + len(rec.Key) + len(rec.Value)),
					Timestamp:  cur.Timestamp,
				},
			}
		}
		if err := sc.Err(); err != nil {
			return caskerr.NewMergeError(caskerr.CodeCorrupt, fmt.Errorf("scan segment %d: %w", gen, err))
		}
	}

	for _, seg := range out.segments {
		if err := seg.Sync(); err != nil {
			return caskerr.NewMergeError(caskerr.CodeIO, err)
		}
	}

	// Everything from here on — keydir publish, segment-set swap, manifest
	// rewrite, and unlinking the merged-away segments — happens under one
	// write-lock hold. The active segment may have rotated one or more
	// times while this merge was scanning (the async path never holds
	// db.mu across the scan), so db.order can hold segments that are
	// neither an input to this merge nor the current active one; those
	// survive untouched below. And because a Get holds the same lock for
	// RLock across its own segment lookup and decode, no reader can ever
	// observe a segment after it's removed here, or before it's replaced.
	db.mu.Lock()
	for key, change := range out.pending {
		db.index.CompareAndSwap(key, change.before, change.after)
	}

	inputSet := make(map[int]bool, len(inputGens))
	for _, gen := range inputGens {
		inputSet[gen] = true
	}
	survivors := make([]int, 0, len(db.order))
	for _, gen := range db.order {
		if !inputSet[gen] {
			survivors = append(survivors, gen)
		}
	}

	newOrder := make([]int, 0, len(survivors)+len(out.segments))
	for _, seg := range out.segments {
		db.segments[seg.Generation] = seg
		newOrder = append(newOrder, seg.Generation)
	}
	newOrder = append(newOrder, survivors...)
	db.order = newOrder

	oldSegs := make([]*segment.Segment, 0, len(inputGens))
	for _, gen := range inputGens {
		oldSegs = append(oldSegs, db.segments[gen])
		delete(db.segments, gen)
	}

	if err := db.writeManifestLocked(); err != nil {
		db.mu.Unlock()
		return caskerr.NewMergeError(caskerr.CodeIO, err)
	}

	for _, oldSeg := range oldSegs {
		if err := oldSeg.Remove(db.dir); err != nil {
			db.log.Warnw("failed to remove merged segment", "generation", oldSeg.Generation, "error", err)
		}
	}
	db.mu.Unlock()

	db.log.Infow("merge complete", "inputs", len(inputGens), "outputs", len(out.segments))

	return nil
}

func (db *DB) rolloverMergeSegment(out *mergeOutput) (*segment.Segment, error) {
	gen := int(db.nextGen.Add(1)) - 1
	seg, err := segment.Create(db.dir, gen)
	if err != nil {
		return nil, fmt.Errorf("create merge segment %d: %w", gen, err)
	}
	out.segments = append(out.segments, seg)
	return seg, nil
}

// abortMerge discards every segment the failed merge had started writing.
// The live keydir was never touched (publish happens only after a full,
// successful pass), so nothing else needs rolling back.
func (db *DB) abortMerge(out *mergeOutput) {
	for _, seg := range out.segments {
		if err := seg.Remove(db.dir); err != nil {
			db.log.Warnw("failed to clean up aborted merge segment", "generation", seg.Generation, "error", err)
		}
	}
}
