package caskdb

import (
	"context"
	"fmt"
	"testing"
)

func TestMergeReclaimsSpace(t *testing.T) {
	db, _ := setupTempDB(t, WithMaxActiveFileSize(512), WithMergeEnabled(false))

	const n = 1000
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("value-%06d", i)
		if err := db.Set([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	before, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}

	if err := db.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	after, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}
	if after >= before {
		t.Errorf("DiskSize did not shrink: before=%d after=%d", before, after)
	}

	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after merge: %v", err)
	}
	if string(got) != fmt.Sprintf("value-%06d", n-1) {
		t.Errorf("Get after merge = %q, want last written value", got)
	}
}

func TestMergeEquivalencePreservesAllLiveKeys(t *testing.T) {
	db, _ := setupTempDB(t, WithMaxActiveFileSize(256), WithMergeEnabled(false))

	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%02d", i)
		if err := db.Set([]byte(k), []byte(fmt.Sprintf("v%02d", i))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	// overwrite half, delete a quarter
	for i := 0; i < 25; i++ {
		k := fmt.Sprintf("k%02d", i)
		if err := db.Set([]byte(k), []byte("overwritten")); err != nil {
			t.Fatalf("overwrite Set(%d): %v", i, err)
		}
	}
	for i := 25; i < 37; i++ {
		k := fmt.Sprintf("k%02d", i)
		if err := db.Remove([]byte(k)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	before := map[string]string{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%02d", i)
		v, err := db.Get([]byte(k))
		if err == nil {
			before[k] = string(v)
		}
	}

	if err := db.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	for k, want := range before {
		got, err := db.Get([]byte(k))
		if err != nil {
			t.Errorf("Get(%q) after merge failed: %v", k, err)
			continue
		}
		if string(got) != want {
			t.Errorf("Get(%q) after merge = %q, want %q", k, got, want)
		}
	}
	for i := 25; i < 37; i++ {
		k := fmt.Sprintf("k%02d", i)
		if _, err := db.Get([]byte(k)); err == nil {
			t.Errorf("deleted key %q should remain absent after merge", k)
		}
	}
}

func TestMergeWithNoImmutableSegmentsIsNoop(t *testing.T) {
	db, _ := setupTempDB(t, WithMergeEnabled(false))

	_ = db.Set([]byte("k"), []byte("v"))
	if err := db.Merge(context.Background()); err != nil {
		t.Fatalf("Merge on a single active segment should be a no-op, got: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Errorf("Get after no-op merge = %q, %v", got, err)
	}
}

func TestMergeKeepsLatestOverwrite(t *testing.T) {
	db, _ := setupTempDB(t, WithMaxActiveFileSize(64), WithMergeEnabled(false))

	for i := 0; i < 10; i++ {
		if err := db.Set([]byte("k"), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	// The final write pushes the third segment past the 64-byte limit, so
	// that segment rotates and "final" is itself part of the merge's input
	// set; the merge must carry it, not an older value, into its output.
	if err := db.Set([]byte("k"), []byte("final")); err != nil {
		t.Fatalf("final Set: %v", err)
	}

	if err := db.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "final" {
		t.Errorf("Get after merge = %q, %v, want final", got, err)
	}
}
