package caskdb

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/caskdb/caskdb/internal/segment"
)

func TestSetAndGet(t *testing.T) {
	db, _ := setupTempDB(t, WithMergeEnabled(false))

	if err := db.Set([]byte("leader-node"), []byte("instance-a")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := db.Get([]byte("leader-node"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "instance-a" {
		t.Errorf("got %q, want instance-a", val)
	}
}

func TestOverwrite(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	_ = db.Set([]byte("k"), []byte("v1"))
	_ = db.Set([]byte("k"), []byte("v2"))

	val, err := db.Get([]byte("k"))
	if err != nil || string(val) != "v2" {
		t.Fatalf("got %q, %v, want v2", val, err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db2, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	val, err = db2.Get([]byte("k"))
	if err != nil || string(val) != "v2" {
		t.Errorf("after reopen got %q, %v, want v2", val, err)
	}
}

func TestKeyNotFound(t *testing.T) {
	db, _ := setupTempDB(t, WithMergeEnabled(false))

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestRemoveThenGetAbsent(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	_ = db.Set([]byte("k"), []byte("v"))
	if err := db.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after Remove: err = %v, want ErrKeyNotFound", err)
	}
	if err := db.Remove([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("second Remove: err = %v, want ErrKeyNotFound", err)
	}

	_ = db.Close()
	db2, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	if _, err := db2.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after reopen: err = %v, want ErrKeyNotFound", err)
	}
}

func TestManyKeysSurviveReopen(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	const n = 1000
	for i := 0; i < n; i++ {
		k, v := fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i)
		if err := db.Set([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	_ = db.Close()

	db2, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	for i := 0; i < n; i++ {
		k, want := fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i)
		got, err := db2.Get([]byte(k))
		if err != nil || string(got) != want {
			t.Fatalf("Get(%q) = %q, %v; want %q", k, got, err, want)
		}
	}
}

func TestRotationCreatesMultipleSegments(t *testing.T) {
	db, dir := setupTempDB(t, WithMaxActiveFileSize(1024), WithMergeEnabled(false))

	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := make([]byte, 180)
		if err := db.Set([]byte(k), v); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	segCount := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), segment.Suffix) {
			segCount++
		}
	}
	if segCount < 2 {
		t.Errorf("found %d segment files, want >= 2", segCount)
	}

	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("key-%03d", i)
		if _, err := db.Get([]byte(k)); err != nil {
			t.Errorf("Get(%q) after rotation: %v", k, err)
		}
	}
}

func TestRotationGenerationsStrictlyIncrease(t *testing.T) {
	db, _ := setupTempDB(t, WithMaxActiveFileSize(64), WithMergeEnabled(false))

	for i := 0; i < 20; i++ {
		_ = db.Set([]byte(fmt.Sprintf("k%02d", i)), []byte("0123456789"))
	}

	prev := -1
	for _, gen := range db.order {
		if gen <= prev {
			t.Fatalf("generations not strictly increasing: %v", db.order)
		}
		prev = gen
	}
}

func TestCrashTailTruncated(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	const n = 5
	for i := 0; i < n; i++ {
		if err := db.Set([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	lastGen := db.active.Generation
	fullSize := db.active.Size()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := segment.Path(dir, lastGen)
	if err := os.Truncate(path, fullSize-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	db2, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen after crash tail: %v", err)
	}
	defer db2.Close()

	for i := 0; i < n-1; i++ {
		k := fmt.Sprintf("k%d", i)
		if _, err := db2.Get([]byte(k)); err != nil {
			t.Errorf("Get(%q) should survive truncation: %v", k, err)
		}
	}
	if _, err := db2.Get([]byte(fmt.Sprintf("k%d", n-1))); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("last key should be absent after truncation, got err=%v", err)
	}

	if err := db2.Set([]byte("after-crash"), []byte("ok")); err != nil {
		t.Errorf("Set after crash-tail recovery should succeed: %v", err)
	}
}

func TestOpenTwiceFromSameProcessFailsWithLocked(t *testing.T) {
	db, dir := setupTempDB(t)

	_, err := Open(dir)
	if err == nil {
		t.Fatalf("expected second Open to fail while the first is held")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want wrapping ErrLocked", err)
	}

	_ = db // keep the first handle open for the duration of the check above
}

func TestDiskSize(t *testing.T) {
	db, _ := setupTempDB(t, WithMergeEnabled(false))

	before, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}
	if err := db.Set([]byte("k"), []byte("a long enough value to move the needle")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	after, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}
	if after <= before {
		t.Errorf("DiskSize did not grow: before=%d after=%d", before, after)
	}
}
