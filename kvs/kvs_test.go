package kvs

import (
	"fmt"
	"testing"
	"time"

	"fpkv/amphislog"
	"fpkv/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LeafDir = t.TempDir()
	cfg.TableDir = t.TempDir()
	cfg.RootSplitThreshold = 2 // force a flush quickly within the test
	return cfg
}

func TestKVSPutGetDelete(t *testing.T) {
	cfg := newTestConfig(t)

	store, err := Open(cfg, "t1", amphislog.Noop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	value, found, err := store.Get([]byte("k"))
	if err != nil || !found || string(value) != "v1" {
		t.Fatalf("Get = (%q, %v, %v), want (v1, true, nil)", value, found, err)
	}

	if err := store.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, found, err := store.Get([]byte("k")); err != nil || found {
		t.Fatalf("Get after delete = (found=%v, err=%v), want (false, nil)", found, err)
	}

	if _, found, err := store.Get([]byte("never-inserted")); err != nil || found {
		t.Fatalf("Get(never-inserted) = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

// TestKVSFlushesAcrossTreeGenerations forces enough root splits to trigger
// the background flush worker, then confirms every key is still readable
// once it has migrated from the FPTree manager into the SSTable set.
func TestKVSFlushesAcrossTreeGenerations(t *testing.T) {
	cfg := newTestConfig(t)

	store, err := Open(cfg, "t1", amphislog.Noop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	const n = 2000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		value := []byte(fmt.Sprintf("v%05d", i))
		if err := store.Put(key, value); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	// The flush worker runs asynchronously; give it a moment to drain at
	// least one generation before asserting on its effects.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.tables.MaxTableID() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if store.tables.MaxTableID() == 0 {
		t.Fatal("no flush occurred after 2000 puts with RootSplitThreshold=2")
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		want := fmt.Sprintf("v%05d", i)

		value, found, err := store.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !found || string(value) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
		}
	}
}

// TestKVSTombstoneShadowsFlushedValue covers spec scenario S4: a value
// flushed into an SSTable, then deleted in the live tree, must report
// not-found - the live tombstone shadows the older on-disk value.
func TestKVSTombstoneShadowsFlushedValue(t *testing.T) {
	cfg := newTestConfig(t)

	store, err := Open(cfg, "t1", amphislog.Noop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Force enough root splits to cross RootSplitThreshold=2 and trigger a
	// flush of this generation into a table.
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("filler-%04d", i))
		if err := store.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put filler #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.tables.MaxTableID() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if store.tables.MaxTableID() == 0 {
		t.Fatal("no flush occurred before deleting x")
	}

	value, found, err := store.Get([]byte("x"))
	if err != nil || !found || string(value) != "1" {
		t.Fatalf("Get(x) before delete = (%q, %v, %v), want (1, true, nil)", value, found, err)
	}

	if err := store.Delete([]byte("x")); err != nil {
		t.Fatalf("Delete(x): %v", err)
	}

	if _, found, err := store.Get([]byte("x")); err != nil || found {
		t.Fatalf("Get(x) after delete = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestKVSRecoversOrphanLeafOnReopen(t *testing.T) {
	cfg := newTestConfig(t)

	store, err := Open(cfg, "t1", amphislog.Noop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// No Close/flush: simulate a crash, leaving generation-0's leaf file on
	// disk for the next Open to recover via startup-flush.

	reopened, err := Open(cfg, "t1", amphislog.Noop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	value, found, err := reopened.Get([]byte("k"))
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("Get(k) after orphan recovery = (%q, %v, %v), want (v, true, nil)", value, found, err)
	}
}
