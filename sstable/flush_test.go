package sstable

import (
	"fmt"
	"testing"

	"fpkv/amphislog"
	"fpkv/config"
	"fpkv/fptree"
	"fpkv/fptree/pagemgr"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LeafDir = t.TempDir()
	cfg.TableDir = t.TempDir()
	return cfg
}

func TestFlushWriterProducesQueryableTable(t *testing.T) {
	cfg := newTestConfig(t)

	mgr, err := pagemgr.Open(cfg, "t1", 0, amphislog.Noop())
	if err != nil {
		t.Fatalf("pagemgr.Open: %v", err)
	}
	defer mgr.Close()

	tree, err := fptree.New(mgr)
	if err != nil {
		t.Fatalf("fptree.New: %v", err)
	}

	const n = 64
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		value := []byte(fmt.Sprintf("val-%03d", i))
		if err := tree.Put(key, value); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	writer := NewWriter(cfg, "t1", 0)
	info, err := writer.Flush(mgr)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if info.Level != 0 {
		t.Fatalf("flushed table level = %d, want 0", info.Level)
	}
	if info.ID%2 != 0 {
		t.Fatalf("flushed table id = %d, want an even id", info.ID)
	}

	set, err := Open(cfg, "t1")
	if err != nil {
		t.Fatalf("Open set: %v", err)
	}
	if err := set.Register(info); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		want := fmt.Sprintf("val-%03d", i)

		value, found, err := set.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !found || string(value) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
		}
	}

	if _, found, _ := set.Get([]byte("not-there")); found {
		t.Fatal("Get(not-there) reported found")
	}
}

func TestSetRecoversMetadataAfterReopen(t *testing.T) {
	cfg := newTestConfig(t)

	mgr, err := pagemgr.Open(cfg, "t1", 0, amphislog.Noop())
	if err != nil {
		t.Fatalf("pagemgr.Open: %v", err)
	}
	defer mgr.Close()

	tree, err := fptree.New(mgr)
	if err != nil {
		t.Fatalf("fptree.New: %v", err)
	}
	if err := tree.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	writer := NewWriter(cfg, "t1", 0)
	info, err := writer.Flush(mgr)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	set, err := Open(cfg, "t1")
	if err != nil {
		t.Fatalf("Open set: %v", err)
	}
	if err := set.Register(info); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reopened, err := Open(cfg, "t1")
	if err != nil {
		t.Fatalf("reopen set: %v", err)
	}
	if reopened.MaxTableID() != info.ID {
		t.Fatalf("reopened MaxTableID = %d, want %d", reopened.MaxTableID(), info.ID)
	}

	value, found, err := reopened.Get([]byte("k"))
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("Get(k) after reopen = (%q, %v, %v), want (v, true, nil)", value, found, err)
	}
}
