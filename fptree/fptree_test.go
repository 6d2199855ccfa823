package fptree

import (
	"fmt"
	"testing"
)

func TestFPTreePutGetManyKeys(t *testing.T) {
	mgr := newTestMgr(t)
	tree, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 1025
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		value := []byte(fmt.Sprintf("v%04d", i))
		if err := tree.Put(key, value); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		want := fmt.Sprintf("v%04d", i)

		value, found, err := tree.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !found || string(value) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
		}
	}

	if tree.RootSplitCount() == 0 {
		t.Fatal("inserting 1025 keys (32 slots/leaf) never caused a root split")
	}
}

// TestFPTreeMixedWorkload covers spec scenario S1: 1025 inserts, then a
// per-key mix of delete/overwrite/no-op, verifying every key resolves per
// "last write wins".
func TestFPTreeMixedWorkload(t *testing.T) {
	mgr := newTestMgr(t)
	tree, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 1025
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		value := []byte(fmt.Sprintf("v%04d", i))
		if err := tree.Put(key, value); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		switch {
		case i%3 == 0:
			if err := tree.Delete(key); err != nil {
				t.Fatalf("Delete #%d: %v", i, err)
			}
		case i%2 == 0:
			if err := tree.Put(key, []byte(fmt.Sprintf("new-v%04d", i))); err != nil {
				t.Fatalf("overwrite Put #%d: %v", i, err)
			}
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		value, found, err := tree.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}

		switch {
		case i%3 == 0:
			if !found || len(value) != 0 {
				t.Fatalf("Get(%s) = (%q, %v), want empty tombstone, found=true", key, value, found)
			}
		case i%2 == 0:
			want := fmt.Sprintf("new-v%04d", i)
			if !found || string(value) != want {
				t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
			}
		default:
			want := fmt.Sprintf("v%04d", i)
			if !found || string(value) != want {
				t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
			}
		}
	}

	if tree.RootSplitCount() == 0 {
		t.Fatal("mixed workload over 1025 keys never caused a root split")
	}
}

func TestFPTreeOverwriteAndDelete(t *testing.T) {
	mgr := newTestMgr(t)
	tree, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := tree.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tree.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("overwrite Put: %v", err)
	}

	value, found, err := tree.Get([]byte("k"))
	if err != nil || !found || string(value) != "v2" {
		t.Fatalf("Get after overwrite = (%q, %v, %v), want (v2, true, nil)", value, found, err)
	}

	if err := tree.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	value, found, err = tree.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !found || len(value) != 0 {
		t.Fatalf("Get after delete = (%q, %v), want empty tombstone, found=true", value, found)
	}
}

func TestFPTreeConcurrentWriters(t *testing.T) {
	mgr := newTestMgr(t)
	tree, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const workers = 8
	const perWorker = 64

	done := make(chan error, workers)
	for w := 0; w < workers; w++ {
		w := w
		go func() {
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%02d-k%03d", w, i))
				value := []byte(fmt.Sprintf("w%02d-v%03d", w, i))
				if err := tree.Put(key, value); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}

	for w := 0; w < workers; w++ {
		if err := <-done; err != nil {
			t.Fatalf("worker failed: %v", err)
		}
	}

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := []byte(fmt.Sprintf("w%02d-k%03d", w, i))
			want := fmt.Sprintf("w%02d-v%03d", w, i)

			value, found, err := tree.Get(key)
			if err != nil {
				t.Fatalf("Get(%s): %v", key, err)
			}
			if !found || string(value) != want {
				t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, value, found, want)
			}
		}
	}
}
