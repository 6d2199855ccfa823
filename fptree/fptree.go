package fptree

import (
	"sync"
	"sync/atomic"

	"fpkv/fptree/pagemgr"
)

// rootHolder is the pointer-to-pointer-to-root indirection from spec §4.5:
// wrapping the root Node in a struct lets the FPTree atomically swap it on
// a root split without requiring Node itself to be a concrete pointer type.
type rootHolder struct {
	node Node
}

// FPTree is the hash-fingerprinted leaf tree over one leaf page manager
// generation: a lock-coupled top-down router from root to leaf, splitting
// nodes on overflow and replacing the root on a root split.
type FPTree struct {
	mgr *pagemgr.Manager

	rootPtr atomic.Pointer[rootHolder]
	rootMu  sync.RWMutex // guards the "root pointer" cell during possible root replacement

	latchMu sync.Mutex // guards collecting per-node write guards for one operation

	splitMu        sync.Mutex
	rootSplitCount uint32
}

// New builds a brand-new FPTree generation: a single head leaf is both the
// tree's head-leaf reference and its initial root.
func New(mgr *pagemgr.Manager) (*FPTree, error) {
	head, err := NewHeadLeaf(mgr)
	if err != nil {
		return nil, err
	}

	t := &FPTree{mgr: mgr}
	t.storeRoot(head)
	return t, nil
}

func (t *FPTree) loadRoot() Node   { return t.rootPtr.Load().node }
func (t *FPTree) storeRoot(n Node) { t.rootPtr.Store(&rootHolder{node: n}) }

// RootSplitCount returns the number of root splits this generation has
// undergone - the flush trigger compares this against the configured
// threshold.
func (t *FPTree) RootSplitCount() uint32 {
	t.splitMu.Lock()
	defer t.splitMu.Unlock()
	return t.rootSplitCount
}

// Put inserts or overwrites key with value.
func (t *FPTree) Put(key, value []byte) error {
	return t.upsert(key, value)
}

// Delete writes a tombstone (empty value) for key.
func (t *FPTree) Delete(key []byte) error {
	return t.upsert(key, []byte{})
}

// Get performs a read-latched top-down lookup, releasing each inner node's
// latch before latching its child.
func (t *FPTree) Get(key []byte) ([]byte, bool, error) {
	cur := t.loadRoot()

	for {
		inner, ok := cur.(*InnerNode)
		if !ok {
			break
		}
		inner.RLock()
		child := inner.GetChild(key)
		inner.RUnlock()
		cur = child
	}

	leaf := cur.(*LeafNode)
	leaf.RLock()
	defer leaf.RUnlock()
	return leaf.Get(key)
}

// upsert implements spec §4.5's write path: an exclusive root-pointer lock,
// a latched top-down path collection with write guards accumulated and
// pruned at the first "safe" (not-about-to-split) node, an unwind from leaf
// to root propagating any split, and a possible root replacement.
//
// The root-pointer lock is taken exclusively at entry and released as soon
// as the pruned path no longer includes the root: a node found "safe" by
// MayNeedSplit() is, by construction, not full, so it can never be forced to
// split by absorbing a single propagated insert/split-key. That means root
// replacement (the final `if splitKey != nil` branch below) is only ever
// reachable when the root itself is still in held - i.e. when rootStillHeld
// is true - and rootMu is then still held exclusively for the pointer swap.
// Writers whose pruned path excludes the root run the rest of the operation
// without rootMu.
func (t *FPTree) upsert(key, value []byte) error {
	t.rootMu.Lock()
	haveRootLock := true
	defer func() {
		if haveRootLock {
			t.rootMu.Unlock()
		}
	}()

	t.latchMu.Lock()

	root := t.loadRoot()
	path := []Node{root}
	cur := root
	for {
		inner, ok := cur.(*InnerNode)
		if !ok {
			break
		}
		cur = inner.GetChild(key)
		path = append(path, cur)
	}

	held := make([]Node, 0, len(path))
	for _, node := range path {
		node.Lock()
		held = append(held, node)

		if !node.MayNeedSplit() {
			for _, h := range held[:len(held)-1] {
				h.Unlock()
			}
			held = []Node{node}
		}
	}

	rootStillHeld := len(held) > 0 && held[0] == path[0]

	t.latchMu.Unlock()

	if !rootStillHeld {
		t.rootMu.Unlock()
		haveRootLock = false
	}

	unlockAll := func() {
		for _, h := range held {
			h.Unlock()
		}
	}

	// The path always ends at a leaf: the top-down walk above only appends
	// a child while the current node is an *InnerNode.
	leaf := held[len(held)-1].(*LeafNode)

	splitKey, sibling, err := leaf.Insert(key, value)
	if err != nil {
		unlockAll()
		return err
	}

	var carryChild Node
	if sibling != nil {
		carryChild = sibling
	}

	for i := len(held) - 2; i >= 0 && splitKey != nil; i-- {
		inner, ok := held[i].(*InnerNode)
		if !ok {
			break
		}

		sKey, newInner, ierr := inner.Insert(splitKey, carryChild)
		if ierr != nil {
			unlockAll()
			return ierr
		}

		splitKey = sKey
		if newInner != nil {
			carryChild = newInner
		} else {
			carryChild = nil
		}
	}

	if splitKey != nil {
		// rootStillHeld is guaranteed true here - see the invariant noted in
		// upsert's doc comment - so the exclusive lock taken at entry is
		// still ours.
		oldRoot := held[0]
		if leafRoot, ok := oldRoot.(*LeafNode); ok {
			leafRoot.isRoot = false
		}

		newRoot := &InnerNode{keys: [][]byte{splitKey}, children: []Node{oldRoot, carryChild}}
		t.storeRoot(newRoot)
		t.rootMu.Unlock()
		haveRootLock = false

		t.splitMu.Lock()
		t.rootSplitCount++
		t.splitMu.Unlock()
	}

	unlockAll()
	return nil
}
