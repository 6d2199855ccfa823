// Package fptree implements the FPTree: hash-fingerprinted leaves over the
// leaf page manager, fixed-fanout inner routing nodes, and the lock-coupled
// top-down tree itself (spec §4.3-§4.5).
package fptree

import (
	"bytes"
	"sort"
	"sync"

	"fpkv/fptree/pagemgr"
)

// LeafNode wraps a primary page (plus its chain of extension pages) with a
// fingerprint array and in-page slot bitmap. State mirrors spec §4.3: a
// page manager reference, an owned in-RAM header, the primary page id, the
// current write page id, an optional next-leaf reference, and a root flag.
type LeafNode struct {
	mgr *pagemgr.Manager

	mu     sync.RWMutex
	header *pagemgr.LeafHeader

	primaryID uint32
	writeID   uint32

	next   *LeafNode
	isRoot bool
}

func (n *LeafNode) node() {}

// Lock/Unlock/RLock/RUnlock satisfy Node for lock-coupled traversal.
func (n *LeafNode) Lock()    { n.mu.Lock() }
func (n *LeafNode) Unlock()  { n.mu.Unlock() }
func (n *LeafNode) RLock()   { n.mu.RLock() }
func (n *LeafNode) RUnlock() { n.mu.RUnlock() }

// MayNeedSplit reports whether this leaf's bitmap is already full - the
// next insert into it is guaranteed to trigger a split.
func (n *LeafNode) MayNeedSplit() bool { return n.header.Full() }

// NewHeadLeaf allocates and commits the very first leaf of a brand-new
// tree generation. The page manager's free-list policy guarantees this
// page id is 0.
func NewHeadLeaf(mgr *pagemgr.Manager) (*LeafNode, error) {
	id, header, err := mgr.AllocateLeaf()
	if err != nil {
		return nil, err
	}

	n := &LeafNode{mgr: mgr, header: header, primaryID: id, writeID: id, isRoot: true}
	if err := mgr.CommitHeader(id, header); err != nil {
		return nil, err
	}

	return n, nil
}

// Insert implements spec §4.3 insert: invalidate any existing version of
// key, split if full, allocate a slot, write the pair, commit. Returns the
// split key and new sibling if a split occurred, for the caller (the
// FPTree's unwind) to propagate into the parent inner node.
func (n *LeafNode) Insert(key, value []byte) (splitKey []byte, sibling *LeafNode, err error) {
	if err := n.invalidateExisting(key); err != nil {
		return nil, nil, err
	}

	if n.header.Full() {
		sib, sKey, err := n.split()
		if err != nil {
			return nil, nil, err
		}

		if err := n.mgr.CommitHeader(n.primaryID, n.header); err != nil {
			return nil, nil, err
		}

		if bytes.Compare(sKey, key) <= 0 {
			if err := sib.insertLocal(key, value); err != nil {
				return nil, nil, err
			}
		} else {
			if err := n.insertLocal(key, value); err != nil {
				return nil, nil, err
			}
		}

		return sKey, sib, nil
	}

	if err := n.insertLocal(key, value); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// invalidateExisting clears the bitmap bit of any previous version of key
// without yet committing - the in-RAM header is updated only.
func (n *LeafNode) invalidateExisting(key []byte) error {
	fp := fingerprint(key)

	for s := 0; s < pagemgr.NumSlot; s++ {
		if !n.header.BitSet(s) || n.header.Fingerprints[s] != fp {
			continue
		}

		kv := n.header.KVInfo[s]
		existing, _, err := n.mgr.ReadData(kv.PageID, kv.Offset, kv.KeySize, kv.ValueSize)
		if err != nil {
			return err
		}

		if bytes.Equal(existing, key) {
			n.header.ClearBit(s)
			return nil
		}
	}

	return nil
}

// insertLocal allocates the lowest-index free slot, writes the pair
// (extending the page chain as needed), and commits this leaf's header.
func (n *LeafNode) insertLocal(key, value []byte) error {
	slot := n.header.FirstClearSlot()
	if slot < 0 {
		return errNoFreeSlot
	}

	curPage := n.writeID
	tailOffset := n.header.TailOffset

	for {
		newTail, ok, err := n.mgr.WriteData(curPage, tailOffset, key, value)
		if err != nil {
			return err
		}

		if ok {
			n.header.SetBit(slot)
			n.header.Fingerprints[slot] = fingerprint(key)
			n.header.KVInfo[slot] = pagemgr.KVInfo{
				PageID:    curPage,
				Offset:    tailOffset,
				KeySize:   uint32(len(key)),
				ValueSize: uint32(len(value)),
			}
			n.writeID = curPage
			n.header.TailOffset = newTail
			break
		}

		newPageID, err := n.mgr.AllocateExtPage(n.primaryID)
		if err != nil {
			return err
		}

		refreshed, ok := n.mgr.GetHeader(n.primaryID)
		if ok {
			n.header.Ext = refreshed.Ext
		}

		curPage = newPageID
		tailOffset = pagemgr.InitialTailOffset
	}

	return n.mgr.CommitHeader(n.primaryID, n.header)
}

// Get returns the value stored for key, or found=false if no slot's
// fingerprint+key match.
func (n *LeafNode) Get(key []byte) (value []byte, found bool, err error) {
	fp := fingerprint(key)

	for s := 0; s < pagemgr.NumSlot; s++ {
		if !n.header.BitSet(s) || n.header.Fingerprints[s] != fp {
			continue
		}

		kv := n.header.KVInfo[s]
		k, v, err := n.mgr.ReadData(kv.PageID, kv.Offset, kv.KeySize, kv.ValueSize)
		if err != nil {
			return nil, false, err
		}

		if bytes.Equal(k, key) {
			return v, true, nil
		}
	}

	return nil, false, nil
}

// Delete writes a tombstone (empty value) for key.
func (n *LeafNode) Delete(key []byte) error {
	_, _, err := n.Insert(key, []byte{})
	return err
}

type occupiedSlot struct {
	slot int
	key  []byte
	fp   byte
	kv   pagemgr.KVInfo
}

// split moves the upper half of this leaf's occupied slots (by sorted key
// order) into a freshly allocated sibling, splices the sibling into the
// next-chain, and returns (sibling, splitKey). Since every page in a tree
// generation's leaf file is addressable by any leaf (kv_info.PageID is a
// global page id), moving a slot is pure metadata - no bytes are rewritten.
func (n *LeafNode) split() (*LeafNode, []byte, error) {
	var items []occupiedSlot

	for s := 0; s < pagemgr.NumSlot; s++ {
		if !n.header.BitSet(s) {
			continue
		}
		kv := n.header.KVInfo[s]
		key, _, err := n.mgr.ReadData(kv.PageID, kv.Offset, kv.KeySize, kv.ValueSize)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, occupiedSlot{slot: s, key: key, fp: n.header.Fingerprints[s], kv: kv})
	}

	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].key, items[j].key) < 0 })

	mid := len(items) / 2
	splitKey := items[mid].key
	upper := items[mid:]

	siblingID, siblingHeader, err := n.mgr.AllocateLeaf()
	if err != nil {
		return nil, nil, err
	}

	for i, it := range upper {
		siblingHeader.SetBit(i)
		siblingHeader.Fingerprints[i] = it.fp
		siblingHeader.KVInfo[i] = it.kv
		n.header.ClearBit(it.slot)
	}

	oldNext := n.next
	if oldNext != nil {
		siblingHeader.Next = oldNext.primaryID
	} else {
		siblingHeader.Next = pagemgr.InvalidPageID
	}

	sibling := &LeafNode{mgr: n.mgr, header: siblingHeader, primaryID: siblingID, writeID: siblingID, next: oldNext}

	if err := n.mgr.CommitHeader(siblingID, siblingHeader); err != nil {
		return nil, nil, err
	}

	n.next = sibling
	n.header.Next = siblingID

	return sibling, splitKey, nil
}
