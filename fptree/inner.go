package fptree

import (
	"bytes"
	"sort"
	"sync"
)

// Fanout bounds an inner node's key count (spec §4.4: "a small constant,
// e.g. 3-16").
const Fanout = 8

// InnerNode is a fixed-fanout routing node: sorted separator keys and
// children, len(children) == len(keys)+1. next is the transient sibling
// link used only in the instant between a split and the parent splicing
// the sibling in.
type InnerNode struct {
	mu sync.RWMutex

	keys     [][]byte
	children []Node

	next *InnerNode
}

func (n *InnerNode) node() {}

func (n *InnerNode) Lock()    { n.mu.Lock() }
func (n *InnerNode) Unlock()  { n.mu.Unlock() }
func (n *InnerNode) RLock()   { n.mu.RLock() }
func (n *InnerNode) RUnlock() { n.mu.RUnlock() }

// MayNeedSplit reports whether this inner node is already at Fanout keys -
// the next propagated split is guaranteed to overflow it.
func (n *InnerNode) MayNeedSplit() bool { return len(n.keys) == Fanout }

// GetChild routes key to a child: on an exact separator match, the child
// just past it; otherwise the child at the key's sort position.
func (n *InnerNode) GetChild(key []byte) Node {
	idx := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(n.keys[i], key) >= 0 })

	if idx < len(n.keys) && bytes.Equal(n.keys[idx], key) {
		return n.children[idx+1]
	}
	return n.children[idx]
}

// Insert splices splitKey and newChild into this node at splitKey's sort
// position, splitting this node if that overflows Fanout. Returns the key
// and sibling to propagate further upward, or (nil, nil) if no further
// propagation is needed.
func (n *InnerNode) Insert(splitKey []byte, newChild Node) ([]byte, *InnerNode, error) {
	pos := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(n.keys[i], splitKey) >= 0 })

	n.keys = append(n.keys, nil)
	copy(n.keys[pos+1:], n.keys[pos:])
	n.keys[pos] = splitKey

	n.children = append(n.children, nil)
	copy(n.children[pos+2:], n.children[pos+1:])
	n.children[pos+1] = newChild

	if len(n.keys) <= Fanout {
		return nil, nil, nil
	}

	return n.split()
}

// split divides an overflowed (Fanout+1)-key inner node at
// ceil((Fanout+1)/2): the middle key is consumed as the new separator
// returned upward, the lower half stays in n, the upper half moves to a
// fresh sibling spliced into the next-chain.
func (n *InnerNode) split() ([]byte, *InnerNode, error) {
	mid := (Fanout + 2) / 2

	splitKey := n.keys[mid]

	lowerKeys := append([][]byte(nil), n.keys[:mid]...)
	lowerChildren := append([]Node(nil), n.children[:mid+1]...)

	upperKeys := append([][]byte(nil), n.keys[mid+1:]...)
	upperChildren := append([]Node(nil), n.children[mid+1:]...)

	sibling := &InnerNode{keys: upperKeys, children: upperChildren, next: n.next}

	n.keys = lowerKeys
	n.children = lowerChildren
	n.next = sibling

	return splitKey, sibling, nil
}
