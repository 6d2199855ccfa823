package fptree

// Node is the tagged-sum interface implemented by *LeafNode and *InnerNode.
// A sum type is used in place of the trait-based node in the original
// implementation, per spec §9's stated preference for "fewer indirections,
// clearer exhaustiveness".
type Node interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()

	// MayNeedSplit reports whether the next insert routed through this
	// node could force a split - the lock-coupling "safe node" check.
	MayNeedSplit() bool

	node()
}
