// Package sstable implements the level-0 immutable table set (spec §4.6
// Sparse index, §4.7 Flush writer, §4.8 SSTable set): per-table bloom
// filters and sparse offset indexes, metadata persistence, and level-wise
// point lookup.
package sstable

import (
	"bytes"
	"sort"
)

// LeastOffset is the minimum byte distance between two retained sparse
// index entries - a stride-sampled index, not a full one.
const LeastOffset uint64 = 256 * 1024

// sparseEntry is one (key, offset) pair kept in ascending key order.
type sparseEntry struct {
	key    []byte
	offset uint64
}

// SparseIndex maps key to the greatest indexed key's byte offset that is
// less than or equal to key, via a stride-sampled ordered list.
type SparseIndex struct {
	entries    []sparseEntry
	prevOffset uint64
	hasPrev    bool
}

// NewSparseIndex returns an empty index.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{}
}

// Insert records (key, offset) if this is the first entry or offset has
// advanced at least LeastOffset past the previously retained offset.
func (s *SparseIndex) Insert(key []byte, offset uint64) {
	if s.hasPrev && offset-s.prevOffset < LeastOffset {
		return
	}

	k := append([]byte(nil), key...)
	s.entries = append(s.entries, sparseEntry{key: k, offset: offset})
	s.prevOffset = offset
	s.hasPrev = true
}

// Get returns the offset for the greatest indexed key <= key, and whether
// any such entry exists (false only for an empty index, since the flush
// writer always indexes the table's minimum key).
func (s *SparseIndex) Get(key []byte) (uint64, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool { return bytes.Compare(s.entries[i].key, key) > 0 })
	if idx == 0 {
		return 0, false
	}
	return s.entries[idx-1].offset, true
}

// Len returns the number of retained entries.
func (s *SparseIndex) Len() int { return len(s.entries) }
