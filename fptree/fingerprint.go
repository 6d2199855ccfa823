package fptree

import "hash/fnv"

// fingerprint returns the low byte of a 64-bit FNV-1a hash of key. Spec §9
// leaves the exact hash function open, requiring only "any fast hash whose
// low byte is well-mixed" — FNV-1a is stdlib and satisfies that; see
// DESIGN.md for why the standard library is used here instead of a
// pack-grounded third-party hash.
func fingerprint(key []byte) byte {
	h := fnv.New64a()
	h.Write(key)
	return byte(h.Sum64())
}
