package fptree

import "github.com/pkg/errors"

// errNoFreeSlot is returned when a leaf's bitmap reports full but an insert
// still reaches insertLocal - a caller bug, since Insert always splits a
// full leaf before writing.
var errNoFreeSlot = errors.New("fptree: no free slot in leaf")
