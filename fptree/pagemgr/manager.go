// Package pagemgr implements the leaf page manager (spec §4.2): it owns the
// leaf file for a single (tree name, generation) pair, memory-maps the file,
// allocates fixed-size pages out of a free list, and serves aligned data
// reads/writes for specific (page_id, offset) locations.
//
// The mmap itself is handled by github.com/edsrzf/mmap-go, the same API the
// teacher repo hand-rolled on top of golang.org/x/sys (Map/RDWR/Flush/Unmap)
// — see DESIGN.md.
package pagemgr

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"fpkv/amphiserr"
	"fpkv/amphislog"
	"fpkv/codec"
	"fpkv/config"
)

// NumAllocation is the number of pages the leaf file grows by when the
// free list is empty.
const NumAllocation = 16

// Manager owns one leaf file for one (treeName, generation) pair.
type Manager struct {
	TreeName   string
	Generation uint64
	path       string

	file *os.File

	// resizeMu guards the data slice itself: remapping on growth takes it
	// exclusively, every read/write of mapped bytes takes it shared -
	// mirroring the teacher's RWResizeLock around mMap/munmap/resizeMmap.
	resizeMu sync.RWMutex
	data     mmap.MMap
	numPages uint32

	freeMu   sync.Mutex
	freeList []uint32

	liveMu sync.RWMutex
	live   map[uint32]struct{}

	log *amphislog.Logger
}

// Open ensures the leaf directory and backing file exist, memory-maps the
// file, and if it already had pages, recovers their headers.
func Open(cfg *config.Config, treeName string, generation uint64, log *amphislog.Logger) (*Manager, error) {
	dir := cfg.LeafDirPath(treeName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, amphiserr.NewIoError("mkdir leaf dir", err)
	}

	path := cfg.LeafFilePath(treeName, generation)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, amphiserr.NewIoError("open leaf file", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, amphiserr.NewIoError("stat leaf file", err)
	}

	m := &Manager{
		TreeName:   treeName,
		Generation: generation,
		path:       path,
		file:       file,
		live:       make(map[uint32]struct{}),
		log:        log,
	}

	numPages := uint32(stat.Size() / LeafSize)
	m.numPages = numPages

	if numPages > 0 {
		data, err := mmap.Map(file, mmap.RDWR, 0)
		if err != nil {
			file.Close()
			return nil, amphiserr.NewIoError("mmap leaf file", err)
		}
		m.data = data
		m.recover()
	} else {
		m.data = mmap.MMap{}
	}

	return m, nil
}

// recover scans every existing page's header: a page with a valid magic and
// a valid trailing CRC is accepted as live, any other is pushed onto the
// free list (spec §4.2 Recovery).
func (m *Manager) recover() {
	for id := uint32(0); id < m.numPages; id++ {
		start := uint64(id) * LeafSize
		region := m.data[start : start+HeaderSize]

		if _, ok := DeserializeHeader(region); ok {
			m.live[id] = struct{}{}
		} else {
			m.freeList = append(m.freeList, id)
		}
	}
}

// AllocateLeaf pops a free page id (growing the file if necessary) and
// returns a fresh header for it. The page is not live until CommitHeader is
// called.
func (m *Manager) AllocateLeaf() (uint32, *LeafHeader, error) {
	id, err := m.popFree()
	if err != nil {
		return 0, nil, err
	}
	return id, NewLeafHeader(), nil
}

// AllocateExtPage allocates a page as in AllocateLeaf, then walks the ext
// chain from leafID to its tail and links the new page on.
func (m *Manager) AllocateExtPage(leafID uint32) (uint32, error) {
	newID, header, err := m.AllocateLeaf()
	if err != nil {
		return 0, err
	}
	if err := m.CommitHeader(newID, header); err != nil {
		return 0, err
	}

	tailID := leafID
	tail, ok := m.GetHeader(tailID)
	if !ok {
		return 0, amphiserr.NewIoError("allocate ext page", os.ErrInvalid)
	}
	for tail.Ext != InvalidPageID {
		tailID = tail.Ext
		tail, ok = m.GetHeader(tailID)
		if !ok {
			return 0, amphiserr.NewIoError("allocate ext page", os.ErrInvalid)
		}
	}

	tail.Ext = newID
	if err := m.CommitHeader(tailID, tail); err != nil {
		return 0, err
	}

	return newID, nil
}

// GetHeader deserializes page_id's header from the mmap. Returns ok=false
// if no live mapping exists for page_id.
func (m *Manager) GetHeader(pageID uint32) (*LeafHeader, bool) {
	m.liveMu.RLock()
	_, isLive := m.live[pageID]
	m.liveMu.RUnlock()
	if !isLive {
		return nil, false
	}

	m.resizeMu.RLock()
	defer m.resizeMu.RUnlock()

	start := uint64(pageID) * LeafSize
	region := m.data[start : start+HeaderSize]
	return DeserializeHeader(region)
}

// CommitHeader serializes header with a trailing CRC, writes it into the
// mmap, flushes that region, and marks the page live.
func (m *Manager) CommitHeader(pageID uint32, header *LeafHeader) error {
	buf := header.Serialize()

	m.resizeMu.RLock()
	start := uint64(pageID) * LeafSize
	copy(m.data[start:start+HeaderSize], buf)
	flushErr := m.data[start : start+HeaderSize].Flush()
	m.resizeMu.RUnlock()

	if flushErr != nil {
		return amphiserr.NewIoError("flush leaf header", flushErr)
	}

	m.liveMu.Lock()
	m.live[pageID] = struct{}{}
	m.liveMu.Unlock()

	return nil
}

// ReadData reads the encoded pair at (page_id, offset), verifies both slot
// CRCs, and returns the decoded (key, value). A zero value_size returns
// (key, empty).
func (m *Manager) ReadData(pageID, offset, keySize, valueSize uint32) ([]byte, []byte, error) {
	total := codec.GetDataSize(int(keySize), int(valueSize))

	m.resizeMu.RLock()
	start := uint64(pageID)*LeafSize + uint64(offset)
	buf := make([]byte, total)
	copy(buf, m.data[start:start+uint64(total)])
	m.resizeMu.RUnlock()

	offs := codec.Offsets(int(keySize), int(valueSize))

	key, err := codec.VerifySlot(buf[offs.KeyStart:offs.KeyEnd])
	if err != nil {
		return nil, nil, err
	}

	if valueSize == 0 {
		return append([]byte(nil), key...), []byte{}, nil
	}

	value, err := codec.VerifySlot(buf[offs.ValueStart:offs.ValueEnd])
	if err != nil {
		return nil, nil, err
	}

	return append([]byte(nil), key...), append([]byte(nil), value...), nil
}

// WriteData writes the encoded pair at (page_id, offset). If the write
// would exceed EndTailOffset, ok is false and no bytes are written.
func (m *Manager) WriteData(pageID, offset uint32, key, value []byte) (newTail uint32, ok bool, err error) {
	encoded := codec.Format(key, value)
	aligned := codec.RoundUp(len(encoded))

	if offset+uint32(aligned) > EndTailOffset {
		return 0, false, nil
	}

	m.resizeMu.RLock()
	start := uint64(pageID)*LeafSize + uint64(offset)
	copy(m.data[start:start+uint64(len(encoded))], encoded)
	flushErr := m.data[start : start+uint64(len(encoded))].Flush()
	m.resizeMu.RUnlock()

	if flushErr != nil {
		return 0, false, amphiserr.NewIoError("flush leaf data", flushErr)
	}

	return offset + uint32(aligned), true, nil
}

// GetLeafIDChain follows Next pointers starting at page id 0 (the head
// leaf) and returns the ordered chain of leaf ids.
func (m *Manager) GetLeafIDChain() ([]uint32, error) {
	chain := []uint32{0}
	cur := uint32(0)

	for {
		h, ok := m.GetHeader(cur)
		if !ok {
			return nil, amphiserr.NewIoError("walk leaf chain", os.ErrInvalid)
		}
		if h.Next == InvalidPageID {
			break
		}
		cur = h.Next
		chain = append(chain, cur)
	}

	return chain, nil
}

// ExtPageChain follows Ext pointers starting at leafID and returns the full
// chain of page ids backing a single logical leaf (primary + extensions).
func (m *Manager) ExtPageChain(leafID uint32) ([]uint32, error) {
	chain := []uint32{leafID}
	cur := leafID

	for {
		h, ok := m.GetHeader(cur)
		if !ok {
			return nil, amphiserr.NewIoError("walk ext chain", os.ErrInvalid)
		}
		if h.Ext == InvalidPageID {
			break
		}
		cur = h.Ext
		chain = append(chain, cur)
	}

	return chain, nil
}

// popFree pops an id from the free list, growing the file by NumAllocation
// pages first if the list is empty.
func (m *Manager) popFree() (uint32, error) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()

	if len(m.freeList) == 0 {
		if err := m.grow(); err != nil {
			return 0, err
		}
	}

	// Pop from the front so a brand-new manager's first allocation is
	// always page id 0 - the FPTree's head leaf relies on that.
	id := m.freeList[0]
	m.freeList = m.freeList[1:]
	return id, nil
}

// grow extends the backing file by NumAllocation pages and remaps it,
// mirroring the teacher's unmap/truncate/remap resizeMmap sequence.
func (m *Manager) grow() error {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	if len(m.data) > 0 {
		if err := m.data.Unmap(); err != nil {
			return amphiserr.NewIoError("unmap leaf file", err)
		}
	}

	newSize := int64(m.numPages+NumAllocation) * LeafSize
	if err := m.file.Truncate(newSize); err != nil {
		return amphiserr.NewIoError("grow leaf file", err)
	}

	data, err := mmap.Map(m.file, mmap.RDWR, 0)
	if err != nil {
		return amphiserr.NewIoError("remap leaf file", err)
	}
	m.data = data

	for id := m.numPages; id < m.numPages+NumAllocation; id++ {
		m.freeList = append(m.freeList, id)
	}
	m.numPages += NumAllocation

	return nil
}

// Close unmaps and closes the leaf file without removing it.
func (m *Manager) Close() error {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	if len(m.data) > 0 {
		if err := m.data.Unmap(); err != nil {
			return amphiserr.NewIoError("unmap leaf file", err)
		}
	}
	if err := m.file.Close(); err != nil {
		return amphiserr.NewIoError("close leaf file", err)
	}
	return nil
}

// Remove closes the manager and deletes the backing leaf file, used once a
// frozen tree has been durably flushed into a table (spec §3 Lifecycles).
func (m *Manager) Remove() error {
	if err := m.Close(); err != nil {
		return err
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return amphiserr.NewIoError("remove leaf file", err)
	}
	return nil
}

// Path returns the backing leaf file path.
func (m *Manager) Path() string { return m.path }
