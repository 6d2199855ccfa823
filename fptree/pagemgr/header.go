package pagemgr

import (
	"encoding/binary"

	"fpkv/codec"
)

// NumSlot is the number of key/value slots a leaf header can index.
const NumSlot = 32

// InvalidPageID is the sentinel meaning "no such page" for Next/Ext links.
const InvalidPageID uint32 = 0xFFFFFFFF

// HeaderMagic validates a leaf page header on recovery.
const HeaderMagic uint32 = 0x1234

// LeafSize is the fixed size of one leaf page.
const LeafSize = 1 << 20 // 1 MiB

// HeaderSize is the reserved header region at the front of every page; the
// data arena begins immediately after it. It equals DataAlignment so the
// first legal write offset (INITIAL_TAIL_OFFSET) lines up with the first
// aligned byte following the header.
const HeaderSize = codec.DataAlignment

// InitialTailOffset is the first legal write offset in a page's data arena.
const InitialTailOffset uint32 = codec.DataAlignment

// EndTailOffset is the last legal aligned tail offset in a page.
const EndTailOffset uint32 = LeafSize - codec.DataAlignment

const (
	hdrMagicOff   = 0
	hdrBitmapOff  = 4
	hdrNextOff    = 8
	hdrExtOff     = 12
	hdrTailOff    = 16
	hdrFingerOff  = 20
	hdrKVInfoOff  = hdrFingerOff + NumSlot // 52
	kvInfoWidth   = 16                     // pageID, offset, keySize, valueSize (4 x u32)
	hdrContentEnd = hdrKVInfoOff + NumSlot*kvInfoWidth
)

// KVInfo locates one slot's key/value pair inside the owning leaf's chain.
type KVInfo struct {
	PageID    uint32
	Offset    uint32
	KeySize   uint32
	ValueSize uint32
}

// LeafHeader is the in-RAM working copy of a leaf page header (spec §3).
type LeafHeader struct {
	Magic        uint32
	Bitmap       uint32
	Next         uint32
	Ext          uint32
	TailOffset   uint32
	Fingerprints [NumSlot]byte
	KVInfo       [NumSlot]KVInfo
}

// NewLeafHeader returns a fresh header with sentinels set, ready to be
// filled in by a leaf node and committed.
func NewLeafHeader() *LeafHeader {
	return &LeafHeader{
		Magic:      HeaderMagic,
		Next:       InvalidPageID,
		Ext:        InvalidPageID,
		TailOffset: InitialTailOffset,
	}
}

// BitSet reports whether slot i is occupied.
func (h *LeafHeader) BitSet(i int) bool { return h.Bitmap&(1<<uint(i)) != 0 }

// SetBit marks slot i occupied.
func (h *LeafHeader) SetBit(i int) { h.Bitmap |= 1 << uint(i) }

// ClearBit marks slot i free.
func (h *LeafHeader) ClearBit(i int) { h.Bitmap &^= 1 << uint(i) }

// Full reports whether every slot is occupied.
func (h *LeafHeader) Full() bool { return h.Bitmap == uint32(1<<NumSlot-1) }

// FirstClearSlot returns the lowest-index free slot, or -1 if full.
func (h *LeafHeader) FirstClearSlot() int {
	for i := 0; i < NumSlot; i++ {
		if !h.BitSet(i) {
			return i
		}
	}
	return -1
}

// Serialize packs the header into a HeaderSize-byte buffer whose final 4
// bytes are a CRC32 over the preceding bytes.
func (h *LeafHeader) Serialize() []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[hdrMagicOff:], h.Magic)
	binary.LittleEndian.PutUint32(buf[hdrBitmapOff:], h.Bitmap)
	binary.LittleEndian.PutUint32(buf[hdrNextOff:], h.Next)
	binary.LittleEndian.PutUint32(buf[hdrExtOff:], h.Ext)
	binary.LittleEndian.PutUint32(buf[hdrTailOff:], h.TailOffset)
	copy(buf[hdrFingerOff:hdrFingerOff+NumSlot], h.Fingerprints[:])

	for i, kv := range h.KVInfo {
		base := hdrKVInfoOff + i*kvInfoWidth
		binary.LittleEndian.PutUint32(buf[base:], kv.PageID)
		binary.LittleEndian.PutUint32(buf[base+4:], kv.Offset)
		binary.LittleEndian.PutUint32(buf[base+8:], kv.KeySize)
		binary.LittleEndian.PutUint32(buf[base+12:], kv.ValueSize)
	}

	crcRegion := buf[:HeaderSize-4]
	withCrc := codec.AppendTrailingCRC(crcRegion)
	copy(buf, withCrc)
	return buf
}

// DeserializeHeader validates the trailing CRC and magic, then unpacks data
// into a LeafHeader. A CRC/magic failure is reported via ok=false, not an
// error — on the recovery path that means "treat this page as free".
func DeserializeHeader(data []byte) (h *LeafHeader, ok bool) {
	if len(data) < HeaderSize {
		return nil, false
	}

	if err := codec.VerifyTrailingCRC(data[:HeaderSize]); err != nil {
		return nil, false
	}

	magic := binary.LittleEndian.Uint32(data[hdrMagicOff:])
	if magic != HeaderMagic {
		return nil, false
	}

	h = &LeafHeader{
		Magic:      magic,
		Bitmap:     binary.LittleEndian.Uint32(data[hdrBitmapOff:]),
		Next:       binary.LittleEndian.Uint32(data[hdrNextOff:]),
		Ext:        binary.LittleEndian.Uint32(data[hdrExtOff:]),
		TailOffset: binary.LittleEndian.Uint32(data[hdrTailOff:]),
	}
	copy(h.Fingerprints[:], data[hdrFingerOff:hdrFingerOff+NumSlot])

	for i := 0; i < NumSlot; i++ {
		base := hdrKVInfoOff + i*kvInfoWidth
		h.KVInfo[i] = KVInfo{
			PageID:    binary.LittleEndian.Uint32(data[base:]),
			Offset:    binary.LittleEndian.Uint32(data[base+4:]),
			KeySize:   binary.LittleEndian.Uint32(data[base+8:]),
			ValueSize: binary.LittleEndian.Uint32(data[base+12:]),
		}
	}

	return h, true
}
