// Package codec implements the length-prefixed, CRC-checked slot encoding
// shared by leaf pages and table files, plus the alignment arithmetic the
// leaf page manager needs to place slots inside a fixed-size page.
package codec

import (
	"encoding/binary"
	"hash/crc32"

	"fpkv/amphiserr"
)

const (
	// LenSize is the width of the u32 length prefix on every slot.
	LenSize = 4
	// CrcSize is the width of the trailing CRC-32 on every slot.
	CrcSize = 4
	// DataAlignment is the alignment every written pair is rounded up to
	// inside a leaf page's data arena.
	DataAlignment = 4096
)

// SlotOverhead is the number of bytes a single slot adds beyond its payload.
const SlotOverhead = LenSize + CrcSize

// Format encodes key and value as two concatenated slot records:
//
//	| u32 size | bytes[size] | u32 crc32-IEEE(bytes) |
//
// repeated once for key, once for value.
func Format(key, value []byte) []byte {
	out := make([]byte, GetDataSize(len(key), len(value)))
	n := writeSlot(out, key)
	writeSlot(out[n:], value)
	return out
}

func writeSlot(dst, payload []byte) int {
	binary.LittleEndian.PutUint32(dst[:LenSize], uint32(len(payload)))
	copy(dst[LenSize:LenSize+len(payload)], payload)
	crc := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(dst[LenSize+len(payload):LenSize+len(payload)+CrcSize], crc)
	return LenSize + len(payload) + CrcSize
}

// GetDataSize returns the exact encoded byte length of a key/value pair.
func GetDataSize(keySize, valueSize int) int {
	return keySize + valueSize + 2*SlotOverhead
}

// RoundUp rounds size up to the next multiple of DataAlignment.
func RoundUp(size int) int {
	return ((size + DataAlignment - 1) / DataAlignment) * DataAlignment
}

// KeyValueOffsets locates the key slot and value slot inside an encoded pair.
type KeyValueOffsets struct {
	KeyStart, KeyEnd     int
	ValueStart, ValueEnd int
}

// Offsets returns the byte ranges of the key slot and value slot within an
// encoded pair of the given key/value sizes. *Start..*End are the full slot
// extents (length prefix through trailing CRC).
func Offsets(keySize, valueSize int) KeyValueOffsets {
	keyEnd := SlotOverhead + keySize
	valueEnd := keyEnd + SlotOverhead + valueSize
	return KeyValueOffsets{
		KeyStart:   0,
		KeyEnd:     keyEnd,
		ValueStart: keyEnd,
		ValueEnd:   valueEnd,
	}
}

// VerifySlot reads the size prefix from bytes and verifies the trailing
// CRC over the payload region. Returns the payload on success.
func VerifySlot(data []byte) ([]byte, error) {
	if len(data) < SlotOverhead {
		return nil, amphiserr.NewSerializationError("slot shorter than header", nil)
	}

	size := binary.LittleEndian.Uint32(data[:LenSize])
	end := LenSize + int(size)
	if end+CrcSize > len(data) {
		return nil, amphiserr.NewSerializationError("slot size exceeds buffer", nil)
	}

	payload := data[LenSize:end]
	wantCrc := binary.LittleEndian.Uint32(data[end : end+CrcSize])
	if crc32.ChecksumIEEE(payload) != wantCrc {
		return nil, amphiserr.ErrCrcMismatch
	}

	return payload, nil
}

// VerifyTrailingCRC splits off the last 4 bytes of data and verifies the
// CRC-32 over the preceding prefix. Used for whole-header CRC checks.
func VerifyTrailingCRC(data []byte) error {
	if len(data) < CrcSize {
		return amphiserr.NewSerializationError("buffer shorter than trailing crc", nil)
	}

	prefix := data[:len(data)-CrcSize]
	wantCrc := binary.LittleEndian.Uint32(data[len(data)-CrcSize:])
	if crc32.ChecksumIEEE(prefix) != wantCrc {
		return amphiserr.ErrCrcMismatch
	}

	return nil
}

// AppendTrailingCRC appends a CRC-32 over data to the end of data.
func AppendTrailingCRC(data []byte) []byte {
	crc := crc32.ChecksumIEEE(data)
	out := make([]byte, len(data)+CrcSize)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], crc)
	return out
}
