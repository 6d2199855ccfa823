package sstable

import (
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"fpkv/amphiserr"
	"fpkv/codec"
)

// TableInfo describes one immutable level-0+ table (spec §3 TableInfo):
// its id, file size, level, bloom filter, and sparse index. Tables are
// immutable once registered.
type TableInfo struct {
	ID     uint64
	Size   uint64
	Level  uint32
	Filter *bloom.BloomFilter
	Index  *SparseIndex
}

// encode packs a TableInfo into the self-contained byte form stored in one
// metadata-log record: id, size, level, the bloom filter's own binary
// form, then the sparse index's entries.
func (ti *TableInfo) encode() ([]byte, error) {
	var buf bytes.Buffer

	var head [20]byte
	binary.LittleEndian.PutUint64(head[0:], ti.ID)
	binary.LittleEndian.PutUint64(head[8:], ti.Size)
	binary.LittleEndian.PutUint32(head[16:], ti.Level)
	buf.Write(head[:])

	var filterBuf bytes.Buffer
	if _, err := ti.Filter.WriteTo(&filterBuf); err != nil {
		return nil, amphiserr.NewSerializationError("marshal bloom filter", err)
	}
	var flen [4]byte
	binary.LittleEndian.PutUint32(flen[:], uint32(filterBuf.Len()))
	buf.Write(flen[:])
	buf.Write(filterBuf.Bytes())

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(ti.Index.Len()))
	buf.Write(count[:])

	for _, e := range ti.Index.entries {
		var klen [4]byte
		binary.LittleEndian.PutUint32(klen[:], uint32(len(e.key)))
		buf.Write(klen[:])
		buf.Write(e.key)

		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], e.offset)
		buf.Write(off[:])
	}

	return buf.Bytes(), nil
}

// decodeTableInfo is the inverse of encode.
func decodeTableInfo(data []byte) (*TableInfo, error) {
	if len(data) < 20 {
		return nil, amphiserr.NewSerializationError("table info too short", nil)
	}

	ti := &TableInfo{
		ID:    binary.LittleEndian.Uint64(data[0:]),
		Size:  binary.LittleEndian.Uint64(data[8:]),
		Level: binary.LittleEndian.Uint32(data[16:]),
	}
	pos := 20

	if len(data) < pos+4 {
		return nil, amphiserr.NewSerializationError("table info truncated filter len", nil)
	}
	flen := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4

	if len(data) < pos+flen {
		return nil, amphiserr.NewSerializationError("table info truncated filter", nil)
	}
	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(data[pos : pos+flen])); err != nil {
		return nil, amphiserr.NewSerializationError("unmarshal bloom filter", err)
	}
	ti.Filter = filter
	pos += flen

	if len(data) < pos+4 {
		return nil, amphiserr.NewSerializationError("table info truncated index count", nil)
	}
	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4

	idx := NewSparseIndex()
	for i := 0; i < count; i++ {
		if len(data) < pos+4 {
			return nil, amphiserr.NewSerializationError("table info truncated key len", nil)
		}
		klen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4

		if len(data) < pos+klen+8 {
			return nil, amphiserr.NewSerializationError("table info truncated entry", nil)
		}
		key := append([]byte(nil), data[pos:pos+klen]...)
		pos += klen
		offset := binary.LittleEndian.Uint64(data[pos:])
		pos += 8

		idx.entries = append(idx.entries, sparseEntry{key: key, offset: offset})
	}
	ti.Index = idx

	return ti, nil
}

// encodeMetadataRecord wraps an encoded TableInfo in the append-only
// metadata log's record framing: | u32 len | bytes | u32 crc32 |.
func encodeMetadataRecord(ti *TableInfo) ([]byte, error) {
	body, err := ti.encode()
	if err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	rec := append(lenBuf[:], body...)
	return codec.AppendTrailingCRC(rec), nil
}
