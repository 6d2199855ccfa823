package sstable

import (
	"bufio"
	"bytes"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"

	"fpkv/amphiserr"
	"fpkv/amphislog"
	"fpkv/codec"
	"fpkv/config"
	"fpkv/fptree/pagemgr"
)

// Writer builds level-0 tables out of a frozen FPTree generation's leaf
// chain (spec §4.7). tableID advances by 2 per flush - even ids, reserving
// odd ids for a future compaction engine.
type Writer struct {
	cfg       *config.Config
	tableName string
	nextID    uint64
}

// NewWriter primes a flush writer with the smallest even id strictly
// greater than maxExistingID.
func NewWriter(cfg *config.Config, tableName string, maxExistingID uint64) *Writer {
	next := maxExistingID + 1
	if next%2 != 0 {
		next++
	}
	if next == 0 {
		next = 2
	}
	return &Writer{cfg: cfg, tableName: tableName, nextID: next}
}

type leafRecord struct {
	key   []byte
	value []byte
}

// Flush drains headLeafMgr's chain of leaves (the head leaf of a frozen
// tree generation) into a new level-0 table file.
func (w *Writer) Flush(headLeafMgr *pagemgr.Manager) (*TableInfo, error) {
	chain, err := headLeafMgr.GetLeafIDChain()
	if err != nil {
		return nil, err
	}

	var records []leafRecord
	for _, leafID := range chain {
		recs, err := readLeafOccupied(headLeafMgr, leafID)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	return w.writeTable(records)
}

// FlushStartup opens a leaf file directly by (tree_name, generation_id) and
// performs the same drain - used to recover leaf files that survived a
// crash before the KVS façade accepts new writes. The opened manager is
// returned so the caller can remove the leaf file once the table write is
// durable.
func (w *Writer) FlushStartup(cfg *config.Config, treeName string, generation uint64, log *amphislog.Logger) (*TableInfo, *pagemgr.Manager, error) {
	mgr, err := pagemgr.Open(cfg, treeName, generation, log)
	if err != nil {
		return nil, nil, err
	}

	info, err := w.Flush(mgr)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}

	return info, mgr, nil
}

func readLeafOccupied(mgr *pagemgr.Manager, leafID uint32) ([]leafRecord, error) {
	header, ok := mgr.GetHeader(leafID)
	if !ok {
		return nil, amphiserr.NewIoError("read leaf header for flush", os.ErrInvalid)
	}

	var recs []leafRecord
	for s := 0; s < pagemgr.NumSlot; s++ {
		if !header.BitSet(s) {
			continue
		}
		kv := header.KVInfo[s]
		key, value, err := mgr.ReadData(kv.PageID, kv.Offset, kv.KeySize, kv.ValueSize)
		if err != nil {
			return nil, err
		}
		recs = append(recs, leafRecord{key: key, value: value})
	}

	sort.Slice(recs, func(i, j int) bool { return bytes.Compare(recs[i].key, recs[j].key) < 0 })
	return recs, nil
}

func (w *Writer) writeTable(records []leafRecord) (*TableInfo, error) {
	id := w.nextID
	w.nextID += 2

	path := w.cfg.TableFilePath(w.tableName, id)
	if err := os.MkdirAll(w.cfg.TableDirPath(w.tableName), 0o755); err != nil {
		return nil, amphiserr.NewIoError("mkdir table dir", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, amphiserr.NewIoError("create table file", err)
	}
	defer f.Close()

	bufw := bufio.NewWriter(f)

	filter := bloom.NewWithEstimates(w.cfg.BloomFilter.ItemsCount, w.cfg.BloomFilter.FPRate)
	index := NewSparseIndex()

	var offset uint64
	for _, rec := range records {
		filter.Add(rec.key)
		index.Insert(rec.key, offset)

		encoded := codec.Format(rec.key, rec.value)
		if _, err := bufw.Write(encoded); err != nil {
			return nil, amphiserr.NewIoError("write table record", err)
		}
		offset += uint64(codec.GetDataSize(len(rec.key), len(rec.value)))
	}

	if err := bufw.Flush(); err != nil {
		return nil, amphiserr.NewIoError("flush table writer", err)
	}
	if err := f.Sync(); err != nil {
		return nil, amphiserr.NewIoError("fsync table file", err)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, amphiserr.NewIoError("stat table file", err)
	}

	return &TableInfo{ID: id, Size: uint64(stat.Size()), Level: 0, Filter: filter, Index: index}, nil
}
