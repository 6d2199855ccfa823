package sstable

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"fpkv/amphiserr"
	"fpkv/codec"
	"fpkv/config"
)

// Set holds the level -> (table id -> TableInfo) map for one table name,
// persists registrations to the append-only metadata log, and serves
// point lookups in level-ascending, table-id-descending order (spec §4.8).
type Set struct {
	cfg       *config.Config
	tableName string

	mu     sync.RWMutex
	levels map[uint32]map[uint64]*TableInfo

	metaFile *os.File

	maxTableID uint64
}

// Open recovers a table set's metadata log (replaying well-formed records,
// skipping any with a bad CRC) and tracks the maximum table id seen so a
// flush writer can be primed with the next one.
func Open(cfg *config.Config, tableName string) (*Set, error) {
	dir := cfg.TableDirPath(tableName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, amphiserr.NewIoError("mkdir table dir", err)
	}

	s := &Set{
		cfg:       cfg,
		tableName: tableName,
		levels:    make(map[uint32]map[uint64]*TableInfo),
	}

	metaPath := cfg.MetadataFilePath(tableName)
	if err := s.replay(metaPath); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(metaPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, amphiserr.NewIoError("open metadata file", err)
	}
	s.metaFile = f

	return s, nil
}

// replay reads every record in the metadata log and reconstructs the
// level map in order, skipping any record with a bad length or CRC.
func (s *Set) replay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return amphiserr.NewIoError("read metadata file", err)
	}

	pos := 0
	for pos+codec.LenSize <= len(data) {
		bodyLen := int(binary.LittleEndian.Uint32(data[pos:]))
		recEnd := pos + codec.LenSize + bodyLen + codec.CrcSize
		if recEnd > len(data) {
			break
		}

		rec := data[pos:recEnd]
		if err := codec.VerifyTrailingCRC(rec); err != nil {
			pos = recEnd
			continue
		}

		body := rec[codec.LenSize : codec.LenSize+bodyLen]
		ti, err := decodeTableInfo(body)
		if err != nil {
			pos = recEnd
			continue
		}

		s.insertInMemory(ti)
		pos = recEnd
	}

	return nil
}

func (s *Set) insertInMemory(ti *TableInfo) {
	level, ok := s.levels[ti.Level]
	if !ok {
		level = make(map[uint64]*TableInfo)
		s.levels[ti.Level] = level
	}
	level[ti.ID] = ti

	if ti.ID > s.maxTableID {
		s.maxTableID = ti.ID
	}
}

// MaxTableID returns the greatest table id registered so far (0 if none).
func (s *Set) MaxTableID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxTableID
}

// Register persists info to the metadata log, then inserts it into its
// level's map, creating the level if necessary.
func (s *Set) Register(ti *TableInfo) error {
	rec, err := encodeMetadataRecord(ti)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.metaFile.Write(rec); err != nil {
		return amphiserr.NewIoError("append metadata record", err)
	}
	if err := s.metaFile.Sync(); err != nil {
		return amphiserr.NewIoError("sync metadata file", err)
	}

	s.insertInMemory(ti)
	return nil
}

// Get performs a point lookup: ascending level, descending table id
// within a level, bloom-filtering before opening each table file.
func (s *Set) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	levelNums := make([]uint32, 0, len(s.levels))
	for lvl := range s.levels {
		levelNums = append(levelNums, lvl)
	}
	sort.Slice(levelNums, func(i, j int) bool { return levelNums[i] < levelNums[j] })

	type candidate struct {
		id   uint64
		info *TableInfo
	}
	var order [][]candidate
	for _, lvl := range levelNums {
		ids := make([]candidate, 0, len(s.levels[lvl]))
		for id, info := range s.levels[lvl] {
			ids = append(ids, candidate{id: id, info: info})
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].id > ids[j].id })
		order = append(order, ids)
	}
	s.mu.RUnlock()

	for _, level := range order {
		for _, c := range level {
			if !c.info.Filter.Test(key) {
				continue
			}

			value, found, err := s.scanTable(c.info, key)
			if err != nil {
				return nil, false, err
			}
			if found {
				return value, true, nil
			}
		}
	}

	return nil, false, nil
}

// scanTable opens table id, seeks to the sparse index's offset for key,
// and linearly scans forward until key matches, a greater key is read, or
// EOF is reached.
func (s *Set) scanTable(ti *TableInfo, key []byte) ([]byte, bool, error) {
	offset, ok := ti.Index.Get(key)
	if !ok {
		return nil, false, nil
	}

	path := s.cfg.TableFilePath(s.tableName, ti.ID)
	f, err := os.Open(path)
	if err != nil {
		return nil, false, amphiserr.NewIoError("open table file", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), os.SEEK_SET); err != nil {
		return nil, false, amphiserr.NewIoError("seek table file", err)
	}

	r := &slotReader{f: f}
	for {
		k, err := r.readSlot()
		if err != nil {
			return nil, false, nil // EOF or unreadable tail: key not in this table
		}
		v, err := r.readSlot()
		if err != nil {
			return nil, false, nil
		}

		cmp := bytes.Compare(k, key)
		if cmp == 0 {
			return v, true, nil
		}
		if cmp > 0 {
			// Table records are written in sorted key order (spec §4.7):
			// once we pass key, it cannot appear later in this table.
			return nil, false, nil
		}
	}
}

// slotReader reads consecutive length-prefixed, CRC-checked slots from a
// table file without loading the whole file into memory.
type slotReader struct {
	f *os.File
}

func (r *slotReader) readSlot() ([]byte, error) {
	var lenBuf [codec.LenSize]byte
	if _, err := readFull(r.f, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])

	rest := make([]byte, int(size)+codec.CrcSize)
	if _, err := readFull(r.f, rest); err != nil {
		return nil, err
	}

	full := append(lenBuf[:], rest...)
	return codec.VerifySlot(full)
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, os.ErrClosed
		}
	}
	return total, nil
}
