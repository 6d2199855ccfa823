// Package kvs is the public façade (spec §4.10): open/put/get/delete/close
// over one named table, backed by an FPTree manager for recent writes and
// an SSTable set for flushed history, with a background flush worker.
package kvs

import (
	"os"
	"strconv"
	"strings"

	"fpkv/amphislog"
	"fpkv/config"
	"fpkv/fptree"
	"fpkv/sstable"
)

type flushSignal int

const (
	signalTryFlush flushSignal = iota
	signalShutdown
)

// KVS is one opened table: its FPTree manager, its SSTable set, and the
// flush worker goroutine draining one into the other.
type KVS struct {
	cfg       *config.Config
	tableName string
	log       *amphislog.Logger

	treeMgr *fptree.Manager
	tables  *sstable.Set
	writer  *sstable.Writer

	signal chan flushSignal
	done   chan struct{}
}

// Open recovers a table's SSTable metadata, drains any orphan leaf files
// left by a prior crash into fresh tables, constructs a fresh FPTree
// manager, and spawns the flush worker.
func Open(cfg *config.Config, tableName string, log *amphislog.Logger) (*KVS, error) {
	tables, err := sstable.Open(cfg, tableName)
	if err != nil {
		return nil, err
	}

	writer := sstable.NewWriter(cfg, tableName, tables.MaxTableID())

	if err := recoverOrphanLeaves(cfg, tableName, log, tables, writer); err != nil {
		return nil, err
	}

	treeMgr, err := fptree.Open(cfg, tableName, log, cfg.RootSplitThreshold)
	if err != nil {
		return nil, err
	}

	k := &KVS{
		cfg:       cfg,
		tableName: tableName,
		log:       log,
		treeMgr:   treeMgr,
		tables:    tables,
		writer:    writer,
		signal:    make(chan flushSignal, 64),
		done:      make(chan struct{}),
	}

	go k.flushWorker()

	return k, nil
}

// recoverOrphanLeaves scans the leaf directory for generation files left
// over from a previous process and flushes each straight into a table.
func recoverOrphanLeaves(cfg *config.Config, tableName string, log *amphislog.Logger, tables *sstable.Set, writer *sstable.Writer) error {
	dir := cfg.LeafDirPath(tableName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		gen, ok := parseGeneration(e.Name())
		if !ok {
			continue
		}

		info, mgr, err := writer.FlushStartup(cfg, tableName, gen, log)
		if err != nil {
			return err
		}

		if err := tables.Register(info); err != nil {
			return err
		}

		if err := mgr.Remove(); err != nil {
			log.Warnw("failed to remove orphan leaf file after recovery", "error", err)
		}
	}

	return nil
}

func parseGeneration(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "leaves-") || !strings.HasSuffix(name, ".amph") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "leaves-"), ".amph")
	gen, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Put inserts or overwrites key with value, signaling the flush worker if
// the tree just crossed its root-split threshold.
func (k *KVS) Put(key, value []byte) error {
	if err := k.treeMgr.Put(key, value); err != nil {
		return err
	}
	k.maybeSignalFlush()
	return nil
}

// Delete writes a tombstone for key.
func (k *KVS) Delete(key []byte) error {
	if err := k.treeMgr.Delete(key); err != nil {
		return err
	}
	k.maybeSignalFlush()
	return nil
}

// Get consults the FPTree manager, then the SSTable set; a tombstone
// (empty value) found at either layer is reported as not-found.
func (k *KVS) Get(key []byte) ([]byte, bool, error) {
	value, found, err := k.treeMgr.Get(key)
	if err != nil {
		return nil, false, err
	}
	if found {
		if len(value) == 0 {
			return nil, false, nil
		}
		return value, true, nil
	}

	value, found, err = k.tables.Get(key)
	if err != nil {
		return nil, false, err
	}
	if found && len(value) == 0 {
		return nil, false, nil
	}
	return value, found, nil
}

func (k *KVS) maybeSignalFlush() {
	if !k.treeMgr.NeedFlush() {
		return
	}
	select {
	case k.signal <- signalTryFlush:
	default:
	}
}

// Close signals the flush worker to shut down and waits for it to exit.
func (k *KVS) Close() error {
	k.signal <- signalShutdown
	<-k.done
	return nil
}

func (k *KVS) flushWorker() {
	defer close(k.done)

	for sig := range k.signal {
		switch sig {
		case signalTryFlush:
			k.tryFlush()
		case signalShutdown:
			return
		}
	}
}

func (k *KVS) tryFlush() {
	headLeafMgr, ok, err := k.treeMgr.PrepareFlush()
	if err != nil {
		k.log.Errorw("prepare_flush failed", "error", err, "table", k.tableName)
		return
	}
	if !ok {
		return
	}

	info, err := k.writer.Flush(headLeafMgr)
	if err != nil {
		k.log.Errorw("flush writer failed", "error", err, "table", k.tableName)
		return
	}

	if err := k.tables.Register(info); err != nil {
		k.log.Errorw("register flushed table failed", "error", err, "table", k.tableName)
		return
	}

	if err := k.treeMgr.SwitchFPTree(); err != nil {
		k.log.Errorw("switch_fptree failed", "error", err, "table", k.tableName)
	}
}
