// Package index wraps one ordered KV store (tidwall/buntdb) per collection,
// implementing spec §4.3 (Index), §4.8 (Batch API) and §4.6 (Change Feed).
//
// buntdb keys and values are Go strings but are treated throughout as raw
// byte strings: a namespace-prefixed, packed-binary encoding (record.Codec)
// rather than text, so default byte-wise ordering over buntdb's "" index
// is exactly the ordering spec invariant 2 requires.
package index

import (
	"sync"

	"github.com/golang/glog"
	"github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"
	"go.uber.org/atomic"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/record"
)

const (
	seqCounterKey = "\x05seq"
	walLogPrefix  = "\x05log:"
	walFloorKey   = "\x05walfloor"

	// MaxBatchBytes is the engine-specific batch size cap (spec §4.8),
	// checked as each mutation is staged; past this the staging call fails
	// with BatchTooLarge rather than growing an unbounded in-memory
	// mutation list.
	MaxBatchBytes = 64 << 20
)

// Index is one collection's storage handle: a buntdb.DB plus the
// in-memory sequence counter and alias negative-cache layered on top of it.
type Index struct {
	Name string

	mu sync.RWMutex // guards db swap-out on Close; buntdb serializes writes itself
	db *buntdb.DB

	seq        atomic.Uint64
	walFloor   atomic.Uint64
	compacting atomic.Bool
	upgrading  atomic.Bool

	// aliasNeg is a negative cache: a miss here means "definitely no
	// alias", letting ResolveAlias skip the buntdb lookup entirely on the
	// (overwhelmingly common) no-alias path.
	aliasNeg    *cuckoofilter.Filter
	aliasNegMu  sync.Mutex
	aliasNegCap uint
}

// Open opens (creating if necessary) the buntdb store at path and recovers
// the in-memory sequence/WAL-floor counters and alias filter from it.
func Open(path string) (*Index, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "opening index at %s", path)
	}
	ix := &Index{
		db:          db,
		aliasNeg:    cuckoofilter.NewFilter(1 << 20),
		aliasNegCap: 1 << 20,
	}
	if err := ix.recoverCounters(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) recoverCounters() error {
	return ix.db.View(func(tx *buntdb.Tx) error {
		if v, err := tx.Get(seqCounterKey); err == nil {
			ix.seq.Store(decodeUint64String(v))
		}
		if v, err := tx.Get(walFloorKey); err == nil {
			ix.walFloor.Store(decodeUint64String(v))
		}
		prefix := string([]byte{record.NamespaceAlias})
		return tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
			if len(key) == 0 || key[0] != record.NamespaceAlias {
				return false
			}
			ix.aliasNeg.Insert([]byte(key[1:]))
			return true
		})
	})
}

// Close releases the underlying buntdb handle. Safe to call once.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db == nil {
		return nil
	}
	err := ix.db.Close()
	ix.db = nil
	return err
}

// LatestSequenceNumber returns the sequence number of the most recently
// committed batch, 0 if the collection has never been written to.
func (ix *Index) LatestSequenceNumber() uint64 { return ix.seq.Load() }

// EstimatedRecordCount approximates the number of stored captures. buntdb
// keeps everything in memory, so unlike a real LSM engine this is exact
// rather than an estimate, but the API keeps the name spec §4.3 specifies
// because callers must not rely on exactness from other engines.
func (ix *Index) EstimatedRecordCount() (uint64, error) {
	var n uint64
	err := ix.db.View(func(tx *buntdb.Tx) error {
		prefix := string([]byte{record.NamespaceCapture})
		return tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
			if len(key) == 0 || key[0] != record.NamespaceCapture {
				return false
			}
			n++
			return true
		})
	})
	if err != nil {
		return 0, cmn.WrapError(cmn.KindStorageError, err, "estimating record count")
	}
	return n, nil
}

// FlushWAL discards replication history older than the current sequence
// number (the /truncate_replication route, spec §6.1): any secondary whose
// cursor is now behind latestSeq must fail with SequenceTruncated and
// resynchronize from scratch.
func (ix *Index) FlushWAL() error {
	latest := ix.seq.Load()
	err := ix.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		prefix := walLogPrefix
		if err := tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
			if len(key) < len(prefix) || key[:len(prefix)] != prefix {
				return false
			}
			keys = append(keys, key)
			return true
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		_, _, err := tx.Set(walFloorKey, encodeUint64String(latest), nil)
		return err
	})
	if err != nil {
		return cmn.WrapError(cmn.KindStorageError, err, "flushing WAL")
	}
	ix.walFloor.Store(latest)
	glog.Infof("index %s: flushed WAL, floor now %d", ix.Name, latest)
	return nil
}

// CompactInBackground schedules a buntdb.Shrink() compaction if one is not
// already running, returning whether it scheduled a new one.
func (ix *Index) CompactInBackground() bool {
	if !ix.compacting.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer ix.compacting.Store(false)
		if err := ix.db.Shrink(); err != nil {
			glog.Errorf("index %s: compaction failed: %v", ix.Name, err)
		}
	}()
	return true
}

// UpgradeInBackground is a placeholder hook for future on-disk layout
// migrations (e.g. a canonicalizer configuration change, spec §4.1); there
// is currently nothing to upgrade, so it always reports "already done".
func (ix *Index) UpgradeInBackground() bool { return false }
