package index

import (
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/record"
)

// CaptureIterator is the "lazy sequence of Capture" spec §4.3 calls for: a
// finite, closeable, forward-or-reverse cursor. It is backed by a
// goroutine blocked inside a single buntdb.View transaction, bridging
// buntdb's callback-style Ascend/Descend API to pull semantics so the
// query executor can stop consuming (closing the iterator, and with it
// the transaction) at iterator-next granularity — the cancellation point
// spec §5 requires for a client disconnect mid-scan.
//
// Because buntdb holds its whole index in memory and serializes writers
// behind the View transaction's read lock, a long-lived iterator here
// blocks writers for its lifetime; callers should Close as soon as they
// stop consuming rather than leaking it to GC.
type CaptureIterator struct {
	ch     chan *record.Capture
	errCh  chan error
	stop   chan struct{}
	once   sync.Once
	err    error
	gotErr bool
}

func (ix *Index) newCaptureIterator(reverse bool, startKey []byte) *CaptureIterator {
	it := &CaptureIterator{
		ch:    make(chan *record.Capture),
		errCh: make(chan error, 1),
		stop:  make(chan struct{}),
	}
	go func() {
		defer close(it.ch)
		visit := func(key, value string) bool {
			kb := []byte(key)
			if len(kb) == 0 || kb[0] != record.NamespaceCapture {
				return false
			}
			c, err := record.DecodeCapture(kb, []byte(value))
			if err != nil {
				select {
				case it.errCh <- err:
				default:
				}
				return false
			}
			select {
			case it.ch <- c:
				return true
			case <-it.stop:
				return false
			}
		}
		err := ix.db.View(func(tx *buntdb.Tx) error {
			if reverse {
				return tx.DescendLessOrEqual("", string(startKey), visit)
			}
			return tx.AscendGreaterOrEqual("", string(startKey), visit)
		})
		if err != nil {
			select {
			case it.errCh <- cmn.WrapError(cmn.KindStorageError, err, "scanning captures"):
			default:
			}
		}
	}()
	return it
}

// CapturesAfter opens a forward iterator starting at startKey (spec §4.3).
func (ix *Index) CapturesAfter(startKey []byte) *CaptureIterator {
	return ix.newCaptureIterator(false, startKey)
}

// CapturesAfterReverse opens a reverse iterator starting at startKey.
func (ix *Index) CapturesAfterReverse(startKey []byte) *CaptureIterator {
	return ix.newCaptureIterator(true, startKey)
}

// Next returns the next Capture, or ok=false at end of stream or error.
// Call Err after a false return to distinguish "exhausted" from "failed".
func (it *CaptureIterator) Next() (c *record.Capture, ok bool) {
	select {
	case c, open := <-it.ch:
		if !open {
			select {
			case err := <-it.errCh:
				it.err, it.gotErr = err, true
			default:
			}
			return nil, false
		}
		return c, true
	case err := <-it.errCh:
		it.err, it.gotErr = err, true
		return nil, false
	}
}

// Err reports the error that ended iteration, if any.
func (it *CaptureIterator) Err() error { return it.err }

// Close stops the background scan and releases the buntdb transaction it
// holds. Safe to call multiple times and safe to call before exhaustion.
func (it *CaptureIterator) Close() {
	it.once.Do(func() {
		close(it.stop)
		for range it.ch {
			// drain until the goroutine observes stop and exits
		}
	})
}

// AliasIterator lists aliases under a SURT prefix (spec §4.3 list_aliases).
// Alias tables are expected to be small relative to captures, so this
// iterator materializes eagerly rather than bridging through a goroutine.
type AliasIterator struct {
	items []*record.Alias
	pos   int
}

func (ix *Index) ListAliases(prefix string) (*AliasIterator, error) {
	var items []*record.Alias
	pfx := record.AliasPrefixKey(prefix)
	err := ix.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", string(pfx), func(key, value string) bool {
			kb := []byte(key)
			if len(kb) < len(pfx) || string(kb[:len(pfx)]) != string(pfx) {
				return false
			}
			a, err := record.DecodeAlias(kb, []byte(value))
			if err != nil {
				return false
			}
			items = append(items, a)
			return true
		})
	})
	if err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "listing aliases")
	}
	return &AliasIterator{items: items}, nil
}

func (it *AliasIterator) Next() (*record.Alias, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	a := it.items[it.pos]
	it.pos++
	return a, true
}

func (it *AliasIterator) Close() error { it.items = nil; return nil }

// ResolveAlias implements the one-hop redirect lookup of spec §3.2: the
// cuckoo filter gives a fast "definitely not present" answer for the
// overwhelmingly common case of no alias, short-circuiting the buntdb
// lookup entirely.
func (ix *Index) ResolveAlias(urlkey string) (target string, found bool) {
	key := record.EncodeAliasKey(urlkey)
	ix.aliasNegMu.Lock()
	maybePresent := ix.aliasNeg.Lookup(key[1:])
	ix.aliasNegMu.Unlock()
	if !maybePresent {
		return "", false
	}

	var value string
	err := ix.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(key))
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", false
	}
	return value, true
}

// RawGet/RawPut back the access-control store (namespaces 0x03/0x04):
// simple point lookups and single-key writes outside the Capture/Alias
// model, still funnelled through the same buntdb handle and WAL.
func (ix *Index) RawGet(key []byte) ([]byte, bool, error) {
	var value string
	err := ix.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(key))
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cmn.WrapError(cmn.KindStorageError, err, "reading key")
	}
	return []byte(value), true, nil
}

// RawScanPrefix visits every key/value pair under the given namespace
// prefix in byte order, stopping early if visit returns false.
func (ix *Index) RawScanPrefix(prefix []byte, visit func(key, value []byte) bool) error {
	return ix.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", string(prefix), func(key, value string) bool {
			kb := []byte(key)
			if len(kb) < len(prefix) || string(kb[:len(prefix)]) != string(prefix) {
				return false
			}
			return visit(kb, []byte(value))
		})
	})
}
