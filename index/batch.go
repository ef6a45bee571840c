package index

import (
	"github.com/tidwall/buntdb"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/record"
)

type opKind byte

const (
	opPut opKind = iota
	opDelete
)

type mutation struct {
	op    opKind
	key   string
	value string
}

// Batch is the scoped write-accumulation handle of spec §4.3/§4.8:
// mutations are buffered in memory and only take effect, atomically and
// under one new sequence number, when Commit is called. A Batch that is
// simply dropped (garbage collected without Commit) discards its
// mutations, since nothing was ever written.
type Batch struct {
	ix        *Index
	muts      []mutation
	byteSize  int
	committed bool
}

// BeginUpdate acquires a new Batch. Every exit path — Commit, or letting
// the Batch go out of scope — releases it; there is no separate Close.
func (ix *Index) BeginUpdate() *Batch {
	return &Batch{ix: ix}
}

func (b *Batch) stage(op opKind, key, value []byte) error {
	b.byteSize += len(key) + len(value)
	if b.byteSize > MaxBatchBytes {
		return cmn.NewError(cmn.KindInternal, "BatchTooLarge: batch exceeds %d bytes", MaxBatchBytes)
	}
	b.muts = append(b.muts, mutation{op: op, key: string(key), value: string(value)})
	return nil
}

func (b *Batch) PutCapture(c *record.Capture) error {
	key := record.EncodeCaptureKey(c.URLKey, c.Timestamp, c.Filename, c.Offset)
	val := record.EncodeCaptureValue(c)
	return b.stage(opPut, key, val)
}

func (b *Batch) DeleteCapture(urlkey string, timestamp uint64, filename string, offset uint64) error {
	key := record.EncodeCaptureKey(urlkey, timestamp, filename, offset)
	return b.stage(opDelete, key, nil)
}

func (b *Batch) PutAlias(a *record.Alias) error {
	key := record.EncodeAliasKey(a.AliasSURT)
	val := record.EncodeAliasValue(a.TargetSURT)
	return b.stage(opPut, key, val)
}

func (b *Batch) DeleteAlias(aliasSURT string) error {
	key := record.EncodeAliasKey(aliasSURT)
	return b.stage(opDelete, key, nil)
}

// RawPut/RawDelete back the access-control rule/policy store (namespaces
// 0x03/0x04): their records are not part of the Capture/Alias model but
// still need the same atomic-commit-plus-sequence-number treatment so a
// secondary tailing the change feed sees rule edits too.
func (b *Batch) RawPut(key, value []byte) error    { return b.stage(opPut, key, value) }
func (b *Batch) RawDelete(key []byte) error         { return b.stage(opDelete, key, nil) }

// Commit atomically installs every staged mutation under one new sequence
// number and appends a compressed WAL record for the change feed to serve
// later (spec invariants 4 and 5: batch atomicity, sequence monotonicity).
func (b *Batch) Commit() (seqNo uint64, err error) {
	if b.committed {
		return 0, cmn.NewError(cmn.KindInternal, "batch already committed")
	}
	b.committed = true
	if len(b.muts) == 0 {
		return b.ix.seq.Load(), nil
	}

	blob := encodeWALBatch(b.muts)

	err = b.ix.db.Update(func(tx *buntdb.Tx) error {
		for _, m := range b.muts {
			switch m.op {
			case opPut:
				if _, _, err := tx.Set(m.key, m.value, nil); err != nil {
					return err
				}
			case opDelete:
				if _, err := tx.Delete(m.key); err != nil && err != buntdb.ErrNotFound {
					return err
				}
			}
		}
		next := b.ix.seq.Load() + 1
		if _, _, err := tx.Set(walLogKey(next), blob, nil); err != nil {
			return err
		}
		if _, _, err := tx.Set(seqCounterKey, encodeUint64String(next), nil); err != nil {
			return err
		}
		seqNo = next
		return nil
	})
	if err != nil {
		return 0, cmn.WrapError(cmn.KindStorageError, err, "committing batch")
	}
	b.ix.seq.Store(seqNo)
	b.ix.noteAliasWrites(b.muts)
	return seqNo, nil
}

func (ix *Index) noteAliasWrites(muts []mutation) {
	for _, m := range muts {
		if len(m.key) > 0 && m.key[0] == record.NamespaceAlias && m.op == opPut {
			ix.aliasNegMu.Lock()
			ix.aliasNeg.Insert([]byte(m.key[1:]))
			ix.aliasNegMu.Unlock()
		}
	}
}
