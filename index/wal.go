package index

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/outbackcdx/cdxserver/cmn"
)

func walLogKey(seq uint64) string {
	return walLogPrefix + encodeUint64String(seq)
}

// encodeWALBatch packs a batch's mutations into the opaque bytes that back
// both the on-disk WAL entry and the change-feed wire format (spec §4.6):
// a varint mutation count followed by (op, key, value) triples, lz4
// compressed. The wire format calls the result "the engine's native
// write-batch serialization" — cross-engine replication is explicitly not
// supported (spec §4.6), so this encoding is free to be ours alone.
func encodeWALBatch(muts []mutation) string {
	var raw bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(muts)))
	raw.Write(tmp[:n])
	for _, m := range muts {
		raw.WriteByte(byte(m.op))
		n = binary.PutUvarint(tmp[:], uint64(len(m.key)))
		raw.Write(tmp[:n])
		raw.WriteString(m.key)
		n = binary.PutUvarint(tmp[:], uint64(len(m.value)))
		raw.Write(tmp[:n])
		raw.WriteString(m.value)
	}

	var compressed bytes.Buffer
	w := lz4.NewWriter(&compressed)
	_, _ = w.Write(raw.Bytes())
	_ = w.Close()
	return compressed.String()
}

func decodeWALBatch(blob string) ([]mutation, error) {
	r := lz4.NewReader(bytes.NewReader([]byte(blob)))
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "decompressing write batch")
	}
	buf := bytes.NewReader(raw)
	count, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "decoding write batch header")
	}
	muts := make([]mutation, 0, count)
	for i := uint64(0); i < count; i++ {
		opByte, err := buf.ReadByte()
		if err != nil {
			return nil, cmn.WrapError(cmn.KindStorageError, err, "decoding write batch op")
		}
		key, err := readVarBytes(buf)
		if err != nil {
			return nil, err
		}
		value, err := readVarBytes(buf)
		if err != nil {
			return nil, err
		}
		muts = append(muts, mutation{op: opKind(opByte), key: string(key), value: string(value)})
	}
	return muts, nil
}

func readVarBytes(buf *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "decoding write batch length")
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(buf, out); err != nil {
		return nil, cmn.WrapError(cmn.KindStorageError, err, "decoding write batch bytes")
	}
	return out, nil
}

// ApplyRawBatch applies an opaque write-batch blob (as produced by
// encodeWALBatch / served by the change feed) to this Index's store. This
// is the secondary side of replication: spec §4.6 treats the secondary's
// polling loop as out of core, but applying one already-fetched blob is a
// primitive this package must still provide.
func (ix *Index) ApplyRawBatch(blob []byte) error {
	muts, err := decodeWALBatch(string(blob))
	if err != nil {
		return err
	}
	b := ix.BeginUpdate()
	for _, m := range muts {
		switch m.op {
		case opPut:
			if err := b.RawPut([]byte(m.key), []byte(m.value)); err != nil {
				return err
			}
		case opDelete:
			if err := b.RawDelete([]byte(m.key)); err != nil {
				return err
			}
		}
	}
	_, err = b.Commit()
	return err
}
