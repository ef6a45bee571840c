package index

import (
	"testing"

	"github.com/outbackcdx/cdxserver/record"
)

func TestBatchCommitAssignsSequenceNumbers(t *testing.T) {
	ix, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	b1 := ix.BeginUpdate()
	if err := b1.PutCapture(&record.Capture{URLKey: "com,example)/", Timestamp: 1, Filename: "a"}); err != nil {
		t.Fatal(err)
	}
	seq1, err := b1.Commit()
	if err != nil {
		t.Fatal(err)
	}

	b2 := ix.BeginUpdate()
	if err := b2.PutCapture(&record.Capture{URLKey: "com,example)/", Timestamp: 2, Filename: "b"}); err != nil {
		t.Fatal(err)
	}
	seq2, err := b2.Commit()
	if err != nil {
		t.Fatal(err)
	}

	if seq2 <= seq1 {
		t.Fatalf("expected strictly increasing sequence numbers, got %d then %d", seq1, seq2)
	}
	if ix.LatestSequenceNumber() != seq2 {
		t.Fatalf("LatestSequenceNumber() = %d, want %d", ix.LatestSequenceNumber(), seq2)
	}
}

func TestBatchDiscardedWithoutCommit(t *testing.T) {
	ix, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	b := ix.BeginUpdate()
	if err := b.PutCapture(&record.Capture{URLKey: "com,example)/", Timestamp: 1, Filename: "a"}); err != nil {
		t.Fatal(err)
	}
	// b is simply dropped without Commit.

	count, err := ix.EstimatedRecordCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 records from an uncommitted batch, got %d", count)
	}
}

func TestChangeFeedReplaysOntoSecondary(t *testing.T) {
	primary, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer primary.Close()

	for i := uint64(0); i < 5; i++ {
		b := primary.BeginUpdate()
		if err := b.PutCapture(&record.Capture{URLKey: "com,example)/", Timestamp: i, Filename: "a"}); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	secondary, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer secondary.Close()

	cursor, err := primary.GetUpdatesSince(0)
	if err != nil {
		t.Fatal(err)
	}
	defer cursor.Close()
	for {
		entry, ok := cursor.Next()
		if !ok {
			break
		}
		if err := secondary.ApplyRawBatch(entry.WriteBatch); err != nil {
			t.Fatal(err)
		}
	}

	primaryCount, _ := primary.EstimatedRecordCount()
	secondaryCount, _ := secondary.EstimatedRecordCount()
	if primaryCount != secondaryCount {
		t.Fatalf("primary has %d records, secondary has %d", primaryCount, secondaryCount)
	}

	it := secondary.CapturesAfter(record.CapturePrefixKey("com,example)/"))
	defer it.Close()
	n := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		n++
	}
	if n != 5 {
		t.Fatalf("expected 5 replayed captures, got %d", n)
	}
}

func TestResolveAliasOneHopOnly(t *testing.T) {
	ix, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	b := ix.BeginUpdate()
	if err := b.PutAlias(&record.Alias{AliasSURT: "com,example,www)/", TargetSURT: "com,example)/"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	target, found := ix.ResolveAlias("com,example,www)/")
	if !found || target != "com,example)/" {
		t.Fatalf("ResolveAlias = (%q, %v), want (\"com,example)/\", true)", target, found)
	}

	_, found = ix.ResolveAlias("com,example)/")
	if found {
		t.Fatal("expected no alias for a urlkey that is itself a target, not an alias")
	}
}
