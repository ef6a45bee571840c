package query

import (
	"context"
	"testing"
	"time"

	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/record"
	"github.com/outbackcdx/cdxserver/surt"
)

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func putCapture(t *testing.T, ix *index.Index, urlkey string, ts uint64, digest string) {
	t.Helper()
	b := ix.BeginUpdate()
	if err := b.PutCapture(&record.Capture{
		URLKey: urlkey, Timestamp: ts, OriginalURL: "http://example.com/",
		Digest: digest, Filename: "a.warc.gz",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(); err != nil {
		t.Fatal(err)
	}
}

// S1 — exact query returns all captures for one URL in timestamp order.
func TestExecuteExactReturnsAscendingOrder(t *testing.T) {
	ix := newTestIndex(t)
	putCapture(t, ix, "com,example)/", 20200101000000, "d1")
	putCapture(t, ix, "com,example)/", 20200103000000, "d3")
	putCapture(t, ix, "com,example)/", 20200102000000, "d2")

	p, err := Parse(map[string][]string{"url": {"http://example.com/"}}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), ix, p, surt.Options{}, nil, nil, nil, time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 3 {
		t.Fatalf("expected 3 captures, got %d", len(res.Captures))
	}
	for i := 1; i < len(res.Captures); i++ {
		if res.Captures[i-1].Timestamp >= res.Captures[i].Timestamp {
			t.Fatalf("captures not in ascending order: %+v", res.Captures)
		}
	}
}

// S2 — prefix query matches only captures under the same path prefix.
func TestExecutePrefixMatchesOnlyPrefixed(t *testing.T) {
	ix := newTestIndex(t)
	putCapture(t, ix, "com,example)/a", 20200101000000, "d1")
	putCapture(t, ix, "com,example)/b", 20200101000000, "d2")
	putCapture(t, ix, "com,other)/a", 20200101000000, "d3")

	p, err := Parse(map[string][]string{"url": {"http://example.com/*"}}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), ix, p, surt.Options{}, nil, nil, nil, time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 2 {
		t.Fatalf("expected 2 captures, got %d: %+v", len(res.Captures), res.Captures)
	}
}

// S3 — closest-in-time ordering and tie-break (invariant 7).
func TestExecuteClosestOrdering(t *testing.T) {
	ix := newTestIndex(t)
	putCapture(t, ix, "com,example)/", 20200101000000, "d1")
	putCapture(t, ix, "com,example)/", 20200102000000, "d2")
	putCapture(t, ix, "com,example)/", 20200103000000, "d3")

	p, err := Parse(map[string][]string{
		"url": {"http://example.com/"}, "sort": {"closest"}, "closest": {"20200102120000"},
	}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), ix, p, surt.Options{}, nil, nil, nil, time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{20200102000000, 20200103000000, 20200101000000}
	if len(res.Captures) != len(want) {
		t.Fatalf("expected %d captures, got %d", len(want), len(res.Captures))
	}
	for i, ts := range want {
		if res.Captures[i].Timestamp != ts {
			t.Fatalf("position %d: expected %d, got %d", i, ts, res.Captures[i].Timestamp)
		}
	}
}

// S5 — alias resolution substitutes the target key transparently.
func TestExecuteResolvesAlias(t *testing.T) {
	ix := newTestIndex(t)
	putCapture(t, ix, "com,example)/", 20200101000000, "d1")

	b := ix.BeginUpdate()
	if err := b.PutAlias(&record.Alias{AliasSURT: "com,example,www)/", TargetSURT: "com,example)/"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	p, err := Parse(map[string][]string{"url": {"http://www.example.com/"}}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), ix, p, surt.Options{}, nil, nil, nil, time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 1 || res.Captures[0].Digest != "d1" {
		t.Fatalf("expected alias-resolved capture, got %+v", res.Captures)
	}
	if !res.ResolvedByAlias {
		t.Fatal("expected ResolvedByAlias to be true")
	}
}

func TestExecuteBuiltinFilter(t *testing.T) {
	ix := newTestIndex(t)
	putCapture(t, ix, "com,example)/", 20200101000000, "d1")
	putCapture(t, ix, "com,example)/", 20200102000000, "d2")

	p, err := Parse(map[string][]string{
		"url": {"http://example.com/"}, "filter": {"digest:d2"},
	}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), ix, p, surt.Options{}, nil, map[string][]string{"filter": {"digest:d2"}}, nil, time.Second, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 1 || res.Captures[0].Digest != "d2" {
		t.Fatalf("expected only d2, got %+v", res.Captures)
	}
}
