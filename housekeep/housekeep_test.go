package housekeep

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/outbackcdx/cdxserver/record"
	"github.com/outbackcdx/cdxserver/store"
)

func TestSchedulerTickUpdatesGauges(t *testing.T) {
	dir := t.TempDir()
	ds := store.New(dir)
	ix, err := ds.GetIndex("test", true)
	if err != nil {
		t.Fatal(err)
	}
	b := ix.BeginUpdate()
	if err := b.PutCapture(&record.Capture{
		URLKey: "com,example)/", Timestamp: 20200101000000, Filename: "a.warc.gz",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	s := NewScheduler(ds, time.Hour, reg)
	s.tick()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range metrics {
		if mf.GetName() == "cdxserver_index_estimated_record_count" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected estimated_record_count metric to be registered")
	}
}
