// Package housekeep runs the background compaction loop across every
// collection a DataStore holds, the way the teacher's xaction package
// runs long-lived background tasks against cluster state rather than
// per-request goroutines; it does not schedule upgrades. It also
// publishes the engine-level gauges (§4.3 estimated_record_count, latest
// sequence number) as Prometheus metrics, matching the teacher's
// prometheus/client_golang dependency.
package housekeep

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/outbackcdx/cdxserver/store"
)

// Scheduler periodically schedules compaction across every collection
// DataStore.ListCollections reports, opening any not yet open. It never runs compaction synchronously
// itself — Index.CompactInBackground already guards against overlap with
// an atomic CAS flag — this just supplies the tick.
type Scheduler struct {
	ds       *store.DataStore
	interval time.Duration

	recordCount *prometheus.GaugeVec
	changeLag   *prometheus.GaugeVec
	compactions *prometheus.CounterVec
}

// NewScheduler constructs a Scheduler over ds, registering its metrics
// with reg (typically prometheus.DefaultRegisterer).
func NewScheduler(ds *store.DataStore, interval time.Duration, reg prometheus.Registerer) *Scheduler {
	s := &Scheduler{
		ds:       ds,
		interval: interval,
		recordCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdxserver",
			Subsystem: "index",
			Name:      "estimated_record_count",
			Help:      "Estimated number of captures in a collection (spec §4.3).",
		}, []string{"collection"}),
		changeLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdxserver",
			Subsystem: "index",
			Name:      "latest_sequence_number",
			Help:      "Latest committed sequence number of a collection (spec §3.6).",
		}, []string{"collection"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdxserver",
			Subsystem: "housekeep",
			Name:      "compactions_scheduled_total",
			Help:      "Number of times CompactInBackground actually scheduled a new compaction.",
		}, []string{"collection"}),
	}
	if reg != nil {
		reg.MustRegister(s.recordCount, s.changeLag, s.compactions)
	}
	return s
}

// Run blocks, ticking every interval until ctx is canceled. Intended to be
// started as its own goroutine from cmd/cdxserver's main, one per daemon.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	names, err := s.ds.ListCollections()
	if err != nil {
		glog.Errorf("housekeep: listing collections: %v", err)
		return
	}
	for _, name := range names {
		ix, err := s.ds.GetIndex(name, false)
		if err != nil {
			continue
		}
		if count, err := ix.EstimatedRecordCount(); err == nil {
			s.recordCount.WithLabelValues(name).Set(float64(count))
		}
		s.changeLag.WithLabelValues(name).Set(float64(ix.LatestSequenceNumber()))
		if ix.CompactInBackground() {
			s.compactions.WithLabelValues(name).Inc()
			glog.Infof("housekeep: scheduled compaction for %q", name)
		}
	}
}
