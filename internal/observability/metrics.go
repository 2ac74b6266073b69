package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradejournal/internal/engine"
)

// Metrics holds the Prometheus collectors for the journal service.
type Metrics struct {
	FillsIngested    prometheus.Counter
	LotsCreated      prometheus.Counter
	ClosuresCreated  prometheus.Counter
	CampaignsCreated prometheus.Counter
	LegsCreated      prometheus.Counter

	CampaignsConsolidated prometheus.Counter
	LegsRegrouped         prometheus.Counter

	RebuildDuration prometheus.Histogram
}

// NewMetrics registers the journal collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FillsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_fills_ingested_total",
			Help: "Fills accepted from NATS or the import API.",
		}),
		LotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_lots_created_total",
			Help: "Position lots opened by the matcher.",
		}),
		ClosuresCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_closures_created_total",
			Help: "Lot closures recorded by the matcher.",
		}),
		CampaignsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_campaigns_created_total",
			Help: "Campaigns opened by the matcher.",
		}),
		LegsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_legs_created_total",
			Help: "Typed legs emitted by the classifier.",
		}),
		CampaignsConsolidated: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_campaigns_consolidated_total",
			Help: "Duplicate open campaigns merged away.",
		}),
		LegsRegrouped: factory.NewCounter(prometheus.CounterOpts{
			Name: "journal_legs_regrouped_total",
			Help: "Orphaned legs reattached by strategy regrouping.",
		}),
		RebuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "journal_rebuild_duration_seconds",
			Help:    "Wall time of one partition rebuild.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordMatch feeds one matching pass's counters into the collectors.
func (m *Metrics) RecordMatch(stats engine.MatchStats) {
	m.LotsCreated.Add(float64(stats.LotsCreated))
	m.ClosuresCreated.Add(float64(stats.ClosuresCreated))
	m.CampaignsCreated.Add(float64(stats.CampaignsCreated))
	m.LegsCreated.Add(float64(stats.LegsCreated))
}
