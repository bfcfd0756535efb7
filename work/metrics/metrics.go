package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbesTotal counts reachability probes by outcome ("online", "offline" or "cancelled").
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_curator_probes_total",
	Help: "Number of channel reachability probes",
}, []string{"result"})

// ProbeLatency records the latency of successful probes in seconds.
var ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "iptv_curator_probe_latency_seconds",
	Help:    "Latency of successful channel probes",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
})

// ProbesInFlight tracks probes currently waiting on the network.
var ProbesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_curator_probes_in_flight",
	Help: "Number of probes currently running",
})

// RevalidationCycles counts background cycles by outcome ("run" or "skipped").
var RevalidationCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_curator_revalidation_cycles_total",
	Help: "Background revalidation cycles",
}, []string{"outcome"})

// CachedStatuses is the number of entries in the validator cache.
var CachedStatuses = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_curator_cached_statuses",
	Help: "Entries in the reliability cache",
})

// IngestedChannels is the channel count per source after its last ingestion.
var IngestedChannels = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "iptv_curator_ingested_channels",
	Help: "Channels held per source",
}, []string{"source"})

// IngestProblems counts parse warnings and errors per source.
var IngestProblems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_curator_ingest_problems_total",
	Help: "Warnings and errors reported while ingesting",
}, []string{"source", "kind"})

// ProviderRequests counts provider API calls by action and outcome.
var ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_curator_provider_requests_total",
	Help: "Provider API requests",
}, []string{"action", "outcome"})

// Recommendations counts ranking requests by kind ("recommend" or "alternatives").
var Recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_curator_recommendations_total",
	Help: "Ranking requests served",
}, []string{"kind"})
