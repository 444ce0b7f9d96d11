package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// writeOutcomes counts finished writes by record kind and outcome:
	// ok, ok_cache_failed, recovered, failed, invalid.
	writeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_write_outcomes_total",
			Help: "Storage writes by record kind and reconciliation outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// readSources counts reads by where the answer came from:
	// cache, durable, none, unavailable.
	readSources = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_read_source_total",
			Help: "Storage reads by record kind and serving tier.",
		},
		[]string{"kind", "source"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_store_errors_total",
			Help: "Errors returned by the cache and durable tiers.",
		},
		[]string{"tier", "op"},
	)
)

func init() {
	prometheus.MustRegister(writeOutcomes, readSources, storeErrors)
}
