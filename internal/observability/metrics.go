package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisioningRounds counts provider round trips by classification.
	ProvisioningRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradejournal_provisioning_rounds_total",
		Help: "Total provisioning round trips by result kind",
	}, []string{"kind"})

	// ProvisioningOutcomes counts finished provisioning sequences.
	ProvisioningOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradejournal_provisioning_outcomes_total",
		Help: "Total provisioning sequences by final outcome",
	}, []string{"outcome"})

	// ProvisioningDuration tracks wall-clock time of a whole sequence.
	ProvisioningDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradejournal_provisioning_duration_seconds",
		Help:    "Duration of a provisioning sequence from first submit to terminal outcome",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// StoreUpserts counts broker account upserts by backend and result.
	StoreUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradejournal_store_upserts_total",
		Help: "Total broker account upserts by backend and result",
	}, []string{"backend", "result"})
)
