package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolLowEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entropyd_pool_low_events",
			Help: "Number of low-entropy notifications received from the kernel pool.",
		},
	)
	injectedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entropyd_injected_bytes",
			Help: "Number of payload bytes the kernel pool accepted.",
		},
		[]string{"source"},
	)
	creditedBits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entropyd_credited_bits",
			Help: "Entropy credit submitted alongside accepted payloads (bits).",
		},
		[]string{"source"},
	)
	sourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entropyd_source_errors",
			Help: "Number of failed entropy source pulls.",
		},
		[]string{"source"},
	)
	injectErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entropyd_inject_errors",
			Help: "Number of injections rejected by the kernel pool.",
		},
		[]string{"source"},
	)

	engineCollectors = []prometheus.Collector{
		poolLowEvents,
		injectedBytes,
		creditedBits,
		sourceErrors,
		injectErrors,
	}

	metricsOnce sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(engineCollectors...)
	})
}
