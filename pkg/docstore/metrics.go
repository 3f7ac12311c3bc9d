package docstore

import "github.com/prometheus/client_golang/prometheus"

var (
	// opsTotal counts store operations by kind.
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trestle_docstore_ops_total",
			Help: "Document store operations by kind.",
		},
		[]string{"op"},
	)

	// sweptTotal counts documents removed by expiry sweeps.
	sweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trestle_docstore_swept_total",
			Help: "Documents removed by expiry sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(opsTotal, sweptTotal)
}
