package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	// requestsTotal counts completed exchanges by engine and status code.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trestle_requests_total",
			Help: "Completed exchanges",
		},
		[]string{"engine", "code"},
	)

	// requestDuration records time from exchange start to dispatch completion.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trestle_request_duration_seconds",
			Help:    "Exchange duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	// inFlight tracks exchanges currently inside the dispatch loop.
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trestle_requests_in_flight",
			Help: "Exchanges in flight",
		},
	)

	// handlerErrors counts handler errors and panics converted to 500s.
	handlerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trestle_handler_errors_total",
			Help: "Handler errors",
		},
	)

	// abortsTotal counts aborted exchanges by the stage that observed the abort.
	abortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trestle_aborts_total",
			Help: "Aborted exchanges",
		},
		[]string{"stage"},
	)

	// writeFailures counts native write errors while emitting responses.
	writeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trestle_write_failures_total",
			Help: "Native write failures",
		},
	)

	// responseBytes counts body bytes handed to native writes.
	responseBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trestle_response_bytes_total",
			Help: "Response body bytes written",
		},
	)

	// passThroughTotal counts requests declined back to native handling.
	passThroughTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trestle_pass_through_total",
			Help: "Requests passed through to the engine",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		inFlight,
		handlerErrors,
		abortsTotal,
		writeFailures,
		responseBytes,
		passThroughTotal,
	)
}
