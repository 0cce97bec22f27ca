// metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hearthd/certward/lifecycle"
	"github.com/hearthd/certward/material"
)

// cycleDecisions counts decider verdicts per domain set.
var cycleDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certward_cycle_decisions_total",
		Help: "Lifecycle decisions taken, by decision.",
	},
	[]string{"domains", "decision"},
)

// cycleResults counts finished cycles by result and material source.
var cycleResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certward_cycle_results_total",
		Help: "Completed lifecycle cycles, by result and source.",
	},
	[]string{"domains", "result", "source"},
)

// fallbackInstalls counts self-signed installs taken because public
// issuance failed. Non-zero values deserve operator attention.
var fallbackInstalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certward_fallback_installs_total",
		Help: "Self-signed fallback installs after failed public issuance.",
	},
	[]string{"domains"},
)

// certNotAfter exposes the installed certificate's expiry as a unix
// timestamp, the conventional shape for certificate expiry alerts.
var certNotAfter = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "certward_certificate_not_after_seconds",
		Help: "NotAfter of the installed certificate as a unix timestamp.",
	},
	[]string{"domains", "source"},
)

// RegisterDefault registers the default Go runtime and process collectors,
// plus the lifecycle collectors. It is safe (and intended) to call this
// once at startup.
//
// This function will panic if registration fails for reasons other than
// the collector already being registered. This ensures configuration errors
// are caught early rather than silently ignored.
func RegisterDefault(logger *zap.Logger) {
	// Go runtime metrics
	mustRegister(logger, "Go collector", collectors.NewGoCollector())

	// Process metrics
	mustRegister(logger, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Lifecycle collectors
	mustRegister(logger, "cycle decision counter", cycleDecisions)
	mustRegister(logger, "cycle result counter", cycleResults)
	mustRegister(logger, "fallback install counter", fallbackInstalls)
	mustRegister(logger, "certificate expiry gauge", certNotAfter)
}

// mustRegister attempts to register a Prometheus collector. If registration
// fails for a reason other than AlreadyRegisteredError, it logs a fatal error
// (which calls os.Exit) or panics if no logger is provided.
func mustRegister(logger *zap.Logger, name string, c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			// Already registered is fine - this can happen in tests or if
			// RegisterDefault is called multiple times.
			return
		}
		// Serious registration failure - this indicates a configuration problem
		// that should be fixed before the application can run properly.
		if logger != nil {
			logger.Fatal("failed to register "+name, zap.Error(err))
		} else {
			// No logger available - panic to ensure the error isn't silently ignored
			panic("metrics: failed to register " + name + ": " + err.Error())
		}
	}
}

// CycleRecorder feeds lifecycle observations into the collectors above.
type CycleRecorder struct{}

var _ lifecycle.Recorder = CycleRecorder{}

func (CycleRecorder) ObserveDecision(ds material.DomainSet, decision lifecycle.Decision) {
	cycleDecisions.WithLabelValues(ds.Primary(), decision.String()).Inc()
}

func (CycleRecorder) ObserveOutcome(ds material.DomainSet, outcome lifecycle.Outcome, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	cycleResults.WithLabelValues(ds.Primary(), result, string(outcome.Source)).Inc()

	if outcome.FellBack {
		fallbackInstalls.WithLabelValues(ds.Primary()).Inc()
	}
	if err == nil && !outcome.NotAfter.IsZero() {
		certNotAfter.WithLabelValues(ds.Primary(), string(outcome.Source)).Set(float64(outcome.NotAfter.Unix()))
	}
}

// Handler returns an http.Handler that exposes the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
