package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the arbiter instruments. Instruments are created lazily from
// the global meter provider, so Init must run first for them to export.
type Metrics struct {
	Decisions       metric.Int64Counter
	BreakerTrips    metric.Int64Counter
	RFCsOpened      metric.Int64Counter
	Merges          metric.Int64Counter
	AdvisoryCalls   metric.Int64Counter
	AdvisoryLatency metric.Float64Histogram
	DecisionLatency metric.Float64Histogram
	VerifyRuns      metric.Int64Counter
}

var (
	metricsOnce sync.Once
	instruments *Metrics
)

// Instruments returns the process-wide arbiter instruments.
func Instruments() *Metrics {
	metricsOnce.Do(func() {
		m := Meter(instrumentationScope)
		instruments = &Metrics{}
		instruments.Decisions, _ = m.Int64Counter("arbiter.decisions",
			metric.WithDescription("Decisions made, by outcome"),
		)
		instruments.BreakerTrips, _ = m.Int64Counter("arbiter.breaker.trips",
			metric.WithDescription("Agents tripped by the classification circuit breaker"),
		)
		instruments.RFCsOpened, _ = m.Int64Counter("arbiter.rfcs.opened",
			metric.WithDescription("RFCs generated, by trigger"),
		)
		instruments.Merges, _ = m.Int64Counter("arbiter.merges",
			metric.WithDescription("Merge attempts, by result"),
		)
		instruments.AdvisoryCalls, _ = m.Int64Counter("arbiter.advisory.calls",
			metric.WithDescription("Advisory model calls, by operation and result"),
		)
		instruments.AdvisoryLatency, _ = m.Float64Histogram("arbiter.advisory.duration",
			metric.WithDescription("Advisory model call duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		instruments.DecisionLatency, _ = m.Float64Histogram("arbiter.decision.duration",
			metric.WithDescription("Eight-step review duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		instruments.VerifyRuns, _ = m.Int64Counter("arbiter.verify.runs",
			metric.WithDescription("CI verification runs, by result"),
		)
	})
	return instruments
}
