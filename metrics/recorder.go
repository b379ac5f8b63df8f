// Package metrics records generation attempts and run outcomes.
//
// A publishing run is a batch job, so the Prometheus implementation is meant
// to be exported once per run to a node_exporter textfile collector.
package metrics

import "time"

// Outcome labels for generation attempts.
const (
	OutcomeSuccess     = "success"
	OutcomeTransport   = "transport"
	OutcomeRateLimited = "rate_limited"
	OutcomeMalformed   = "malformed"
	OutcomeSchema      = "schema_incomplete"
)

// Recorder defines observability hooks for a run. Implementations must be
// safe to call from the run goroutine; NoopRecorder is the default.
type Recorder interface {
	IncGenerationAttempt(purpose, model, outcome string)
	ObserveGenerationLatency(model string, d time.Duration)
	IncRunOutcome(outcome string) // success|failed
	ObserveRunDuration(d time.Duration)
	SetHistoryRecords(n int)
	SetLastSuccess(t time.Time)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncGenerationAttempt(string, string, string)   {}
func (NoopRecorder) ObserveGenerationLatency(string, time.Duration) {}
func (NoopRecorder) IncRunOutcome(string)                           {}
func (NoopRecorder) ObserveRunDuration(time.Duration)               {}
func (NoopRecorder) SetHistoryRecords(int)                          {}
func (NoopRecorder) SetLastSuccess(time.Time)                       {}
