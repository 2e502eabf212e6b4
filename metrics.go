package modelsync

import "time"

// Metrics is an optional hook a ModelsClient, Model or Stream can report
// through. The default implementation is a no-op so the library
// never requires a particular metrics backend; wire a Prometheus, statsd or
// OpenTelemetry-backed implementation at the application edge.
type Metrics interface {
	IncCounter(name string, tags ...string)
	ObserveDuration(name string, d time.Duration, tags ...string)
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, ...string)              {}
func (noopMetrics) ObserveDuration(string, time.Duration, ...string) {}

// NoopMetrics returns a Metrics implementation that discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }
