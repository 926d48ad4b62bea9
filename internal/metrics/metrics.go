// Package metrics keeps the relay's counters in a go-metrics registry and
// reports them as JSON.
package metrics

import (
	"context"
	"io"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics is a registry of named counters. A nil *Metrics discards updates.
type Metrics struct {
	reg gometrics.Registry
}

// New returns a Metrics backed by a fresh registry.
func New() *Metrics {
	return &Metrics{reg: gometrics.NewRegistry()}
}

// Incr adds i to the named counter.
func (m *Metrics) Incr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

// Decr subtracts i from the named counter.
func (m *Metrics) Decr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

// Count returns the current value of the named counter.
func (m *Metrics) Count(name string) int64 {
	if m == nil {
		return 0
	}
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}

// WriteOnce writes every metric to w as one JSON object.
func (m *Metrics) WriteOnce(w io.Writer) {
	if m == nil {
		return
	}
	gometrics.WriteJSONOnce(m.reg, w)
}

// Report writes the registry to w every interval until ctx is cancelled.
// A non-positive interval disables reporting.
func (m *Metrics) Report(ctx context.Context, interval time.Duration, w io.Writer) {
	if m == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.WriteOnce(w)
		}
	}
}
