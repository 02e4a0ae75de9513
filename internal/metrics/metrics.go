// Package metrics is additive local instrumentation: two counters and a
// histogram registered against a package-owned registry, dumped as
// Prometheus text format next to the log file when enabled. It is not a
// metrics server; nothing here binds a port.
package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

const namespace = "dpm"

// Collector owns the registry and the three instruments the pipeline
// reports to: one counter per build and verify invocation, and a histogram
// of seal durations.
type Collector struct {
	registry     *prometheus.Registry
	BuildTotal   prometheus.Counter
	VerifyTotal  prometheus.Counter
	SealDuration prometheus.Histogram
}

// New builds a Collector with its own registry, so instantiating it twice
// in tests never collides with a process-wide default registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		BuildTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_total",
			Help:      "Total number of build module invocations.",
		}),
		VerifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Total number of verify module invocations.",
		}),
		SealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seal_duration_seconds",
			Help:      "Wall-clock duration of SealFinal calls, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(c.BuildTotal, c.VerifyTotal, c.SealDuration)
	return c
}

// WriteTextDump gathers the current instrument values and writes them in
// Prometheus text exposition format to path, overwriting any prior dump.
func (c *Collector) WriteTextDump(path string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return pkgerr.Wrap(pkgerr.Undefined, "gathering metric families", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "creating metrics dump "+path, err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return pkgerr.Wrap(pkgerr.CopyFailed, "encoding metric family "+mf.GetName(), err)
		}
	}
	return nil
}
