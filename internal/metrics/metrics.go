package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	serviceReady = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "atlasd",
		Name:      "service_ready",
		Help:      "Readiness state of session services (1=ready, 0=not ready).",
	}, []string{"service"})

	serviceExitCode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "atlasd",
		Name:      "service_exit_code",
		Help:      "Last observed exit code per service (-1 while running).",
	}, []string{"service"})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "atlasd",
		Name:      "probe_latency_seconds",
		Help:      "Latency of readiness probe executions in seconds.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "atlasd",
		Name:      "build_info",
		Help:      "Build metadata for the running atlasd binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(serviceReady, serviceExitCode, probeLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all atlasd metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetServiceReady records the readiness state for the provided service.
func SetServiceReady(service string, ready bool) {
	if service == "" {
		return
	}
	value := 0.0
	if ready {
		value = 1.0
	}
	serviceReady.WithLabelValues(service).Set(value)
}

// SetServiceExitCode records the exit code observed for a service.
func SetServiceExitCode(service string, code int) {
	if service == "" {
		return
	}
	serviceExitCode.WithLabelValues(service).Set(float64(code))
}

// ObserveProbeLatency records the latency of a readiness probe attempt.
func ObserveProbeLatency(d time.Duration) {
	probeLatency.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetService clears the gauges for a service.
func ResetService(service string) {
	if service == "" {
		return
	}
	serviceReady.DeleteLabelValues(service)
	serviceExitCode.DeleteLabelValues(service)
}
