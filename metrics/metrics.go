package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
)

// DefaultObservePeriod is how often CPU and memory gauges are refreshed.
const DefaultObservePeriod = 1 * time.Second

type Metrics struct {
	CPU              prometheus.Gauge
	AllocatedMemory  prometheus.Gauge
	RequestsNow      prometheus.Gauge
	Requests         *prometheus.CounterVec
	ResponseBodySize *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them in reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nocache_cpu_usage",
			Help: "CPU usage in percent",
		}),
		AllocatedMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nocache_allocated_memory_bytes",
			Help: "Bytes of allocated heap objects",
		}),
		RequestsNow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nocache_requests_in_flight",
			Help: "How many requests are being processed",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nocache_requests_total",
			Help: "How many requests were processed",
		}, []string{"code", "method"}),
		ResponseBodySize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nocache_response_size_bytes",
			Help:    "Size of the responses",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"code"}),
		registry: reg,
	}
	reg.MustRegister(
		m.CPU,
		m.AllocatedMemory,
		m.RequestsNow,
		m.Requests,
		m.ResponseBodySize,
	)
	return m
}

// Instrument counts the requests of next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(m.RequestsNow,
		promhttp.InstrumentHandlerCounter(m.Requests,
			promhttp.InstrumentHandlerResponseSize(m.ResponseBodySize, next),
		),
	)
}

func (m *Metrics) UpdateCPU() {
	p, err := cpu.Percent(0, false)
	if err == nil && len(p) > 0 {
		m.CPU.Set(p[0])
	}
}

func (m *Metrics) UpdateMemory() {
	ms := runtime.MemStats{}
	runtime.ReadMemStats(&ms)
	m.AllocatedMemory.Set(float64(ms.Alloc))
}

// Observe refreshes the CPU and memory gauges every period until ctx is done.
func (m *Metrics) Observe(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()

	m.UpdateCPU()
	m.UpdateMemory()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.UpdateCPU()
			m.UpdateMemory()
		}
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
