// Package observability exports daemon counters in Prometheus format.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const namespace = "pulsar"

// Metrics implements the sampler, alert and command observers
type Metrics struct {
	registry *prometheus.Registry

	samples       prometheus.Counter
	probeFailures prometheus.Counter
	storeFailures prometheus.Counter
	ticksSkipped  prometheus.Counter
	alertsFired   *prometheus.CounterVec
	pollErrors    prometheus.Counter
	commands      *prometheus.CounterVec

	cpu    prometheus.Gauge
	memory prometheus.Gauge
	disk   prometheus.Gauge
	temp   prometheus.Gauge
	cursor prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples recorded by the sampler.",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Ticks skipped because the OS probe failed.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Samples dropped because the store rejected them.",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because the previous tick was still running.",
		}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Threshold crossings that produced a notification.",
		}, []string{"metric"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed long-poll requests.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_percent",
			Help:      "CPU usage of the latest sample.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_percent",
			Help:      "Memory usage of the latest sample.",
		}),
		disk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_percent",
			Help:      "Disk usage of the latest sample.",
		}),
		temp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_temperature_celsius",
			Help:      "CPU temperature of the latest sample, measured or estimated.",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_cursor",
			Help:      "Highest processed command update id.",
		}),
	}

	m.registry.MustRegister(
		m.samples, m.probeFailures, m.storeFailures, m.ticksSkipped,
		m.alertsFired, m.pollErrors, m.commands,
		m.cpu, m.memory, m.disk, m.temp, m.cursor,
	)
	return m
}

// Registry exposes the underlying registry, e.g. to add process collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleRecorded(s types.Sample) {
	m.samples.Inc()
	m.cpu.Set(s.CPUPercent)
	m.memory.Set(s.MemoryPercent())
	m.disk.Set(s.DiskPercent)
	if s.Temperature != nil {
		m.temp.Set(*s.Temperature)
	}
}

func (m *Metrics) ProbeFailed() { m.probeFailures.Inc() }

func (m *Metrics) StoreFailed() { m.storeFailures.Inc() }

func (m *Metrics) TickSkipped() { m.ticksSkipped.Inc() }

func (m *Metrics) AlertFired(metric string) { m.alertsFired.WithLabelValues(metric).Inc() }

func (m *Metrics) PollError() { m.pollErrors.Inc() }

func (m *Metrics) CursorAdvanced(offset int64) { m.cursor.Set(float64(offset)) }

func (m *Metrics) CommandHandled(command string) { m.commands.WithLabelValues(command).Inc() }
