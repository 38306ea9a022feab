// Package alert evaluates samples against thresholds with edge-triggered notification.
//
// A metric is armed the first time it reaches its threshold; that is the only
// moment a notification is sent. It stays armed while the value remains at or
// above the threshold and is silently disarmed once the value drops below it,
// so the next upward crossing notifies again.
package alert

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// Metric names a sample field an alert rule watches
type Metric string

const (
	MetricCPU         Metric = "cpu"
	MetricMemory      Metric = "memory"
	MetricDisk        Metric = "disk"
	MetricTemperature Metric = "temperature"
)

// DefaultThreshold applies to cpu, memory and disk when not configured
const DefaultThreshold = 90.0

// Rule is a (metric, threshold) pair
type Rule struct {
	Metric    Metric
	Threshold float64
}

// DefaultRules returns cpu, memory and disk at 90%
func DefaultRules() []Rule {
	return []Rule{
		{Metric: MetricCPU, Threshold: DefaultThreshold},
		{Metric: MetricMemory, Threshold: DefaultThreshold},
		{Metric: MetricDisk, Threshold: DefaultThreshold},
	}
}

// State is the per-metric alert state.
// Armed means the metric is above threshold and a notification was already sent.
type State struct {
	Armed     bool    `json:"armed"`
	LastValue float64 `json:"last_value"`
	Threshold float64 `json:"threshold"`
}

// Notifier delivers alert text; it never reports failure to the caller
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Observer is told about every fired alert
type Observer interface {
	AlertFired(metric string)
}

// Alerter holds rule state. A nil *Alerter is a valid, disabled alerter.
type Alerter struct {
	rules    []Rule
	notifier Notifier
	logger   *slog.Logger
	observer Observer
	hostname string
	now      func() time.Time

	mu     sync.Mutex
	states map[Metric]*State
}

// Option is a functional option for configuring the Alerter
type Option func(*Alerter)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Alerter) {
		a.logger = logger
	}
}

// WithHostname sets the host name shown in notifications
func WithHostname(hostname string) Option {
	return func(a *Alerter) {
		a.hostname = hostname
	}
}

// WithObserver records fired alerts, e.g. in metrics
func WithObserver(o Observer) Option {
	return func(a *Alerter) {
		a.observer = o
	}
}

// New creates an alerter for the given rules
func New(rules []Rule, notifier Notifier, opts ...Option) *Alerter {
	a := &Alerter{
		rules:    rules,
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
		states:   make(map[Metric]*State, len(rules)),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, r := range rules {
		a.states[r.Metric] = &State{Threshold: r.Threshold}
	}
	return a
}

type firing struct {
	rule  Rule
	value float64
}

// Evaluate applies every rule to the sample and notifies on arming edges.
// It returns the metrics that fired.
func (a *Alerter) Evaluate(ctx context.Context, s types.Sample) []Metric {
	if a == nil {
		return nil
	}

	var fired []firing

	a.mu.Lock()
	for _, r := range a.rules {
		value, ok := metricValue(r.Metric, s)
		st := a.states[r.Metric]
		if !ok {
			continue
		}
		st.LastValue = value

		switch {
		case value >= r.Threshold && !st.Armed:
			st.Armed = true
			fired = append(fired, firing{rule: r, value: value})
		case value < r.Threshold && st.Armed:
			st.Armed = false
			a.logger.Info("Alert cleared", "metric", r.Metric, "value", value)
		}
	}
	a.mu.Unlock()

	// Notify outside the lock; delivery may be slow
	metrics := make([]Metric, 0, len(fired))
	for _, f := range fired {
		a.logger.Warn("Alert fired", "metric", f.rule.Metric, "value", f.value, "threshold", f.rule.Threshold)
		if a.observer != nil {
			a.observer.AlertFired(string(f.rule.Metric))
		}
		if a.notifier != nil {
			a.notifier.Send(ctx, a.format(f))
		}
		metrics = append(metrics, f.rule.Metric)
	}
	return metrics
}

// States returns a copy of every rule's state
func (a *Alerter) States() map[Metric]State {
	out := make(map[Metric]State)
	if a == nil {
		return out
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for m, st := range a.states {
		out[m] = *st
	}
	return out
}

// metricValue extracts the watched value; ok is false when the sample lacks it
func metricValue(m Metric, s types.Sample) (float64, bool) {
	switch m {
	case MetricCPU:
		return s.CPUPercent, true
	case MetricMemory:
		// A zero total yields 0, which never triggers
		return s.MemoryPercent(), true
	case MetricDisk:
		return s.DiskPercent, true
	case MetricTemperature:
		if s.Temperature == nil || s.TemperatureSource != types.TempMeasured {
			return 0, false
		}
		return *s.Temperature, true
	}
	return 0, false
}

func (a *Alerter) format(f firing) string {
	unit := "%"
	if f.rule.Metric == MetricTemperature {
		unit = "°C"
	}

	var b strings.Builder
	b.WriteString("⚠️ <b>WARNING ALERT</b>\n\n")
	fmt.Fprintf(&b, "<b>Metric:</b> %s\n", metricLabel(f.rule.Metric))
	fmt.Fprintf(&b, "<b>Current Value:</b> %.1f%s\n", f.value, unit)
	fmt.Fprintf(&b, "<b>Threshold:</b> %.0f%s\n", f.rule.Threshold, unit)
	if a.hostname != "" {
		fmt.Fprintf(&b, "<b>Host:</b> %s\n", html.EscapeString(a.hostname))
	}
	fmt.Fprintf(&b, "<b>Time:</b> %s", a.now().Format(time.DateTime))
	return b.String()
}

func metricLabel(m Metric) string {
	switch m {
	case MetricCPU:
		return "CPU"
	case MetricMemory:
		return "Memory"
	case MetricDisk:
		return "Disk"
	case MetricTemperature:
		return "Temperature"
	}
	return string(m)
}
