// Package sampler drives the probe at a fixed period and fans each sample out
// to the store and the alerter.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/alert"
	"github.com/gravito-framework/pulsar-go/pkg/probes"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const (
	DefaultPeriod       = time.Second
	DefaultProbeTimeout = probes.DefaultProbeTimeout
)

var (
	// ErrTickInProgress is returned when a tick starts while another is running
	ErrTickInProgress = errors.New("sampler: tick already in progress")
	// ErrNotPrimed is returned for the first probe, before a CPU delta exists
	ErrNotPrimed = errors.New("sampler: cpu baseline not primed")
)

// Health problems reported by the last tick
const (
	ProblemProbe = "probe_failed"
	ProblemStore = "store_failed"
)

// Appender persists samples
type Appender interface {
	Append(ctx context.Context, s types.Sample) error
}

// Evaluator applies alert rules to a sample
type Evaluator interface {
	Evaluate(ctx context.Context, s types.Sample) []alert.Metric
}

// Observer is told about every tick outcome
type Observer interface {
	SampleRecorded(s types.Sample)
	ProbeFailed()
	StoreFailed()
	TickSkipped()
}

// Sampler owns the periodic tick
type Sampler struct {
	probe        probes.SystemProbe
	store        Appender
	alerter      Evaluator
	observer     Observer
	logger       *slog.Logger
	period       time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	latest   atomic.Pointer[types.Sample]
	inFlight atomic.Bool

	mu       sync.Mutex
	problems []string
}

// Option is a functional option for configuring the Sampler
type Option func(*Sampler)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithAlerter evaluates every stored sample
func WithAlerter(e Evaluator) Option {
	return func(s *Sampler) {
		s.alerter = e
	}
}

// WithObserver records tick outcomes, e.g. in metrics
func WithObserver(o Observer) Option {
	return func(s *Sampler) {
		s.observer = o
	}
}

// WithPeriod sets the tick period
func WithPeriod(d time.Duration) Option {
	return func(s *Sampler) {
		s.period = d
	}
}

// WithProbeTimeout bounds one probe call
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		s.probeTimeout = d
	}
}

// New creates a sampler reading from probe and appending to store
func New(probe probes.SystemProbe, store Appender, opts ...Option) *Sampler {
	s := &Sampler{
		probe:        probe,
		store:        store,
		logger:       slog.Default(),
		period:       DefaultPeriod,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Period returns the tick period
func (s *Sampler) Period() time.Duration {
	return s.period
}

// Latest returns the most recent sample, if any
func (s *Sampler) Latest() (types.Sample, bool) {
	p := s.latest.Load()
	if p == nil {
		return types.Sample{}, false
	}
	return *p, true
}

// Problems returns the failures seen by the last completed tick
func (s *Sampler) Problems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.problems...)
}

func (s *Sampler) setProblems(p []string) {
	s.mu.Lock()
	s.problems = p
	s.mu.Unlock()
}

// Run ticks every period until ctx is cancelled. Ticks run in their own
// goroutine so a slow probe shows up as skipped ticks rather than drift.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info("🫀 Sampler started", "period", s.period)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sampler stopped")
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Tick(ctx)
			}()
		}
	}
}

// Tick probes once and, for a valid reading, appends, evaluates and caches the sample.
// Store failures are logged and do not stop alert evaluation.
func (s *Sampler) Tick(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		if s.observer != nil {
			s.observer.TickSkipped()
		}
		s.logger.Debug("Tick skipped, previous tick still running")
		return ErrTickInProgress
	}
	defer s.inFlight.Store(false)

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	raw, err := s.probe.Probe(probeCtx)
	cancel()
	if err == nil && raw == nil {
		err = &probes.ProbeError{Op: "probe", Err: fmt.Errorf("no reading")}
	}
	if err == nil && raw.CPUPercent < 0 {
		err = &probes.ProbeError{Op: "cpu", Err: fmt.Errorf("cpu usage unavailable")}
	}
	if err == nil && !raw.CPUPrimed {
		s.logger.Debug("Priming CPU baseline, waiting for next tick")
		return ErrNotPrimed
	}
	if err == nil && !raw.Valid() {
		err = &probes.ProbeError{Op: "cpu", Err: fmt.Errorf("reading out of range")}
	}
	if err != nil {
		if s.observer != nil {
			s.observer.ProbeFailed()
		}
		s.setProblems([]string{ProblemProbe})
		s.logger.Warn("Probe failed, skipping tick", "error", err)
		return err
	}

	sample := newSample(s.now(), raw)

	var problems []string
	if err := s.store.Append(ctx, sample); err != nil {
		if s.observer != nil {
			s.observer.StoreFailed()
		}
		problems = append(problems, ProblemStore)
		s.logger.Error("Failed to persist sample", "error", err)
	}

	if s.alerter != nil {
		s.alerter.Evaluate(ctx, sample)
	}

	s.latest.Store(&sample)
	if s.observer != nil {
		s.observer.SampleRecorded(sample)
	}
	s.setProblems(problems)

	s.logger.Debug("Sample recorded",
		"cpu", sample.CPUPercent,
		"memory", sample.MemoryPercent(),
		"disk", sample.DiskPercent,
	)
	return nil
}

func newSample(ts time.Time, raw *probes.RawCounters) types.Sample {
	return types.Sample{
		Timestamp:         ts,
		CPUPercent:        raw.CPUPercent,
		MemoryTotal:       raw.MemoryTotal,
		MemoryUsed:        raw.MemoryUsed,
		DiskPercent:       raw.DiskPercent,
		DiskTotal:         raw.DiskTotal,
		DiskUsed:          raw.DiskUsed,
		SwapTotal:         raw.SwapTotal,
		SwapUsed:          raw.SwapUsed,
		Temperature:       raw.Temperature,
		TemperatureSource: raw.TemperatureSource,
		FrequencyGHz:      raw.FrequencyGHz,
	}
}
