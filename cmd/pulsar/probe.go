package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gravito-framework/pulsar-go/pkg/config"
	"github.com/gravito-framework/pulsar-go/pkg/probes"
	"github.com/gravito-framework/pulsar-go/pkg/sampler"
	"github.com/gravito-framework/pulsar-go/pkg/store"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

func newProbeCommand() *cobra.Command {
	var mode string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Take one sample and print it as JSON",
		Long: `Probe the host twice, interval apart so CPU usage has a baseline, and
print the resulting sample together with host facts. Useful to check that a
probe mode works on this machine before running the daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return probeOnce(cmd.Context(), cmd.OutOrStdout(), mode, interval)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", config.ProbeGopsutil, "Probe mode: gopsutil or command")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Delay between the baseline and the measured probe")
	return cmd
}

func probeOnce(ctx context.Context, out io.Writer, mode string, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var probe probes.SystemProbe
	switch mode {
	case config.ProbeGopsutil:
		p, err := probes.NewGoSystemProbe(ctx)
		if err != nil {
			return fmt.Errorf("failed to create system probe: %w", err)
		}
		probe = p
	case config.ProbeCommand:
		probe = probes.NewCommandProbe(nil)
	default:
		return fmt.Errorf("unknown probe mode %q", mode)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := sampler.New(probe, store.NewMemoryStore(1), sampler.WithLogger(logger))

	if err := s.Tick(ctx); err != nil && !errors.Is(err, sampler.ErrNotPrimed) {
		return err
	}
	if _, ok := s.Latest(); !ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if err := s.Tick(ctx); err != nil {
			return err
		}
	}

	sample, _ := s.Latest()
	report := struct {
		Sample types.Sample    `json:"sample"`
		Host   *types.HostInfo `json:"host,omitempty"`
	}{Sample: sample}

	if info, err := probe.Host(ctx); err != nil {
		logger.Warn("Host facts unavailable", "error", err)
	} else {
		report.Host = info
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
