package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// LatestSource provides the most recent sample
type LatestSource interface {
	Latest() (types.Sample, bool)
}

// HostSource provides host facts for the status report
type HostSource interface {
	Host(ctx context.Context) (*types.HostInfo, error)
}

const noSampleReply = "No samples collected yet, try again in a moment."

// HelpExecutor answers /help and /start
type HelpExecutor struct{}

func (HelpExecutor) SupportedCommands() []string { return []string{"help", "start"} }

func (HelpExecutor) Execute(_ context.Context, _ *Request) (string, error) {
	return "<b>System Monitor</b>\n\n" +
		"/status - full system report\n" +
		"/cpu - CPU usage\n" +
		"/memory - memory usage\n" +
		"/temp - CPU temperature\n" +
		"/help - this message", nil
}

// UnknownExecutor answers any other slash command
type UnknownExecutor struct{}

func (UnknownExecutor) SupportedCommands() []string { return nil }

func (UnknownExecutor) Execute(_ context.Context, req *Request) (string, error) {
	return fmt.Sprintf("Command /%s not recognized. Use /status or /help.", req.Command), nil
}

// StatusExecutor answers /status with the full report
type StatusExecutor struct {
	latest LatestSource
	host   HostSource
	now    func() time.Time
}

// NewStatusExecutor creates the /status executor; host may be nil
func NewStatusExecutor(latest LatestSource, host HostSource) *StatusExecutor {
	return &StatusExecutor{latest: latest, host: host, now: time.Now}
}

func (e *StatusExecutor) SupportedCommands() []string { return []string{"status"} }

func (e *StatusExecutor) Execute(ctx context.Context, _ *Request) (string, error) {
	s, ok := e.latest.Latest()
	if !ok {
		return noSampleReply, nil
	}

	var info *types.HostInfo
	if e.host != nil {
		// Missing host facts degrade the report, they do not fail it
		info, _ = e.host.Host(ctx)
	}
	return FormatStatus(s, info, e.now()), nil
}

// MetricExecutor answers /cpu, /memory and /temp with one line each
type MetricExecutor struct {
	latest LatestSource
}

// NewMetricExecutor creates the single-metric executor
func NewMetricExecutor(latest LatestSource) *MetricExecutor {
	return &MetricExecutor{latest: latest}
}

func (e *MetricExecutor) SupportedCommands() []string { return []string{"cpu", "memory", "temp"} }

func (e *MetricExecutor) Execute(_ context.Context, req *Request) (string, error) {
	s, ok := e.latest.Latest()
	if !ok {
		return noSampleReply, nil
	}

	switch req.Command {
	case "cpu":
		return fmt.Sprintf("<b>CPU:</b> %.1f%%", s.CPUPercent), nil
	case "memory":
		return fmt.Sprintf("<b>Memory:</b> %.1f%% (%s / %s)",
			s.MemoryPercent(), formatGB(s.MemoryUsed), formatGB(s.MemoryTotal)), nil
	case "temp":
		return "<b>CPU Temperature:</b> " + formatTemperature(s), nil
	}
	return "", fmt.Errorf("unsupported metric %q", req.Command)
}

// FormatStatus renders the /status report
func FormatStatus(s types.Sample, info *types.HostInfo, now time.Time) string {
	emoji := "✅"
	if s.CPUPercent > 80 || s.MemoryPercent() > 85 || s.DiskPercent > 90 {
		emoji = "⚠️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>System Status</b>\n\n", emoji)
	if info != nil {
		fmt.Fprintf(&b, "Host: %s (%s)\n", info.Hostname, info.Platform)
		fmt.Fprintf(&b, "Uptime: %s\n", formatUptime(info.Uptime))
		fmt.Fprintf(&b, "Processes: %d\n\n", info.Processes)
	}

	b.WriteString("<b>CPU:</b>\n")
	fmt.Fprintf(&b, "Usage: %.1f%%\n", s.CPUPercent)
	if s.FrequencyGHz != nil {
		fmt.Fprintf(&b, "Frequency: %.2f GHz\n", *s.FrequencyGHz)
	}
	if info != nil && info.LogicalCores > 0 {
		fmt.Fprintf(&b, "Cores: %d physical / %d logical\n", info.PhysicalCores, info.LogicalCores)
	}

	b.WriteString("\n<b>Memory:</b>\n")
	fmt.Fprintf(&b, "Usage: %.1f%%\n", s.MemoryPercent())
	fmt.Fprintf(&b, "Used: %s / %s\n", formatGB(s.MemoryUsed), formatGB(s.MemoryTotal))
	if s.SwapTotal > 0 {
		fmt.Fprintf(&b, "Swap: %s / %s\n", formatGB(s.SwapUsed), formatGB(s.SwapTotal))
	}

	b.WriteString("\n<b>Disk:</b>\n")
	fmt.Fprintf(&b, "Usage: %.1f%%\n", s.DiskPercent)

	b.WriteString("\n<b>Sensors:</b>\n")
	fmt.Fprintf(&b, "CPU Temperature: %s\n", formatTemperature(s))
	fmt.Fprintf(&b, "Time: %s", now.Format(time.DateTime))
	return b.String()
}

func formatGB(bytes uint64) string {
	return fmt.Sprintf("%.1f GB", float64(bytes)/(1<<30))
}

func formatTemperature(s types.Sample) string {
	if s.Temperature == nil {
		return "n/a"
	}
	out := fmt.Sprintf("%.1f°C", *s.Temperature)
	if s.TemperatureSource == types.TempSynthesized {
		out += " (estimated)"
	}
	return out
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
