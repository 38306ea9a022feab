package probes

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultProbeTimeout bounds a single probe, including any external process it spawns
const DefaultProbeTimeout = 2 * time.Second

// GoSystemProbe implements SystemProbe using gopsutil
type GoSystemProbe struct {
	cpu      CPUTracker
	timeout  time.Duration
	isDarwin bool
	run      Runner
}

// NewGoSystemProbe creates a probe and records the CPU baseline so the
// first Probe call already has an interval to measure
func NewGoSystemProbe(ctx context.Context) (*GoSystemProbe, error) {
	p := &GoSystemProbe{
		timeout:  DefaultProbeTimeout,
		isDarwin: runtime.GOOS == "darwin",
		run:      ExecRunner,
	}

	times, err := cpu.TimesWithContext(ctx, false)
	if err == nil && len(times) > 0 {
		p.cpu.Update(toCPUTimes(times[0]))
	} else if !p.isDarwin {
		return nil, probeErr("cpu", errOrEmpty(err))
	}

	return p, nil
}

// Probe collects current host counters
func (p *GoSystemProbe) Probe(ctx context.Context) (*RawCounters, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw := &RawCounters{CPUPercent: CPUUnknown}

	// CPU failures are reported through the sentinel, not an error
	raw.CPUPercent, raw.CPUPrimed = p.sampleCPU(ctx)

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, probeErr("memory", err)
	}
	raw.MemoryTotal = vm.Total
	// Used is total minus available, not the kernel "used" field
	raw.MemoryUsed = vm.Total - vm.Available

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		raw.SwapTotal = sw.Total
		raw.SwapUsed = sw.Used
	}

	total, used, err := p.diskUsage(ctx)
	if err != nil {
		return nil, probeErr("disk", err)
	}
	raw.DiskTotal, raw.DiskUsed = total, used
	raw.DiskPercent = round(types.Ratio(used, total), 2)

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 && infos[0].Mhz > 0 {
		ghz := round(infos[0].Mhz/1000, 2)
		raw.FrequencyGHz = &ghz
	}

	p.fillTemperature(ctx, raw)

	return raw, nil
}

// sampleCPU takes a tick snapshot and calculates usage since the previous one
func (p *GoSystemProbe) sampleCPU(ctx context.Context) (float64, bool) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err == nil && len(times) > 0 {
		return p.cpu.Update(toCPUTimes(times[0]))
	}

	if p.isDarwin {
		// Fallback for Darwin when CGO is disabled or cpu.Times fails
		out, err := p.run(ctx, "top", "-l", "1", "-n", "0")
		if err == nil {
			if val, err := ParseTopCPU(string(out)); err == nil {
				return val, true
			}
		}
	}

	return CPUUnknown, false
}

// diskUsage sums all physical partitions, like `df --total`
func (p *GoSystemProbe) diskUsage(ctx context.Context) (uint64, uint64, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err == nil {
		var total, used uint64
		seen := make(map[string]bool)
		for _, part := range parts {
			if seen[part.Device] {
				continue
			}
			seen[part.Device] = true

			u, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil || u.Total == 0 {
				continue
			}
			total += u.Total
			used += u.Used
		}
		if total > 0 {
			return total, used, nil
		}
	}

	u, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return 0, 0, err
	}
	return u.Total, u.Used, nil
}

func (p *GoSystemProbe) fillTemperature(ctx context.Context, raw *RawCounters) {
	// gopsutil may return readings together with a warnings error
	stats, _ := host.SensorsTemperaturesWithContext(ctx)
	if t, ok := pickCPUTemperature(stats); ok {
		t = round(t, 1)
		raw.Temperature = &t
		raw.TemperatureSource = types.TempMeasured
		return
	}

	if raw.CPUPercent >= 0 {
		t := SynthesizeTemperature(raw.CPUPercent)
		raw.Temperature = &t
		raw.TemperatureSource = types.TempSynthesized
	}
}

// Host returns uptime, process count and core counts
func (p *GoSystemProbe) Host(ctx context.Context) (*types.HostInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	hostname, _ := os.Hostname()
	info := &types.HostInfo{
		Hostname:     hostname,
		Platform:     runtime.GOOS,
		LogicalCores: runtime.NumCPU(),
	}

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, probeErr("uptime", err)
	}
	info.UptimeSeconds = uptime
	info.Uptime = time.Duration(uptime) * time.Second

	if pids, err := process.PidsWithContext(ctx); err == nil {
		info.Processes = len(pids)
	}

	if c, err := cpu.CountsWithContext(ctx, true); err == nil && c > 0 {
		info.LogicalCores = c
	}
	if c, err := cpu.CountsWithContext(ctx, false); err == nil && c > 0 {
		info.PhysicalCores = c
	}

	return info, nil
}

func toCPUTimes(t cpu.TimesStat) CPUTimes {
	return CPUTimes{
		Idle:  t.Idle + t.Iowait,
		Total: t.Total(),
	}
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("no cpu times reported")
}

// Ensure GoSystemProbe implements SystemProbe
var _ SystemProbe = (*GoSystemProbe)(nil)
