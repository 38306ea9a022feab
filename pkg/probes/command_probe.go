package probes

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// Runner executes an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, killed when ctx expires
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CommandProbe reads counters from procfs and the output of free and df.
// It is the fallback for hosts where gopsutil cannot read everything.
type CommandProbe struct {
	cpu      CPUTracker
	timeout  time.Duration
	run      Runner
	readFile func(string) ([]byte, error)
}

// NewCommandProbe creates a probe backed by external tools
func NewCommandProbe(run Runner) *CommandProbe {
	if run == nil {
		run = ExecRunner
	}
	return &CommandProbe{
		timeout:  DefaultProbeTimeout,
		run:      run,
		readFile: os.ReadFile,
	}
}

// Probe collects current host counters
func (p *CommandProbe) Probe(ctx context.Context) (*RawCounters, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw := &RawCounters{CPUPercent: CPUUnknown}

	if stat, err := p.readFile("/proc/stat"); err == nil {
		if times, err := ParseProcStat(string(stat)); err == nil {
			raw.CPUPercent, raw.CPUPrimed = p.cpu.Update(times)
		}
	}

	out, err := p.run(ctx, "free", "-b")
	if err != nil {
		return nil, probeErr("memory", err)
	}
	free, err := ParseFree(string(out))
	if err != nil {
		return nil, probeErr("memory", err)
	}
	raw.MemoryTotal, raw.MemoryUsed = free.MemTotal, free.MemUsed
	raw.SwapTotal, raw.SwapUsed = free.SwapTotal, free.SwapUsed

	out, err = p.run(ctx, "df", "-P", "-k", "--total")
	if err != nil {
		return nil, probeErr("disk", err)
	}
	df, err := ParseDF(string(out), 1024)
	if err != nil {
		return nil, probeErr("disk", err)
	}
	raw.DiskTotal, raw.DiskUsed, raw.DiskPercent = df.Total, df.Used, df.Percent

	if data, err := p.readFile("/sys/class/thermal/thermal_zone0/temp"); err == nil {
		if milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64); err == nil {
			t := round(milli/1000, 1)
			if t > 0 && t < maxPlausibleTemp {
				raw.Temperature = &t
				raw.TemperatureSource = types.TempMeasured
			}
		}
	}
	if raw.Temperature == nil && raw.CPUPercent >= 0 {
		t := SynthesizeTemperature(raw.CPUPercent)
		raw.Temperature = &t
		raw.TemperatureSource = types.TempSynthesized
	}

	return raw, nil
}

// Host returns uptime and process count from procfs and ps
func (p *CommandProbe) Host(ctx context.Context) (*types.HostInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	hostname, _ := os.Hostname()
	info := &types.HostInfo{
		Hostname:     hostname,
		Platform:     runtime.GOOS,
		LogicalCores: runtime.NumCPU(),
	}

	data, err := p.readFile("/proc/uptime")
	if err != nil {
		return nil, probeErr("uptime", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, probeErr("uptime", fmt.Errorf("empty /proc/uptime"))
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, probeErr("uptime", err)
	}
	info.UptimeSeconds = uint64(secs)
	info.Uptime = time.Duration(secs) * time.Second

	if out, err := p.run(ctx, "ps", "-e", "-o", "pid="); err == nil {
		info.Processes = countNonEmptyLines(string(out))
	}

	return info, nil
}

// FreeOutput holds the Mem and Swap rows of `free`
type FreeOutput struct {
	MemTotal  uint64
	MemUsed   uint64
	SwapTotal uint64
	SwapUsed  uint64
}

// ParseFree parses `free` output in any unit mode (-b, -k, -h)
func ParseFree(out string) (*FreeOutput, error) {
	res := &FreeOutput{}
	foundMem := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		total, err := ParseSize(fields[1])
		if err != nil {
			continue
		}
		used, err := ParseSize(fields[2])
		if err != nil {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "mem:":
			res.MemTotal, res.MemUsed = total, used
			foundMem = true
		case "swap:":
			res.SwapTotal, res.SwapUsed = total, used
		}
	}

	if !foundMem {
		return nil, fmt.Errorf("no Mem row in free output")
	}
	return res, nil
}

// DFOutput holds aggregate filesystem usage
type DFOutput struct {
	Total   uint64
	Used    uint64
	Percent float64
}

// ParseDF parses POSIX `df -P` output. It prefers the "total" row printed by
// --total and otherwise sums every filesystem row. blockSize converts the
// numeric columns to bytes; sizes with unit suffixes are also accepted.
func ParseDF(out string, blockSize uint64) (*DFOutput, error) {
	var sum, totalRow *DFOutput

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || strings.EqualFold(fields[0], "filesystem") {
			continue
		}

		size, err1 := parseBlocks(fields[1], blockSize)
		used, err2 := parseBlocks(fields[2], blockSize)
		if err1 != nil || err2 != nil {
			continue
		}

		if fields[0] == "total" {
			pct, err := ParsePercent(fields[4])
			if err != nil {
				pct = round(types.Ratio(used, size), 2)
			}
			totalRow = &DFOutput{Total: size, Used: used, Percent: pct}
			continue
		}

		if sum == nil {
			sum = &DFOutput{}
		}
		sum.Total += size
		sum.Used += used
	}

	if totalRow != nil {
		return totalRow, nil
	}
	if sum == nil || sum.Total == 0 {
		return nil, fmt.Errorf("no filesystem rows in df output")
	}
	sum.Percent = round(types.Ratio(sum.Used, sum.Total), 2)
	return sum, nil
}

func parseBlocks(s string, blockSize uint64) (uint64, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n * blockSize, nil
	}
	return ParseSize(s)
}

// ParseProcStat reads the aggregate "cpu" line of /proc/stat
func ParseProcStat(out string) (CPUTimes, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}

		// user nice system idle iowait irq softirq steal; guest is already in user
		var vals [8]float64
		for i := 0; i < 8 && i+1 < len(fields); i++ {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return CPUTimes{}, fmt.Errorf("invalid cpu field %q: %w", fields[i+1], err)
			}
			vals[i] = float64(v)
		}

		var total float64
		for _, v := range vals {
			total += v
		}
		return CPUTimes{Idle: vals[3] + vals[4], Total: total}, nil
	}
	return CPUTimes{}, fmt.Errorf("no cpu line in /proc/stat")
}

// ParseTopCPU parses the "CPU usage:" line of macOS `top -l 1 -n 0`
func ParseTopCPU(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "CPU usage:") {
			continue
		}
		// Expected: CPU usage: 14.86% user, 8.41% sys, 76.71% idle
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}

		userVal, sysVal := 0.0, 0.0
		userPart := strings.TrimSpace(strings.TrimPrefix(parts[0], "CPU usage:"))
		if _, err := fmt.Sscanf(userPart, "%f%%", &userVal); err != nil {
			return 0, fmt.Errorf("parse user cpu: %w", err)
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f%%", &sysVal); err != nil {
			return 0, fmt.Errorf("parse sys cpu: %w", err)
		}

		return round(clamp(userVal+sysVal, 0, 100), 2), nil
	}

	return 0, fmt.Errorf("could not parse top output")
}

func countNonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// Ensure CommandProbe implements SystemProbe
var _ SystemProbe = (*CommandProbe)(nil)
