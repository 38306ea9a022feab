// Package types defines shared types for the Pulsar host agent.
package types

import "time"

// TemperatureSource tells whether a temperature reading came from a sensor
type TemperatureSource string

const (
	TempMeasured    TemperatureSource = "measured"
	TempSynthesized TemperatureSource = "synthesized"
	TempUnavailable TemperatureSource = ""
)

// Sample is one point-in-time reading of the host.
// Samples are passed by value and never modified after the sampler builds them.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu"` // 0-100

	MemoryTotal uint64 `json:"memory_total"` // bytes
	MemoryUsed  uint64 `json:"memory_used"`  // bytes

	DiskPercent float64 `json:"disk_usage"` // 0-100
	DiskTotal   uint64  `json:"disk_total"`
	DiskUsed    uint64  `json:"disk_used"`

	SwapTotal uint64 `json:"swap_total"`
	SwapUsed  uint64 `json:"swap_used"`

	Temperature       *float64          `json:"cpu_temp,omitempty"` // Celsius
	TemperatureSource TemperatureSource `json:"cpu_temp_source,omitempty"`
	FrequencyGHz      *float64          `json:"cpu_freq,omitempty"`
}

// MemoryPercent returns used/total as a percentage, 0 when total is unknown.
func (s Sample) MemoryPercent() float64 {
	return Ratio(s.MemoryUsed, s.MemoryTotal)
}

// SwapPercent returns swap used/total as a percentage, 0 when there is no swap.
func (s Sample) SwapPercent() float64 {
	return Ratio(s.SwapUsed, s.SwapTotal)
}

// Ratio returns used/total*100 guarding against a zero total.
func Ratio(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// HostInfo contains slow-changing facts about the host, reported next to samples
type HostInfo struct {
	Hostname      string        `json:"hostname"`
	Platform      string        `json:"platform"`
	Uptime        time.Duration `json:"-"`
	UptimeSeconds uint64        `json:"uptime"`
	Processes     int           `json:"processes"`
	LogicalCores  int           `json:"logical_cores"`
	PhysicalCores int           `json:"physical_cores"`
}

// InboundMessage is a text message received from the messaging channel.
type InboundMessage struct {
	UpdateID int64  `json:"update_id"`
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text"`
}

// HeartbeatPayload is the document published to Redis for fleet dashboards
type HeartbeatPayload struct {
	ID        string   `json:"id"`
	Hostname  string   `json:"hostname"`
	Platform  string   `json:"platform"`
	PID       int      `json:"pid"`
	Version   string   `json:"version"`
	Host      HostInfo `json:"host"`
	Sample    *Sample  `json:"sample,omitempty"`
	Status    string   `json:"status"`           // "online", "degraded"
	Errors    []string `json:"errors,omitempty"` // probe or store failures
	Timestamp int64    `json:"timestamp"`
}
