package probes

import (
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

const (
	maxPlausibleTemp = 150.0
	idleBaseTemp     = 45.0
	loadTempFactor   = 0.3
)

// cpuSensorKeys are substrings of sensor keys that belong to the CPU package
var cpuSensorKeys = []string{"coretemp", "k10temp", "zenpower", "cpu_thermal", "cpu-thermal", "package", "tctl", "tdie", "soc_thermal"}

// SynthesizeTemperature derives a stand-in CPU temperature from load.
// It is not a measurement; callers must tag it as synthesized.
func SynthesizeTemperature(cpuPercent float64) float64 {
	return round(clamp(idleBaseTemp+loadTempFactor*clamp(cpuPercent, 0, 100), 0, maxPlausibleTemp), 1)
}

// pickCPUTemperature returns the hottest plausible CPU sensor reading
func pickCPUTemperature(stats []host.TemperatureStat) (float64, bool) {
	best, found := 0.0, false
	for _, s := range stats {
		if s.Temperature <= 0 || s.Temperature >= maxPlausibleTemp {
			continue
		}
		key := strings.ToLower(s.SensorKey)
		for _, k := range cpuSensorKeys {
			if strings.Contains(key, k) {
				if !found || s.Temperature > best {
					best = s.Temperature
					found = true
				}
				break
			}
		}
	}
	return best, found
}
