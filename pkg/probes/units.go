package probes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = map[string]uint64{
	"":  1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
	"P": 1 << 50,
}

// ParseSize converts tool output sizes such as "15Gi", "512M", "1,5G", "2048" or "16384 kB" to bytes.
// Suffixes are binary multiples, which is what free, df -h and /proc/meminfo print.
func ParseSize(s string) (uint64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	v = strings.ReplaceAll(v, " ", "")
	v = strings.ReplaceAll(v, ",", ".")

	upper := strings.ToUpper(v)
	upper = strings.TrimSuffix(upper, "B")
	upper = strings.TrimSuffix(upper, "I")

	i := len(upper)
	for i > 0 && (upper[i-1] < '0' || upper[i-1] > '9') && upper[i-1] != '.' {
		i--
	}
	number, suffix := upper[:i], upper[i:]

	mult, ok := sizeUnits[suffix]
	if !ok {
		return 0, fmt.Errorf("unknown size suffix %q in %q", suffix, s)
	}

	if n, err := strconv.ParseUint(number, 10, 64); err == nil {
		if n > math.MaxUint64/mult {
			return 0, fmt.Errorf("size %q overflows uint64", s)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(number, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	bytes := f * float64(mult)
	if bytes >= math.MaxUint64 {
		return 0, fmt.Errorf("size %q overflows uint64", s)
	}
	return uint64(bytes), nil
}

// ParsePercent converts "42%" or "42" to 42
func ParsePercent(s string) (float64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q", s)
	}
	if f < 0 || f > 100 {
		return 0, fmt.Errorf("percentage out of range %q", s)
	}
	return f, nil
}
