package sysstats

import (
	"fmt"
	"strconv"
	"strings"
)

// parseThermalZone converts a sysfs millidegree reading ("48312\n") to °C.
func parseThermalZone(out string) (float64, error) {
	milli, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("bad thermal zone reading: %w", err)
	}
	return milli / 1000, nil
}

// parseVcgencmdTemp parses vcgencmd output of the form "temp=48.3'C".
func parseVcgencmdTemp(out string) (float64, error) {
	s := strings.TrimSpace(out)
	s = strings.TrimPrefix(s, "temp=")
	s = strings.TrimSuffix(s, "'C")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad vcgencmd temp %q: %w", out, err)
	}
	return v, nil
}

func parseUptime(out string) (float64, error) {
	fields := strings.Fields(out)
	if len(fields) < 1 {
		return 0, fmt.Errorf("empty uptime reading")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func parseLoadAvg(out string) (*LoadAvg, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return nil, fmt.Errorf("short loadavg line %q", out)
	}
	var vals [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("bad loadavg field %q: %w", fields[i], err)
		}
		vals[i] = v
	}
	return &LoadAvg{One: vals[0], Five: vals[1], Fifteen: vals[2]}, nil
}

func parseMemInfo(out string) (*Memory, error) {
	var total, available uint64
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("meminfo missing MemTotal")
	}
	mem := &Memory{
		TotalKB:     total,
		AvailableKB: available,
		UsedKB:      total - available,
	}
	mem.UsedPercent = 100 * float64(mem.UsedKB) / float64(total)
	return mem, nil
}

// parseCPUTimes reads the aggregate "cpu" line of /proc/stat and returns the
// total and idle jiffy counters. Idle includes iowait.
func parseCPUTimes(out string) (total, idle uint64, err error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		if len(fields) < 5 {
			return 0, 0, fmt.Errorf("short cpu line %q", line)
		}
		for i, f := range fields {
			v, perr := strconv.ParseUint(f, 10, 64)
			if perr != nil {
				return 0, 0, fmt.Errorf("bad cpu counter %q: %w", f, perr)
			}
			total += v
			if i == 3 || i == 4 { // idle + iowait
				idle += v
			}
		}
		return total, idle, nil
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line")
}
