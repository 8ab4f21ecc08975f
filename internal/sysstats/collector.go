// Package sysstats assembles a best-effort snapshot of host health. Every
// sub-metric fails independently; a missing sensor yields a null field, never
// an error for the whole snapshot.
package sysstats

import (
	"context"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pidash/internal/command"
)

const cpuSampleGap = 200 * time.Millisecond

type LoadAvg struct {
	One     float64 `json:"1m"`
	Five    float64 `json:"5m"`
	Fifteen float64 `json:"15m"`
}

type Memory struct {
	TotalKB     uint64  `json:"total_kb"`
	UsedKB      uint64  `json:"used_kb"`
	AvailableKB uint64  `json:"available_kb"`
	UsedPercent float64 `json:"used_percent"`
}

type Disk struct {
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type Snapshot struct {
	CPUTempC      *float64 `json:"cpu_temp_c"`
	GPUTempC      *float64 `json:"gpu_temp_c"`
	UptimeSeconds *float64 `json:"uptime_seconds"`
	Load          *LoadAvg `json:"load"`
	Memory        *Memory  `json:"memory"`
	CPUPercent    *float64 `json:"cpu_percent"`
	Disk          *Disk    `json:"disk"`
}

type Collector struct {
	runner *command.Runner
	sleep  func(time.Duration)
	statfs func(path string) (*Disk, error)

	vcgencmdOnce  sync.Once
	vcgencmdFound bool
}

func NewCollector(runner *command.Runner) *Collector {
	return &Collector{
		runner: runner,
		sleep:  time.Sleep,
		statfs: statfsRoot,
	}
}

func (c *Collector) hasVcgencmd() bool {
	c.vcgencmdOnce.Do(func() {
		_, err := exec.LookPath("vcgencmd")
		c.vcgencmdFound = err == nil
	})
	return c.vcgencmdFound
}

// Collect gathers all sub-metrics. Sub-metric failures are logged at debug
// level and surface as nil fields in the snapshot.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	var snap Snapshot

	if out, err := c.runner.Execute(ctx, "cpu_temp", map[string]string{"zone": "0"}); err == nil {
		if v, err := parseThermalZone(out); err == nil {
			snap.CPUTempC = &v
		}
	} else {
		log.Debugf("sysstats: cpu temp unavailable: %v", err)
	}

	if c.hasVcgencmd() {
		if out, err := c.runner.Execute(ctx, "gpu_temp", nil); err == nil {
			if v, err := parseVcgencmdTemp(out); err == nil {
				snap.GPUTempC = &v
			}
		} else {
			log.Debugf("sysstats: gpu temp unavailable: %v", err)
		}
	}

	if out, err := c.runner.Execute(ctx, "uptime", nil); err == nil {
		if v, err := parseUptime(out); err == nil {
			snap.UptimeSeconds = &v
		}
	}

	if out, err := c.runner.Execute(ctx, "loadavg", nil); err == nil {
		if load, err := parseLoadAvg(out); err == nil {
			snap.Load = load
		}
	}

	if out, err := c.runner.Execute(ctx, "meminfo", nil); err == nil {
		if mem, err := parseMemInfo(out); err == nil {
			snap.Memory = mem
		}
	}

	if pct, err := c.cpuPercent(ctx); err == nil {
		snap.CPUPercent = &pct
	} else {
		log.Debugf("sysstats: cpu usage unavailable: %v", err)
	}

	if disk, err := c.statfs("/"); err == nil {
		snap.Disk = disk
	}

	return snap
}

// cpuPercent samples the cumulative counters twice; a single /proc/stat read
// only gives totals since boot, not current utilisation.
func (c *Collector) cpuPercent(ctx context.Context) (float64, error) {
	first, err := c.runner.Execute(ctx, "cpustat", nil)
	if err != nil {
		return 0, err
	}
	t1, i1, err := parseCPUTimes(first)
	if err != nil {
		return 0, err
	}

	c.sleep(cpuSampleGap)

	second, err := c.runner.Execute(ctx, "cpustat", nil)
	if err != nil {
		return 0, err
	}
	t2, i2, err := parseCPUTimes(second)
	if err != nil {
		return 0, err
	}

	return cpuPercentFromSamples(t1, i1, t2, i2), nil
}

func cpuPercentFromSamples(total1, idle1, total2, idle2 uint64) float64 {
	totalDelta := float64(total2) - float64(total1)
	if totalDelta <= 0 {
		return 0
	}
	idleDelta := float64(idle2) - float64(idle1)
	pct := 100 * (totalDelta - idleDelta) / totalDelta
	if pct < 0 {
		return 0
	}
	return pct
}

func statfsRoot(path string) (*Disk, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	d := &Disk{TotalBytes: total, FreeBytes: free}
	if total > 0 {
		d.UsedPercent = 100 * float64(total-free) / float64(total)
	}
	return d, nil
}
