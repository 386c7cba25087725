package sources

import (
	"math"
	"runtime"
	"sync"
	"time"

	"PulseBoard/internal/domain/models"
	applogger "PulseBoard/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/procfs"
)

// SystemCollector samples host and process telemetry. Host CPU and memory come
// from procfs; where it is unavailable those fields fall back to the Go
// runtime's own view.
type SystemCollector struct {
	fs      *procfs.FS
	clock   clockwork.Clock
	started time.Time
	log     *applogger.Logger

	mu      sync.Mutex
	prevCPU *procfs.CPUStat
}

// NewSystemCollector reads procfs under procRoot ("" means /proc).
func NewSystemCollector(procRoot string, clock clockwork.Clock, log *applogger.Logger) *SystemCollector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = applogger.Nop()
	}
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	c := &SystemCollector{clock: clock, started: clock.Now(), log: log}
	if fs, err := procfs.NewFS(procRoot); err == nil {
		c.fs = &fs
	} else {
		log.Warn("procfs unavailable, host telemetry limited", applogger.Error(err))
	}
	return c
}

// Collect takes one sample. CPU usage is measured over the interval since the
// previous call; the first call measures since boot.
func (c *SystemCollector) Collect() models.SystemData {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := models.SystemData{
		HeapUsed:     ms.HeapAlloc,
		HeapMax:      ms.HeapSys,
		ThreadCount:  runtime.NumGoroutine(),
		GCCount:      ms.NumGC,
		GCTimeMillis: int64(ms.PauseTotalNs / uint64(time.Millisecond)),
		UptimeMillis: c.clock.Since(c.started).Milliseconds(),
		MemoryUsed:   ms.Sys,
	}
	out.HeapUsagePercent = percent(float64(ms.HeapAlloc), float64(ms.HeapSys))

	if c.fs == nil {
		return out
	}

	if st, err := c.fs.Stat(); err == nil {
		c.mu.Lock()
		out.CPUUsage = CPUPercent(c.prevCPU, st.CPUTotal)
		cur := st.CPUTotal
		c.prevCPU = &cur
		c.mu.Unlock()
	} else {
		c.log.Debug("read /proc/stat", applogger.Error(err))
	}

	if mi, err := c.fs.Meminfo(); err == nil && mi.MemTotal != nil {
		total := *mi.MemTotal * 1024
		avail := total
		if mi.MemAvailable != nil {
			avail = *mi.MemAvailable * 1024
		} else if mi.MemFree != nil {
			avail = *mi.MemFree * 1024
		}
		out.MemoryTotal = total
		out.MemoryUsed = total - min(avail, total)
		out.MemoryUsagePercent = percent(float64(out.MemoryUsed), float64(total))
	} else if err != nil {
		c.log.Debug("read /proc/meminfo", applogger.Error(err))
	}
	return out
}

// CPUPercent is the busy share of CPU time between two samples, rounded to
// two decimals. A nil prev measures from zero.
func CPUPercent(prev *procfs.CPUStat, cur procfs.CPUStat) float64 {
	var p procfs.CPUStat
	if prev != nil {
		p = *prev
	}
	idle := (cur.Idle + cur.Iowait) - (p.Idle + p.Iowait)
	total := cpuTotal(cur) - cpuTotal(p)
	if total <= 0 {
		return 0
	}
	return round2((total - idle) / total * 100)
}

func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(part / whole * 100)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
