// Package telemetry samples OS and application metrics into a Heartbeat
// record. It never fails its caller: a metric that cannot be read is left
// at its zero value rather than aborting collection.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// ApplicationCounters is the application's own view of its counters; a
// Collector folds these into the heartbeat's application_stats section.
// A Collector built with nil counters leaves camera_status and
// application_stats at their zero value.
type ApplicationCounters interface {
	LastDetectionTime() *time.Time
	TotalDetectionsToday() int
	AppVersion() string
	RuntimeVersion() string
	Cameras() heartbeat.CameraStatus
}

// Collector produces Heartbeat snapshots for one store.
type Collector struct {
	storeID   string
	storeName string
	counters  ApplicationCounters
	diskPath  string

	probeURLs     []string
	probeInterval time.Duration
	probeClient   *http.Client

	mu            sync.Mutex
	lastProbe     time.Time
	probedOnce    bool
	recentSamples []heartbeat.NetworkSample
}

// New builds a Collector. diskPath is the filesystem mountpoint sampled for
// disk_free_gb/disk_usage_percent (e.g. "/"). counters may be nil.
func New(storeID, storeName, diskPath string, probeURLs []string, probeInterval time.Duration, counters ApplicationCounters) *Collector {
	return &Collector{
		storeID:       storeID,
		storeName:     storeName,
		counters:      counters,
		diskPath:      diskPath,
		probeURLs:     probeURLs,
		probeInterval: probeInterval,
		probeClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Collect samples the current system state. The resulting heartbeat's
// is_startup flag and application_stats.consecutive_failures /
// last_successful_connection are left at their zero value; the shipper
// (C3) owns that delivery-state bookkeeping and fills them in.
func (c *Collector) Collect(ctx context.Context) heartbeat.Heartbeat {
	now := time.Now()

	hb := heartbeat.Heartbeat{
		StoreID:   c.storeID,
		StoreName: c.storeName,
		Timestamp: now,
		LocationInfo: heartbeat.LocationInfo{
			Timezone:  now.Location().String(),
			LocalTime: now,
		},
	}

	hb.SystemStats = c.sampleSystemStats(ctx, now)
	hb.NetworkInfo = c.sampleNetworkInfo(ctx, now)
	hb.SystemStats.NetworkSpeedMbps = hb.NetworkInfo.CurrentSpeedMbps
	hb.SystemStats.NetworkConnected = hb.NetworkInfo.CurrentSpeedMbps == nil || *hb.NetworkInfo.CurrentSpeedMbps > 0

	if c.counters != nil {
		hb.CameraStatus = c.counters.Cameras()
		hb.ApplicationStats = heartbeat.ApplicationStats{
			LastDetectionTime:    c.counters.LastDetectionTime(),
			TotalDetectionsToday: c.counters.TotalDetectionsToday(),
			AppVersion:           c.counters.AppVersion(),
			RuntimeVersion:       c.counters.RuntimeVersion(),
		}
	}

	return hb
}

func (c *Collector) sampleSystemStats(ctx context.Context, now time.Time) heartbeat.SystemStats {
	var stats heartbeat.SystemStats

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		slog.Debug("sampling cpu percent failed", "error", err)
	} else if len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		slog.Debug("sampling memory failed", "error", err)
	} else {
		stats.MemPercent = vm.UsedPercent
		stats.MemAvailableGB = float64(vm.Available) / (1 << 30)
	}

	path := c.diskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err != nil {
		slog.Debug("sampling disk usage failed", "path", path, "error", err)
	} else {
		stats.DiskFreeGB = float64(du.Free) / (1 << 30)
		stats.DiskUsePercent = du.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.ProcessMemMB = float64(ms.Sys) / (1 << 20)

	if hi, err := host.InfoWithContext(ctx); err != nil {
		slog.Debug("sampling host uptime failed", "error", err)
	} else {
		stats.UptimeHours = float64(hi.Uptime) / 3600
	}

	return stats
}

// sampleNetworkInfo returns the amortized network-speed sample: measured on
// the first call after process start and then on c.probeInterval, cached in
// between. A fresh probe is never run on this call's return path if it is
// not due; the previous sample (or nil) is returned instead.
func (c *Collector) sampleNetworkInfo(ctx context.Context, now time.Time) heartbeat.NetworkInfo {
	c.mu.Lock()
	due := !c.probedOnce || now.Sub(c.lastProbe) >= c.probeInterval
	c.mu.Unlock()

	if due {
		if mbps, ok := c.probeNetworkSpeed(ctx); ok {
			c.mu.Lock()
			c.lastProbe = now
			c.probedOnce = true
			c.recentSamples = append(c.recentSamples, heartbeat.NetworkSample{Mbps: mbps, MeasuredAt: now})
			if len(c.recentSamples) > 5 {
				c.recentSamples = c.recentSamples[len(c.recentSamples)-5:]
			}
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.lastProbe = now
			c.probedOnce = true
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	info := heartbeat.NetworkInfo{
		RecentSamples: append([]heartbeat.NetworkSample(nil), c.recentSamples...),
	}
	if len(c.recentSamples) > 0 {
		latest := c.recentSamples[len(c.recentSamples)-1].Mbps
		info.CurrentSpeedMbps = &latest
	}
	return info
}

// probeNetworkSpeed measures throughput against a small set of probe URLs
// and returns the arithmetic mean of the ones that succeeded. Individual
// probe failures are tolerated; total failure yields ok=false.
func (c *Collector) probeNetworkSpeed(ctx context.Context) (float64, bool) {
	if len(c.probeURLs) == 0 {
		return 0, false
	}

	var sum float64
	var n int
	for _, u := range c.probeURLs {
		mbps, err := c.probeOne(ctx, u)
		if err != nil {
			slog.Debug("network speed probe failed", "url", u, "error", err)
			continue
		}
		sum += mbps
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (c *Collector) probeOne(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 || n == 0 {
		return 0, nil
	}
	bitsPerSecond := float64(n) * 8 / elapsed
	return bitsPerSecond / 1e6, nil
}
