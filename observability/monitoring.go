package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats aggregates delivery and process metrics for /health.
type MonitoringStats struct {
	// --- DELIVERY METRICS ---
	MessagesSent uint64 `json:"messages_sent"`
	Delivered    uint64 `json:"delivered"`
	Buffered     uint64 `json:"buffered"`
	Failed       uint64 `json:"failed"`
	Drained      uint64 `json:"drained"`

	// --- CONNECTION METRICS ---
	OpenConnections int64 `json:"open_connections"`

	// --- SYSTEM METRICS ---
	AllocMemMb uint64    `json:"alloc_mem_mb"`
	NumGC      uint32    `json:"num_gc"`
	RssBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MonitoringManager holds the counters written on the hot path and the
// latest sampled snapshot.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	messagesSent    uint64
	delivered       uint64
	buffered        uint64
	failed          uint64
	drained         uint64
	openConnections int64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrMessagesSent() { atomic.AddUint64(&mm.messagesSent, 1) }

func (mm *MonitoringManager) IncrDelivered() { atomic.AddUint64(&mm.delivered, 1) }

func (mm *MonitoringManager) IncrBuffered() { atomic.AddUint64(&mm.buffered, 1) }

func (mm *MonitoringManager) IncrFailed() { atomic.AddUint64(&mm.failed, 1) }

func (mm *MonitoringManager) AddDrained(n int) { atomic.AddUint64(&mm.drained, uint64(n)) }

func (mm *MonitoringManager) ConnectionOpened() { atomic.AddInt64(&mm.openConnections, 1) }

func (mm *MonitoringManager) ConnectionClosed() { atomic.AddInt64(&mm.openConnections, -1) }

// Sample refreshes the snapshot with the counters, Go memory stats and the
// process figures collected by the caller.
func (mm *MonitoringManager) Sample(rssBytes uint64, cpuPercent float64) MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats = mm.counters()
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC
	mm.latestStats.RssBytes = rssBytes
	mm.latestStats.CPUPercent = cpuPercent
	mm.latestStats.UpdatedAt = time.Now().UTC()
	return mm.latestStats
}

// GetLatest returns the last sample with live counters on top.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	stats := mm.counters()
	stats.AllocMemMb = mm.latestStats.AllocMemMb
	stats.NumGC = mm.latestStats.NumGC
	stats.RssBytes = mm.latestStats.RssBytes
	stats.CPUPercent = mm.latestStats.CPUPercent
	stats.UpdatedAt = mm.latestStats.UpdatedAt
	return stats
}

func (mm *MonitoringManager) counters() MonitoringStats {
	return MonitoringStats{
		MessagesSent:    atomic.LoadUint64(&mm.messagesSent),
		Delivered:       atomic.LoadUint64(&mm.delivered),
		Buffered:        atomic.LoadUint64(&mm.buffered),
		Failed:          atomic.LoadUint64(&mm.failed),
		Drained:         atomic.LoadUint64(&mm.drained),
		OpenConnections: atomic.LoadInt64(&mm.openConnections),
	}
}
