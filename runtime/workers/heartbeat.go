package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// HeartbeatWorker samples the process and the store every interval and
// logs one line with the delivery counters.
type HeartbeatWorker struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	registry   contract.IRegistry
	store      contract.IMessageStore
	interval   time.Duration
	selfStats  func() (observability.ProcessStats, error)
}

func NewHeartbeatWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	registry contract.IRegistry,
	store contract.IMessageStore,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:        log,
		monitoring: monitoring,
		registry:   registry,
		store:      store,
		interval:   interval,
		selfStats:  observability.SelfStats,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat()
		}
	}
}

func (w *HeartbeatWorker) beat() observability.MonitoringStats {
	var rss uint64
	var cpu float64
	if self, err := w.selfStats(); err != nil {
		w.log.Error("Failed to collect self stats", "err", err)
	} else {
		rss, cpu = self.RssBytes, self.CPUPercent
	}
	stats := w.monitoring.Sample(rss, cpu)

	attrs := []any{
		"online_users", len(w.registry.OnlineRecords()),
		"open_connections", stats.OpenConnections,
		"messages_sent", stats.MessagesSent,
		"delivered", stats.Delivered,
		"buffered", stats.Buffered,
		"failed", stats.Failed,
		"drained", stats.Drained,
		"rss_bytes", stats.RssBytes,
		"cpu_percent", stats.CPUPercent,
	}
	if summary, err := w.store.Summary(); err != nil {
		w.log.Warn("Store summary unavailable", "err", err)
	} else {
		attrs = append(attrs, "conversations", summary.ConversationCount)
	}
	w.log.Info("Heartbeat", attrs...)
	return stats
}
