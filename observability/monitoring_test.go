package observability

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Counters(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mm.IncrMessagesSent()
			mm.IncrDelivered()
		}()
	}
	wg.Wait()
	mm.IncrBuffered()
	mm.IncrFailed()
	mm.AddDrained(3)
	mm.ConnectionOpened()
	mm.ConnectionOpened()
	mm.ConnectionClosed()

	stats := mm.GetLatest()
	req.Equal(uint64(10), stats.MessagesSent)
	req.Equal(uint64(10), stats.Delivered)
	req.Equal(uint64(1), stats.Buffered)
	req.Equal(uint64(1), stats.Failed)
	req.Equal(uint64(3), stats.Drained)
	req.Equal(int64(1), stats.OpenConnections)
}

func TestMonitoringManager_Sample(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(slog.Default())
	mm.IncrDelivered()

	sample := mm.Sample(4096, 1.5)

	req.Equal(uint64(4096), sample.RssBytes)
	req.Equal(1.5, sample.CPUPercent)
	req.False(sample.UpdatedAt.IsZero())
	req.Equal(sample.RssBytes, mm.GetLatest().RssBytes)
	req.Equal(uint64(1), mm.GetLatest().Delivered)
}
