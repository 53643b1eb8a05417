package transfer

import (
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/types"
)

// Statistics derives a queue-wide snapshot from the registry
func (s *Service) Statistics() types.Statistics {
	return computeStatistics(s.repo.List())
}

// computeStatistics aggregates counts, throughput and ETA over ops.
// Speed only sums running operations; byte totals cover every operation.
func computeStatistics(ops []*types.Operation) types.Statistics {
	stats := types.Statistics{TotalOperations: len(ops)}

	for _, op := range ops {
		switch op.Status {
		case types.StatusPending, types.StatusQueued:
			stats.PendingCount++
		case types.StatusRunning:
			stats.RunningCount++
			stats.CurrentSpeed += op.SpeedBytesPerSecond
		case types.StatusPaused:
			stats.PausedCount++
		case types.StatusCompleted:
			stats.CompletedCount++
		case types.StatusFailed:
			stats.FailedCount++
		case types.StatusCancelled:
			stats.CancelledCount++
		}
		stats.TotalBytes += op.TotalBytes
		stats.ProcessedBytes += op.ProcessedBytes
	}

	stats.EstimatedTimeRemaining = eta(stats.TotalBytes-stats.ProcessedBytes, stats.CurrentSpeed)
	return stats
}

// eta returns remaining/speed, or nil when the speed is unknown
func eta(remaining int64, speed float64) *time.Duration {
	if speed <= 0 {
		return nil
	}
	if remaining < 0 {
		remaining = 0
	}
	d := time.Duration(float64(remaining) / speed * float64(time.Second))
	return &d
}
