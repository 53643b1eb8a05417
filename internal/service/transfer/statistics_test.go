package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuecangming/transfer-queue/internal/common/types"
)

func TestComputeStatistics(t *testing.T) {
	ops := []*types.Operation{
		{Status: types.StatusPending, TotalBytes: 100},
		{Status: types.StatusQueued, TotalBytes: 100},
		{Status: types.StatusRunning, TotalBytes: 1000, ProcessedBytes: 400, SpeedBytesPerSecond: 100},
		{Status: types.StatusRunning, TotalBytes: 500, ProcessedBytes: 100, SpeedBytesPerSecond: 50},
		{Status: types.StatusPaused},
		{Status: types.StatusCompleted, TotalBytes: 300, ProcessedBytes: 300},
		{Status: types.StatusFailed},
		{Status: types.StatusCancelled},
	}

	stats := computeStatistics(ops)

	assert.Equal(t, 8, stats.TotalOperations)
	assert.Equal(t, 2, stats.PendingCount)
	assert.Equal(t, 2, stats.RunningCount)
	assert.Equal(t, 1, stats.PausedCount)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 1, stats.CancelledCount)
	assert.Equal(t, 150.0, stats.CurrentSpeed)
	assert.Equal(t, int64(2000), stats.TotalBytes)
	assert.Equal(t, int64(800), stats.ProcessedBytes)

	require.NotNil(t, stats.EstimatedTimeRemaining)
	assert.Equal(t, 8*time.Second, *stats.EstimatedTimeRemaining)
}

func TestComputeStatistics_NoSpeedNoETA(t *testing.T) {
	stats := computeStatistics([]*types.Operation{{Status: types.StatusQueued, TotalBytes: 10}})
	assert.Nil(t, stats.EstimatedTimeRemaining)
	assert.Zero(t, stats.CurrentSpeed)
}

func TestServiceStatistics(t *testing.T) {
	svc := newTestService(t, nil, 1)
	_, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: "/does/not/exist"})
	require.NoError(t, err)

	stats := svc.Statistics()
	assert.Equal(t, 1, stats.TotalOperations)
	assert.Equal(t, 1, stats.PendingCount)
}
