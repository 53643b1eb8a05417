package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
)

// execer is the subset of *sql.DB used by HistoryRepository
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HistoryRepository appends the outcome of finished operations to the
// transfer_history table. It is write-only: the queue never reloads from it.
type HistoryRepository struct {
	db      execer
	retry   *retry.Config
	timeout time.Duration
	log     logger.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db execer, log logger.Logger) *HistoryRepository {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &HistoryRepository{
		db: db,
		retry: &retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		timeout: 10 * time.Second,
		log:     log,
	}
}

const insertHistory = `
INSERT INTO transfer_history (
    operation_id, type, source_path, target_path, status, priority,
    total_bytes, processed_bytes, total_files, processed_files,
    retry_count, error_message, created_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// Record stores one finished operation
func (r *HistoryRepository) Record(ctx context.Context, op *types.Operation) error {
	finishedAt := time.Now()
	if op.CompletedAt != nil {
		finishedAt = *op.CompletedAt
	}

	err := retry.DoWithContext(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, insertHistory,
			op.ID, string(op.Type), op.SourcePath, op.TargetPath, string(op.Status), op.Priority.String(),
			op.TotalBytes, op.ProcessedBytes, op.TotalFiles, op.ProcessedFiles,
			op.RetryCount, op.ErrorMessage, op.CreatedAt, finishedAt,
		)
		return err
	}, r.retry)
	if err != nil {
		return fmt.Errorf("failed to record history for %s: %w", op.ID, err)
	}
	return nil
}

// HandleEvent records terminal outcomes in the background. It is meant to be
// registered with the event notifier.
func (r *HistoryRepository) HandleEvent(evt types.Event) {
	switch evt.Type {
	case types.EventOperationCompleted, types.EventOperationFailed, types.EventOperationCancelled:
	default:
		return
	}
	// A failed attempt that is being retried carries status queued.
	if evt.Operation == nil || !evt.Operation.Status.IsTerminal() {
		return
	}

	op := evt.Operation.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Record(ctx, op); err != nil {
			r.log.Warn("history write failed", logger.String("operation_id", op.ID), logger.Error(err))
		}
	}()
}
