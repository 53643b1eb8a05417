package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	apperrors "github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
	"github.com/xuecangming/transfer-queue/internal/core/throttle"
	"github.com/xuecangming/transfer-queue/internal/infrastructure/storage"
)

// Storage is the filesystem surface the executor needs
type Storage interface {
	Measure(inputs []string) (int64, int)
	Plan(input, targetDir string) ([]storage.CopyItem, error)
	OpenSource(path string) (io.ReadCloser, error)
	CreateTarget(path string, failIfExists bool) (io.WriteCloser, error)
	CopyMetadata(item storage.CopyItem, attributes, timestamps bool) error
	Delete(path string, useRecycleBin bool) error
}

// Progress is the cumulative work done by one executor attempt
type Progress struct {
	Bytes   int64
	Files   int
	Elapsed time.Duration
}

// ProgressFunc receives progress after every chunk and every file
type ProgressFunc func(Progress)

// Executor performs the chunked I/O for a single operation
type Executor struct {
	storage              Storage
	chunkSize            int
	interactiveChunkSize int
	globalLimit          func() int64
	log                  logger.Logger
}

// NewExecutor creates an executor. globalLimit is consulted before every
// throttled chunk so limit changes apply to transfers already in flight.
func NewExecutor(store Storage, chunkSize, interactiveChunkSize int, globalLimit func() int64, log logger.Logger) *Executor {
	if chunkSize < 1 {
		chunkSize = 81920
	}
	if interactiveChunkSize < 1 {
		interactiveChunkSize = chunkSize
	}
	if globalLimit == nil {
		globalLimit = func() int64 { return 0 }
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Executor{
		storage:              store,
		chunkSize:            chunkSize,
		interactiveChunkSize: interactiveChunkSize,
		globalLimit:          globalLimit,
		log:                  log,
	}
}

// Execute runs op to completion, cancellation or the first error.
// Errors marked with retry.Permanent must not be retried.
func (e *Executor) Execute(ctx context.Context, op *types.Operation, progress ProgressFunc) error {
	if progress == nil {
		progress = func(Progress) {}
	}
	t := &tracker{start: time.Now(), report: progress}

	switch op.Type {
	case types.OperationTypeCopy:
		return e.copy(ctx, op, t)
	case types.OperationTypeMove:
		if err := e.copy(ctx, op, t); err != nil {
			return err
		}
		return e.removeInputs(ctx, op)
	case types.OperationTypeDelete:
		return e.delete(ctx, op, t)
	default:
		return retry.Permanent(apperrors.UnsupportedOperation(string(op.Type)))
	}
}

// ChunkSize returns the buffer size used for op
func (e *Executor) ChunkSize(op *types.Operation) int {
	if op.Options.Interactive {
		return e.interactiveChunkSize
	}
	return e.chunkSize
}

func (e *Executor) copy(ctx context.Context, op *types.Operation, t *tracker) error {
	chunkSize := e.ChunkSize(op)
	buf := make([]byte, chunkSize)
	th := throttle.New(e.limitFor(op), chunkSize)

	for _, input := range op.Inputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := e.storage.Plan(input, op.TargetPath)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.copyFile(ctx, op, item, buf, th, t); err != nil {
				return err
			}
			t.add(0, 1)
		}
	}
	return nil
}

func (e *Executor) copyFile(ctx context.Context, op *types.Operation, item storage.CopyItem, buf []byte, th *throttle.Throttle, t *tracker) error {
	src, err := e.storage.OpenSource(item.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := e.storage.CreateTarget(item.Destination, op.Options.FailIfExists)
	if err != nil {
		return err
	}

	if err := e.stream(ctx, op, src, dst, buf, th, t); err != nil {
		dst.Close()
		if rmErr := e.storage.Delete(item.Destination, false); rmErr != nil {
			e.log.Warn("Failed to remove partial target",
				logger.String("operation_id", op.ID),
				logger.String("path", item.Destination),
				logger.Error(rmErr),
			)
		}
		return err
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close target: %w", err)
	}

	if op.Options.PreserveAttributes || op.Options.PreserveTimestamps {
		return e.storage.CopyMetadata(item, op.Options.PreserveAttributes, op.Options.PreserveTimestamps)
	}
	return nil
}

func (e *Executor) stream(ctx context.Context, op *types.Operation, src io.Reader, dst io.Writer, buf []byte, th *throttle.Throttle, t *tracker) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write target: %w", err)
			}
			t.add(int64(n), 0)

			th.SetLimit(e.limitFor(op))
			if err := th.Wait(ctx, n); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read source: %w", readErr)
		}
	}
}

// removeInputs deletes the originals once a move has copied everything
func (e *Executor) removeInputs(ctx context.Context, op *types.Operation) error {
	for _, input := range op.Inputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.storage.Delete(input, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) delete(ctx context.Context, op *types.Operation, t *tracker) error {
	for _, input := range op.Inputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		bytes, files := e.storage.Measure([]string{input})
		if err := e.storage.Delete(input, op.Options.UseRecycleBin); err != nil {
			return err
		}
		t.add(bytes, files)
	}
	return nil
}

func (e *Executor) limitFor(op *types.Operation) int64 {
	return throttle.EffectiveLimit(e.globalLimit(), op.Options.SpeedLimit)
}

// tracker accumulates one attempt's progress and reports it
type tracker struct {
	start  time.Time
	bytes  int64
	files  int
	report ProgressFunc
}

func (t *tracker) add(bytes int64, files int) {
	t.bytes += bytes
	t.files += files
	t.report(Progress{Bytes: t.bytes, Files: t.files, Elapsed: time.Since(t.start)})
}
