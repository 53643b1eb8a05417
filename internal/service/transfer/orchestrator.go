package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
)

var errNotDispatchable = errors.New("operation is not dispatchable")

// loop is the orchestrator. It runs until ctx is cancelled; a panicking
// tick is logged and followed by a short backoff.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		idle, err := s.tick(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Error("Orchestrator fault", logger.Error(err))
			if retry.Wait(ctx, s.config.FaultBackoff) != nil {
				return
			}
			continue
		}
		if idle {
			s.idle(ctx)
		}
	}
}

// idle waits one poll interval or until new work is signalled
func (s *Service) idle(ctx context.Context) {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-timer.C:
	}
}

// tick promotes due operations and dispatches at most one. It reports
// idle when there was nothing to dispatch.
func (s *Service) tick(ctx context.Context) (idle bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator panic: %v", r)
		}
	}()

	s.promoteScheduled()

	if s.backlog.Len() == 0 {
		s.checkEmpty()
		return true, nil
	}

	// The permit is taken before popping so an operation queued while all
	// slots are busy still competes on priority for the next free slot.
	if err := s.gate.Acquire(ctx); err != nil {
		return false, nil
	}
	launched := false
	defer func() {
		if !launched {
			s.gate.Release()
		}
	}()

	id, ok := s.backlog.Pop(s.now())
	if !ok {
		// Everything left is waiting out a retry delay.
		return true, nil
	}
	launched = s.launch(ctx, id)
	return false, nil
}

// promoteScheduled moves pending operations whose time has come to the backlog
func (s *Service) promoteScheduled() {
	now := s.now()
	for _, op := range s.repo.ListByStatus(types.StatusPending) {
		if op.ScheduledFor != nil && op.ScheduledFor.After(now) {
			continue
		}

		s.control.Lock()
		promoted, err := s.repo.Update(op.ID, func(o *types.Operation) error {
			if o.Status != types.StatusPending {
				return errNotDispatchable
			}
			o.Status = types.StatusQueued
			return nil
		})
		if err == nil {
			s.backlog.Push(promoted)
		}
		s.control.Unlock()

		if err == nil {
			s.log.Info("Scheduled operation promoted", logger.String("operation_id", op.ID))
		}
	}
}

// checkEmpty raises QueueEmpty once each time the queue drains
func (s *Service) checkEmpty() {
	if s.repo.Count(types.StatusPending, types.StatusQueued, types.StatusRunning) > 0 {
		s.emptyRaised = false
		return
	}
	if s.emptyRaised {
		return
	}
	s.emptyRaised = true
	s.log.Debug("Transfer queue is empty")
	s.notifier.Publish(types.Event{Type: types.EventQueueEmpty, Timestamp: s.now()})
}

// launch marks id as running and starts its executor. The caller holds a
// gate permit which the executor goroutine releases when it finishes.
func (s *Service) launch(ctx context.Context, id string) bool {
	s.activeMu.Lock()
	if _, busy := s.active[id]; busy {
		s.activeMu.Unlock()
		// The previous attempt has not wound down yet.
		s.deferDispatch(id)
		return false
	}

	attempt := s.attempts.Add(1)
	now := s.now()
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		if o.Status != types.StatusQueued {
			return errNotDispatchable
		}
		o.Status = types.StatusRunning
		o.Attempt = attempt
		o.StartedAt = &now
		clearRate(o)
		return nil
	})
	if err != nil {
		s.activeMu.Unlock()
		return false
	}

	opCtx, cancel := context.WithCancel(ctx)
	exec := &execution{attempt: attempt, cancel: cancel}
	s.active[id] = exec
	s.activeMu.Unlock()

	s.emptyRaised = false
	s.log.Info("Operation started",
		logger.String("operation_id", id),
		logger.String("type", string(op.Type)),
		logger.Int("retry_count", op.RetryCount),
	)
	s.publish(types.EventOperationStarted, op, types.StatusQueued)

	s.workers.Add(1)
	go s.run(opCtx, op, exec)
	return true
}

func (s *Service) deferDispatch(id string) {
	s.control.Lock()
	defer s.control.Unlock()
	if op, err := s.repo.Get(id); err == nil && op.Status == types.StatusQueued {
		s.backlog.PushAfter(op, s.now().Add(s.config.PollInterval))
	}
}

// run executes one attempt and settles its outcome. It always releases the
// gate permit, whatever the outcome.
func (s *Service) run(ctx context.Context, op *types.Operation, exec *execution) {
	defer s.workers.Done()
	defer s.gate.Release()
	defer func() {
		s.activeMu.Lock()
		if s.active[op.ID] == exec {
			delete(s.active, op.ID)
		}
		s.activeMu.Unlock()
		exec.cancel()
		s.signal()
	}()

	err := s.execute(ctx, op, exec)
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	s.finish(op.ID, exec.attempt, err)
}

func (s *Service) execute(ctx context.Context, op *types.Operation, exec *execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.executor.Execute(ctx, op, s.progressFor(op.ID, exec))
}

// progressFor returns the progress sink for one attempt. Counters never move
// backwards: a re-run only publishes once it passes the previous high mark.
// Settling and publishing happen under exec.progress, which cancelExecution
// waits on, so no progress event trails a pause or cancel of the attempt.
func (s *Service) progressFor(id string, exec *execution) ProgressFunc {
	return func(p Progress) {
		exec.progress.Lock()
		defer exec.progress.Unlock()

		op, ok := s.settle(id, exec.attempt, func(o *types.Operation) {
			o.ProcessedBytes = max(o.ProcessedBytes, min(p.Bytes, o.TotalBytes))
			o.ProcessedFiles = max(o.ProcessedFiles, min(p.Files, o.TotalFiles))
			if p.Elapsed > 0 {
				o.SpeedBytesPerSecond = float64(p.Bytes) / p.Elapsed.Seconds()
			}
			o.EstimatedTimeRemaining = eta(o.TotalBytes-o.ProcessedBytes, o.SpeedBytesPerSecond)
		})
		if !ok {
			return
		}
		s.notifier.Publish(types.Event{
			Type:           types.EventProgressChanged,
			Operation:      op,
			PreviousStatus: types.StatusRunning,
			Timestamp:      s.now(),
		})
	}
}

// finish converts the executor outcome into a status transition. Outcomes
// of attempts that were paused, cancelled or removed meanwhile are dropped.
func (s *Service) finish(id string, attempt uint64, err error) {
	now := s.now()

	switch {
	case err == nil:
		op, ok := s.settle(id, attempt, func(o *types.Operation) {
			o.Status = types.StatusCompleted
			o.ProcessedBytes = o.TotalBytes
			o.ProcessedFiles = o.TotalFiles
			o.ErrorMessage = ""
			o.CompletedAt = &now
			clearRate(o)
		})
		if ok {
			s.log.Info("Operation completed",
				logger.String("operation_id", id),
				logger.Int64("bytes", op.ProcessedBytes),
				logger.Int("files", op.ProcessedFiles),
			)
			s.publish(types.EventOperationCompleted, op, types.StatusRunning)
		}

	case retry.IsCancellation(err):
		// Pause, Cancel and Stop normally move the operation first. Anything
		// still marked running here was cut off by shutdown.
		op, ok := s.settle(id, attempt, func(o *types.Operation) {
			o.Status = types.StatusPaused
			clearRate(o)
		})
		if ok {
			s.log.Info("Operation interrupted", logger.String("operation_id", id))
			s.publish(types.EventOperationPaused, op, types.StatusRunning)
		}

	default:
		s.fail(id, attempt, err, now)
	}
}

func (s *Service) fail(id string, attempt uint64, cause error, now time.Time) {
	var decision retry.Decision

	s.control.Lock()
	op, ok := s.settle(id, attempt, func(o *types.Operation) {
		decision = s.retry.Decide(o.RetryCount, o.Options.MaxRetries, o.Options.RetryDelay, cause)
		o.ErrorMessage = cause.Error()
		o.RetryCount = decision.Attempt
		clearRate(o)
		if decision.Requeue {
			o.Status = types.StatusQueued
			return
		}
		o.Status = types.StatusFailed
		o.CompletedAt = &now
	})
	if ok && decision.Requeue {
		s.backlog.PushAfter(op, now.Add(decision.Delay))
	}
	s.control.Unlock()
	if !ok {
		return
	}

	if decision.Requeue {
		s.log.Warn("Operation attempt failed, retrying",
			logger.String("operation_id", id),
			logger.Int("retry_count", op.RetryCount),
			logger.Duration("delay", decision.Delay),
			logger.Error(cause),
		)
	} else {
		s.log.Error("Operation failed",
			logger.String("operation_id", id),
			logger.Int("retry_count", op.RetryCount),
			logger.String("reason", decision.Reason),
			logger.Error(cause),
		)
	}
	s.publish(types.EventOperationFailed, op, types.StatusRunning)
}

// settle applies fn only while attempt still owns the running operation
func (s *Service) settle(id string, attempt uint64, fn func(o *types.Operation)) (*types.Operation, bool) {
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		if o.Status != types.StatusRunning || o.Attempt != attempt {
			return errNotDispatchable
		}
		fn(o)
		return nil
	})
	return op, err == nil
}
