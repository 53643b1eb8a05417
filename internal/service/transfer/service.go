package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/common/utils"
	"github.com/xuecangming/transfer-queue/internal/core/events"
	"github.com/xuecangming/transfer-queue/internal/core/gate"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
	"github.com/xuecangming/transfer-queue/internal/infrastructure/storage"
	"github.com/xuecangming/transfer-queue/internal/repository"
)

// Config holds the runtime settings of the transfer service
type Config struct {
	MaxConcurrentTransfers int
	ChunkSize              int
	InteractiveChunkSize   int
	GlobalSpeedLimit       int64
	PollInterval           time.Duration
	FaultBackoff           time.Duration
	DefaultOptions         types.Options
	Retry                  *retry.Config
}

// ConfigFrom converts the queue section of the application config
func ConfigFrom(q types.QueueConfig) Config {
	opts := types.DefaultOptions()
	opts.MaxRetries = q.Retry.MaxAttempts
	opts.RetryDelay = utils.Millis(q.Retry.InitialDelay)

	return Config{
		MaxConcurrentTransfers: q.MaxConcurrentTransfers,
		ChunkSize:              q.ChunkSize,
		InteractiveChunkSize:   q.InteractiveChunkSize,
		GlobalSpeedLimit:       q.GlobalSpeedLimit,
		PollInterval:           utils.Millis(q.PollInterval),
		FaultBackoff:           utils.Millis(q.FaultBackoff),
		DefaultOptions:         opts,
		Retry: &retry.Config{
			MaxAttempts:  q.Retry.MaxAttempts,
			InitialDelay: utils.Millis(q.Retry.InitialDelay),
			MaxDelay:     utils.Millis(q.Retry.MaxDelay),
			Multiplier:   q.Retry.Multiplier,
			Jitter:       q.Retry.Jitter,
		},
	}
}

// execution tracks the executor currently working on an operation
type execution struct {
	attempt uint64
	cancel  context.CancelFunc

	// progress is held while a progress update is settled and published
	progress sync.Mutex
}

// Service is the background transfer scheduler. It owns the registry, the
// backlog, the concurrency gate and the orchestrator loop.
type Service struct {
	repo     *repository.OperationRepository
	backlog  *repository.Backlog
	gate     *gate.Gate
	notifier *events.Notifier
	retry    *retry.Controller
	executor *Executor
	storage  Storage
	config   Config
	log      logger.Logger

	globalSpeedLimit atomic.Int64
	attempts         atomic.Uint64

	// control serializes status changes that also touch the backlog
	control sync.Mutex

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	workers   sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]*execution

	wake        chan struct{}
	emptyRaised bool // owned by the orchestrator goroutine

	now func() time.Time
}

// NewService creates a new transfer service. The orchestrator loop does not
// run until Start is called.
func NewService(repo *repository.OperationRepository, backlog *repository.Backlog, store Storage, notifier *events.Notifier, config Config, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if notifier == nil {
		notifier = events.NewNotifier(log)
	}
	if config.MaxConcurrentTransfers < 1 {
		config.MaxConcurrentTransfers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.FaultBackoff <= 0 {
		config.FaultBackoff = time.Second
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}

	s := &Service{
		repo:     repo,
		backlog:  backlog,
		gate:     gate.New(config.MaxConcurrentTransfers),
		notifier: notifier,
		retry:    retry.NewController(config.Retry),
		storage:  store,
		config:   config,
		log:      log,
		active:   make(map[string]*execution),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
	s.globalSpeedLimit.Store(config.GlobalSpeedLimit)
	s.executor = NewExecutor(store, config.ChunkSize, config.InteractiveChunkSize, s.globalSpeedLimit.Load, log)
	return s
}

// Notifier returns the event notifier
func (s *Service) Notifier() *events.Notifier {
	return s.notifier
}

// Subscribe registers an event handler and returns its subscription id.
// Handlers run synchronously and must not call back into the Service.
func (s *Service) Subscribe(h events.Handler) int {
	return s.notifier.Subscribe(h)
}

// Unsubscribe removes an event handler
func (s *Service) Unsubscribe(id int) {
	s.notifier.Unsubscribe(id)
}

// DefaultOptions returns the options applied when a request carries none
func (s *Service) DefaultOptions() types.Options {
	return s.config.DefaultOptions
}

// Queue validates req, measures its inputs and stores a new operation.
// Operations scheduled in the future start Pending; all others go straight
// to the backlog as Queued.
func (s *Service) Queue(req types.QueueRequest) (*types.Operation, error) {
	if !req.Type.Valid() {
		return nil, apperrors.UnsupportedOperation(string(req.Type))
	}
	if len(req.Files) == 0 && !utils.ValidatePath(req.SourcePath) {
		return nil, apperrors.InvalidPath(req.SourcePath)
	}
	for _, f := range req.Files {
		if !utils.ValidatePath(f) {
			return nil, apperrors.InvalidPath(f)
		}
	}
	if req.Type != types.OperationTypeDelete && !utils.ValidatePath(req.TargetPath) {
		return nil, apperrors.InvalidRequest("target path is required for " + string(req.Type))
	}
	if req.Priority < types.PriorityLow || req.Priority > types.PriorityHigh {
		return nil, apperrors.InvalidRequest("unknown priority")
	}

	opts := s.config.DefaultOptions
	if req.Options != nil {
		opts = *req.Options
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.SpeedLimit < 0 {
		opts.SpeedLimit = 0
	}

	now := s.now()
	op := &types.Operation{
		ID:           utils.GenerateID(),
		Type:         req.Type,
		SourcePath:   req.SourcePath,
		TargetPath:   req.TargetPath,
		Files:        append([]string(nil), req.Files...),
		Status:       types.StatusQueued,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
		Options:      opts,
		CreatedAt:    now,
	}
	if op.ScheduledFor != nil && op.ScheduledFor.After(now) {
		op.Status = types.StatusPending
	}
	if op.Type != types.OperationTypeDelete {
		for _, input := range op.Inputs() {
			if err := storage.CheckTarget(input, op.TargetPath); err != nil {
				return nil, err
			}
		}
	}
	op.TotalBytes, op.TotalFiles = s.storage.Measure(op.Inputs())

	s.control.Lock()
	created, err := s.repo.Create(op)
	if err == nil && created.Status == types.StatusQueued {
		s.backlog.Push(created)
	}
	s.control.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info("Operation queued",
		logger.String("operation_id", created.ID),
		logger.String("type", string(created.Type)),
		logger.String("status", string(created.Status)),
		logger.String("priority", created.Priority.String()),
		logger.Int64("total_bytes", created.TotalBytes),
		logger.Int("total_files", created.TotalFiles),
	)
	s.signal()
	return created, nil
}

// Get returns a snapshot of one operation
func (s *Service) Get(id string) (*types.Operation, error) {
	return s.repo.Get(id)
}

// GetAllOperations returns every operation, highest priority first
func (s *Service) GetAllOperations() []*types.Operation {
	return s.repo.List()
}

// GetOperationsByStatus returns operations in any of the given statuses
func (s *Service) GetOperationsByStatus(statuses ...types.OperationStatus) []*types.Operation {
	return s.repo.ListByStatus(statuses...)
}

// Pause parks a pending, queued or running operation. A running executor is
// cancelled; it is re-run from the start on Resume.
func (s *Service) Pause(id string) (*types.Operation, error) {
	s.control.Lock()
	op, prev, err := s.pauseLocked(id)
	s.control.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(types.EventOperationPaused, op, prev)
	return op, nil
}

func (s *Service) pauseLocked(id string) (*types.Operation, types.OperationStatus, error) {
	var prev types.OperationStatus
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		switch o.Status {
		case types.StatusPending, types.StatusQueued, types.StatusRunning:
		default:
			return apperrors.InvalidState(id, string(o.Status), "pause")
		}
		prev = o.Status
		o.Status = types.StatusPaused
		clearRate(o)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	s.backlog.Remove(id)
	if prev == types.StatusRunning {
		s.cancelExecution(id)
	}
	s.log.Info("Operation paused", logger.String("operation_id", id), logger.String("previous_status", string(prev)))
	return op, prev, nil
}

// Resume returns a paused operation to the backlog, or to Pending when its
// schedule time has not been reached yet.
func (s *Service) Resume(id string) (*types.Operation, error) {
	s.control.Lock()
	op, err := s.resumeLocked(id)
	s.control.Unlock()
	if err != nil {
		return nil, err
	}
	s.signal()
	return op, nil
}

func (s *Service) resumeLocked(id string) (*types.Operation, error) {
	now := s.now()
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		if o.Status != types.StatusPaused {
			return apperrors.InvalidState(id, string(o.Status), "resume")
		}
		o.Status = types.StatusQueued
		if o.ScheduledFor != nil && o.ScheduledFor.After(now) {
			o.Status = types.StatusPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if op.Status == types.StatusQueued {
		s.backlog.Push(op)
	}
	s.log.Info("Operation resumed", logger.String("operation_id", id), logger.String("status", string(op.Status)))
	return op, nil
}

// Cancel stops an operation for good. Cancelled operations are never
// reported as completed afterwards.
func (s *Service) Cancel(id string) (*types.Operation, error) {
	now := s.now()
	var prev types.OperationStatus

	s.control.Lock()
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		switch o.Status {
		case types.StatusPending, types.StatusQueued, types.StatusRunning, types.StatusPaused:
		default:
			return apperrors.InvalidState(id, string(o.Status), "cancel")
		}
		prev = o.Status
		o.Status = types.StatusCancelled
		o.CompletedAt = &now
		clearRate(o)
		return nil
	})
	if err == nil {
		s.backlog.Remove(id)
		if prev == types.StatusRunning {
			s.cancelExecution(id)
		}
	}
	s.control.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info("Operation cancelled", logger.String("operation_id", id), logger.String("previous_status", string(prev)))
	s.publish(types.EventOperationCancelled, op, prev)
	return op, nil
}

// Retry re-queues a failed operation, counting it against its retry count
func (s *Service) Retry(id string) (*types.Operation, error) {
	s.control.Lock()
	op, err := s.repo.Update(id, func(o *types.Operation) error {
		if o.Status != types.StatusFailed {
			return apperrors.InvalidState(id, string(o.Status), "retry")
		}
		o.Status = types.StatusQueued
		o.RetryCount++
		o.ErrorMessage = ""
		o.CompletedAt = nil
		return nil
	})
	if err == nil {
		s.backlog.Push(op)
	}
	s.control.Unlock()
	if err != nil {
		return nil, err
	}

	s.log.Info("Operation retried", logger.String("operation_id", id), logger.Int("retry_count", op.RetryCount))
	s.signal()
	return op, nil
}

// Remove deletes an operation from the registry, cancelling it if running
func (s *Service) Remove(id string) error {
	s.control.Lock()
	defer s.control.Unlock()

	if err := s.repo.Delete(id); err != nil {
		return err
	}
	s.backlog.Remove(id)
	s.cancelExecution(id)

	s.log.Info("Operation removed", logger.String("operation_id", id))
	return nil
}

// ClearCompleted removes every completed and cancelled operation and
// returns their ids
func (s *Service) ClearCompleted() []string {
	removed := s.repo.DeleteByStatus(types.StatusCompleted, types.StatusCancelled)
	if len(removed) > 0 {
		s.log.Info("Cleared finished operations", logger.Int("count", len(removed)))
	}
	return removed
}

// SetPriority changes an operation's priority. A queued operation is
// re-placed in the backlog by its new priority.
func (s *Service) SetPriority(id string, priority types.Priority) (*types.Operation, error) {
	if priority < types.PriorityLow || priority > types.PriorityHigh {
		return nil, apperrors.InvalidRequest("unknown priority")
	}

	s.control.Lock()
	defer s.control.Unlock()

	op, err := s.repo.Update(id, func(o *types.Operation) error {
		o.Priority = priority
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.backlog.SetPriority(id, priority)
	return op, nil
}

// MoveUp moves a queued operation one place towards the head of the backlog
func (s *Service) MoveUp(id string) error {
	return s.reorder(id, "move up", s.backlog.MoveUp)
}

// MoveDown moves a queued operation one place towards the tail of the backlog
func (s *Service) MoveDown(id string) error {
	return s.reorder(id, "move down", s.backlog.MoveDown)
}

// MoveToTop makes a queued operation the next one to be dispatched
func (s *Service) MoveToTop(id string) error {
	return s.reorder(id, "move to top", s.backlog.MoveToTop)
}

// MoveToBottom makes a queued operation the last one to be dispatched
func (s *Service) MoveToBottom(id string) error {
	return s.reorder(id, "move to bottom", s.backlog.MoveToBottom)
}

func (s *Service) reorder(id, action string, move func(string) bool) error {
	s.control.Lock()
	defer s.control.Unlock()

	op, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	if op.Status != types.StatusQueued || !move(id) {
		return apperrors.InvalidState(id, string(op.Status), action)
	}
	return nil
}

// PauseAll pauses every pending, queued and running operation and returns
// how many were paused
func (s *Service) PauseAll() int {
	return len(s.pauseMatching(types.StatusPending, types.StatusQueued, types.StatusRunning))
}

// ResumeAll resumes every paused operation and returns how many resumed
func (s *Service) ResumeAll() int {
	count := 0
	s.control.Lock()
	for _, op := range s.repo.ListByStatus(types.StatusPaused) {
		if _, err := s.resumeLocked(op.ID); err == nil {
			count++
		}
	}
	s.control.Unlock()
	if count > 0 {
		s.signal()
	}
	return count
}

func (s *Service) pauseMatching(statuses ...types.OperationStatus) []*types.Operation {
	type paused struct {
		op   *types.Operation
		prev types.OperationStatus
	}
	var changed []paused

	s.control.Lock()
	for _, op := range s.repo.ListByStatus(statuses...) {
		if updated, prev, err := s.pauseLocked(op.ID); err == nil {
			changed = append(changed, paused{op: updated, prev: prev})
		}
	}
	s.control.Unlock()

	ops := make([]*types.Operation, 0, len(changed))
	for _, p := range changed {
		s.publish(types.EventOperationPaused, p.op, p.prev)
		ops = append(ops, p.op)
	}
	return ops
}

// Start launches the orchestrator loop. Starting a running queue is a no-op.
func (s *Service) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.loopDone = done

	go s.loop(ctx, done)
	s.log.Info("Transfer queue started",
		logger.Int("max_concurrent_transfers", s.gate.Limit()),
		logger.Int64("global_speed_limit", s.globalSpeedLimit.Load()),
	)
}

// Stop halts the orchestrator, cancels every running executor and pauses
// everything that has not finished. It returns once all executors exited.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	<-s.loopDone

	paused := s.pauseMatching(types.StatusPending, types.StatusQueued, types.StatusRunning)
	s.workers.Wait()
	s.log.Info("Transfer queue stopped", logger.Int("paused", len(paused)))
}

// IsRunning reports whether the orchestrator loop is active
func (s *Service) IsRunning() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.running
}

// SetGlobalSpeedLimit caps the throughput of every transfer. Zero or a
// negative value removes the cap. Running transfers pick it up on their
// next chunk.
func (s *Service) SetGlobalSpeedLimit(bytesPerSecond int64) {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	s.globalSpeedLimit.Store(bytesPerSecond)
	s.log.Info("Global speed limit changed", logger.Int64("bytes_per_second", bytesPerSecond))
}

// GlobalSpeedLimit returns the current global limit, 0 when unlimited
func (s *Service) GlobalSpeedLimit() int64 {
	return s.globalSpeedLimit.Load()
}

// SetMaxConcurrentTransfers resizes the concurrency gate. Running transfers
// are never preempted; a lower limit only delays new admissions.
func (s *Service) SetMaxConcurrentTransfers(n int) error {
	if n < 1 {
		return apperrors.InvalidRequest("max concurrent transfers must be at least 1")
	}
	s.gate.SetLimit(n)
	s.log.Info("Max concurrent transfers changed", logger.Int("max_concurrent_transfers", n))
	s.signal()
	return nil
}

// MaxConcurrentTransfers returns the configured gate size
func (s *Service) MaxConcurrentTransfers() int {
	return s.gate.Limit()
}

func (s *Service) publish(eventType types.EventType, op *types.Operation, prev types.OperationStatus) {
	s.notifier.Publish(types.Event{
		Type:           eventType,
		Operation:      op,
		PreviousStatus: prev,
		Timestamp:      s.now(),
	})
}

// signal wakes the orchestrator if it is idling
func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// cancelExecution cancels the executor running id, if any. It returns once
// any progress event of that attempt already in flight has been published,
// so events announcing the interruption always follow the last progress.
func (s *Service) cancelExecution(id string) {
	s.activeMu.Lock()
	exec, ok := s.active[id]
	s.activeMu.Unlock()
	if !ok {
		return
	}
	exec.cancel()
	exec.progress.Lock()
	exec.progress.Unlock()
}

func clearRate(op *types.Operation) {
	op.SpeedBytesPerSecond = 0
	op.EstimatedTimeRemaining = nil
}
