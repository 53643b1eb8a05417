package transfer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/core/events"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
	"github.com/xuecangming/transfer-queue/internal/infrastructure/storage"
	"github.com/xuecangming/transfer-queue/internal/repository"
)

const waitFor = 5 * time.Second

// failingStorage refuses to open any source
type failingStorage struct {
	*storage.LocalStorage
	err   error
	opens atomic.Int32
}

func (f *failingStorage) OpenSource(path string) (io.ReadCloser, error) {
	f.opens.Add(1)
	return nil, f.err
}

func newTestService(t *testing.T, store Storage, maxConcurrent int) *Service {
	t.Helper()
	if store == nil {
		store = storage.NewLocalStorage(nil, t.TempDir())
	}
	cfg := Config{
		MaxConcurrentTransfers: maxConcurrent,
		ChunkSize:              1024,
		InteractiveChunkSize:   4096,
		PollInterval:           5 * time.Millisecond,
		FaultBackoff:           10 * time.Millisecond,
		DefaultOptions:         types.Options{MaxRetries: 3, RetryDelay: time.Millisecond},
		Retry:                  &retry.Config{Multiplier: 1},
	}
	svc := NewService(repository.NewOperationRepository(), repository.NewBacklog(), store, events.NewNotifier(logger.Nop()), cfg, logger.Nop())
	t.Cleanup(svc.Stop)
	return svc
}

// recorder collects published events
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func record(svc *Service) *recorder {
	r := &recorder{}
	svc.Subscribe(func(evt types.Event) {
		r.mu.Lock()
		r.events = append(r.events, evt)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) matching(eventType types.EventType, id string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, evt := range r.events {
		if evt.Type != eventType {
			continue
		}
		if id != "" && (evt.Operation == nil || evt.Operation.ID != id) {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func waitStatus(t *testing.T, svc *Service, id string, status types.OperationStatus) *types.Operation {
	t.Helper()
	var op *types.Operation
	require.Eventually(t, func() bool {
		var err error
		op, err = svc.Get(id)
		return err == nil && op.Status == status
	}, waitFor, 2*time.Millisecond, "operation %s never reached %s", id, status)
	return op
}

func queueCopy(t *testing.T, svc *Service, src string, priority types.Priority, opts *types.Options) *types.Operation {
	t.Helper()
	op, err := svc.Queue(types.QueueRequest{
		Type:       types.OperationTypeCopy,
		SourcePath: src,
		TargetPath: t.TempDir(),
		Priority:   priority,
		Options:    opts,
	})
	require.NoError(t, err)
	return op
}

func TestQueue_Validation(t *testing.T) {
	svc := newTestService(t, nil, 1)

	tests := []struct {
		name string
		req  types.QueueRequest
		code apperrors.ErrorCode
	}{
		{"unknown type", types.QueueRequest{Type: "rename", SourcePath: "/a", TargetPath: "/b"}, apperrors.ErrUnsupportedOperation},
		{"missing source", types.QueueRequest{Type: types.OperationTypeDelete}, apperrors.ErrInvalidPath},
		{"bad file entry", types.QueueRequest{Type: types.OperationTypeDelete, Files: []string{"/a", " "}}, apperrors.ErrInvalidPath},
		{"copy without target", types.QueueRequest{Type: types.OperationTypeCopy, SourcePath: "/a"}, apperrors.ErrInvalidRequest},
		{"unknown priority", types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: "/a", Priority: 7}, apperrors.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Queue(tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
	assert.Empty(t, svc.GetAllOperations())
}

func TestQueue_MeasuresInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tree", "a.bin"), 300)
	writeFile(t, filepath.Join(dir, "tree", "b.bin"), 200)
	svc := newTestService(t, nil, 1)

	op := queueCopy(t, svc, filepath.Join(dir, "tree"), types.PriorityNormal, nil)

	assert.Equal(t, types.StatusQueued, op.Status)
	assert.Equal(t, int64(500), op.TotalBytes)
	assert.Equal(t, 2, op.TotalFiles)
	assert.Equal(t, 3, op.Options.MaxRetries)
	assert.Equal(t, []string{op.ID}, svc.backlog.IDs())
}

func TestPriorityCompletionOrder(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, nil, 1)
	rec := record(svc)

	var ids []string
	for _, p := range []types.Priority{types.PriorityLow, types.PriorityHigh, types.PriorityNormal} {
		src := filepath.Join(dir, p.String()+".bin")
		writeFile(t, src, 2048)
		ids = append(ids, queueCopy(t, svc, src, p, nil).ID)
	}
	low, high, normal := ids[0], ids[1], ids[2]

	svc.Start()
	for _, id := range ids {
		waitStatus(t, svc, id, types.StatusCompleted)
	}

	var order []string
	for _, evt := range rec.matching(types.EventOperationCompleted, "") {
		order = append(order, evt.Operation.ID)
	}
	assert.Equal(t, []string{high, normal, low}, order)
}

func TestDeleteZeroByteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	writeFile(t, path, 0)
	svc := newTestService(t, nil, 1)

	op, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: path})
	require.NoError(t, err)
	assert.Equal(t, int64(0), op.TotalBytes)
	assert.Equal(t, 1, op.TotalFiles)

	svc.Start()
	op = waitStatus(t, svc, op.ID, types.StatusCompleted)
	assert.Equal(t, 1, op.ProcessedFiles)
	assert.NotNil(t, op.CompletedAt)
	assert.NoFileExists(t, path)
}

func TestScheduledOperationIsPromoted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.txt")
	writeFile(t, path, 1)
	svc := newTestService(t, nil, 1)

	at := time.Now().Add(100 * time.Millisecond)
	op, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: path, ScheduledFor: &at})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, op.Status)
	assert.Zero(t, svc.backlog.Len())

	svc.Start()
	op = waitStatus(t, svc, op.ID, types.StatusCompleted)
	assert.False(t, op.StartedAt.Before(at))
}

func TestClearCompleted(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, nil, 1)
	svc.Start()

	var done []string
	for _, name := range []string{"a", "b"} {
		src := filepath.Join(dir, name)
		writeFile(t, src, 10)
		op := queueCopy(t, svc, src, types.PriorityNormal, nil)
		waitStatus(t, svc, op.ID, types.StatusCompleted)
		done = append(done, op.ID)
	}

	later := time.Now().Add(time.Hour)
	cancelled, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: filepath.Join(dir, "c"), ScheduledFor: &later})
	require.NoError(t, err)
	_, err = svc.Cancel(cancelled.ID)
	require.NoError(t, err)

	pending, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: filepath.Join(dir, "d"), ScheduledFor: &later})
	require.NoError(t, err)

	removed := svc.ClearCompleted()
	assert.ElementsMatch(t, append(done, cancelled.ID), removed)

	remaining := svc.GetAllOperations()
	require.Len(t, remaining, 1)
	assert.Equal(t, pending.ID, remaining[0].ID)
}

func TestRetryBudgetExhausted(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	writeFile(t, src, 10)
	store := &failingStorage{LocalStorage: storage.NewLocalStorage(nil, t.TempDir()), err: errors.New("sharing violation")}
	svc := newTestService(t, store, 1)
	rec := record(svc)

	op := queueCopy(t, svc, src, types.PriorityNormal, &types.Options{MaxRetries: 2, RetryDelay: time.Millisecond})
	svc.Start()

	op = waitStatus(t, svc, op.ID, types.StatusFailed)
	assert.Equal(t, 2, op.RetryCount)
	assert.Contains(t, op.ErrorMessage, "sharing violation")
	assert.NotNil(t, op.CompletedAt)
	assert.Equal(t, int32(3), store.opens.Load())

	assert.Len(t, rec.matching(types.EventOperationStarted, op.ID), 3)
	failed := rec.matching(types.EventOperationFailed, op.ID)
	require.Len(t, failed, 3)
	assert.Equal(t, types.StatusQueued, failed[0].Operation.Status)
	assert.Equal(t, types.StatusQueued, failed[1].Operation.Status)
	assert.Equal(t, types.StatusFailed, failed[2].Operation.Status)
	for _, evt := range failed {
		assert.Equal(t, types.StatusRunning, evt.PreviousStatus)
	}

	// An explicit retry re-enters the queue and counts again.
	op, err := svc.Retry(op.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, op.RetryCount)
	assert.Empty(t, op.ErrorMessage)
	waitStatus(t, svc, op.ID, types.StatusFailed)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	writeFile(t, src, 10)
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "data.bin"), 1)
	svc := newTestService(t, nil, 1)

	op, err := svc.Queue(types.QueueRequest{
		Type:       types.OperationTypeCopy,
		SourcePath: src,
		TargetPath: dst,
		Options:    &types.Options{MaxRetries: 5, FailIfExists: true},
	})
	require.NoError(t, err)
	svc.Start()

	op = waitStatus(t, svc, op.ID, types.StatusFailed)
	assert.Zero(t, op.RetryCount)
	assert.Contains(t, op.ErrorMessage, "already exists")
}

func TestQueue_RejectsTargetInsideSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.bin"), 5000)
	writeFile(t, filepath.Join(dir, "tree", "a.bin"), 10)
	svc := newTestService(t, nil, 1)

	tests := []struct {
		name string
		req  types.QueueRequest
	}{
		{"copy into own directory", types.QueueRequest{Type: types.OperationTypeCopy, SourcePath: filepath.Join(dir, "data.bin"), TargetPath: dir}},
		{"move into own directory", types.QueueRequest{Type: types.OperationTypeMove, SourcePath: filepath.Join(dir, "data.bin"), TargetPath: dir}},
		{"directory into own subtree", types.QueueRequest{Type: types.OperationTypeCopy, SourcePath: filepath.Join(dir, "tree"), TargetPath: filepath.Join(dir, "tree", "nested")}},
		{"one file of many", types.QueueRequest{Type: types.OperationTypeCopy, Files: []string{filepath.Join(dir, "tree", "a.bin"), filepath.Join(dir, "data.bin")}, TargetPath: filepath.Join(dir, "tree")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Queue(tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRequest), "got %v", err)
		})
	}
	assert.Empty(t, svc.GetAllOperations())

	data, err := os.ReadFile(filepath.Join(dir, "data.bin"))
	require.NoError(t, err)
	assert.Len(t, data, 5000)
}

// linkTo creates a symlink to target so the destination only overlaps the
// source once the filesystem is consulted.
func linkTo(t *testing.T, target string) string {
	t.Helper()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	return link
}

func TestOverlappingTargetFailsWithoutRetry(t *testing.T) {
	tests := []struct {
		name   string
		opType types.OperationType
		source func(dir string) string
		target func(t *testing.T, dir string) string
	}{
		{
			name:   "copy into own directory",
			opType: types.OperationTypeCopy,
			source: func(dir string) string { return filepath.Join(dir, "data.bin") },
			target: func(t *testing.T, dir string) string { return linkTo(t, dir) },
		},
		{
			name:   "move into own directory",
			opType: types.OperationTypeMove,
			source: func(dir string) string { return filepath.Join(dir, "data.bin") },
			target: func(t *testing.T, dir string) string { return linkTo(t, dir) },
		},
		{
			name:   "directory into own subtree",
			opType: types.OperationTypeCopy,
			source: func(dir string) string { return dir },
			target: func(t *testing.T, dir string) string { return linkTo(t, filepath.Join(dir, "sub")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "data.bin"), 5000)
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
			target := tt.target(t, dir)

			svc := newTestService(t, nil, 1)
			rec := record(svc)
			op, err := svc.Queue(types.QueueRequest{
				Type:       tt.opType,
				SourcePath: tt.source(dir),
				TargetPath: target,
				Options:    &types.Options{MaxRetries: 3, RetryDelay: time.Millisecond},
			})
			require.NoError(t, err)
			svc.Start()

			op = waitStatus(t, svc, op.ID, types.StatusFailed)
			assert.Zero(t, op.RetryCount)
			assert.Contains(t, op.ErrorMessage, "source")
			assert.Len(t, rec.matching(types.EventOperationStarted, op.ID), 1)
			assert.Empty(t, rec.matching(types.EventOperationCompleted, op.ID))

			data, err := os.ReadFile(filepath.Join(dir, "data.bin"))
			require.NoError(t, err)
			assert.Len(t, data, 5000)
			entries, err := os.ReadDir(filepath.Join(dir, "sub"))
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	src := filepath.Join(t.TempDir(), "big.bin")
	writeFile(t, src, 64*1024)
	svc := newTestService(t, nil, 1)
	svc.SetGlobalSpeedLimit(8 * 1024)
	rec := record(svc)

	op := queueCopy(t, svc, src, types.PriorityNormal, nil)
	svc.Start()
	waitStatus(t, svc, op.ID, types.StatusRunning)
	require.Eventually(t, func() bool {
		return len(rec.matching(types.EventProgressChanged, op.ID)) > 0
	}, waitFor, 2*time.Millisecond)

	paused, err := svc.Pause(op.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, paused.Status)

	evts := rec.matching(types.EventOperationPaused, op.ID)
	require.Len(t, evts, 1)
	assert.Equal(t, types.StatusRunning, evts[0].PreviousStatus)

	time.Sleep(50 * time.Millisecond)
	progress := len(rec.matching(types.EventProgressChanged, op.ID))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, progress, len(rec.matching(types.EventProgressChanged, op.ID)))
	assert.Equal(t, types.StatusPaused, waitStatus(t, svc, op.ID, types.StatusPaused).Status)

	_, err = svc.Resume(paused.ID)
	require.NoError(t, err)
	_, err = svc.Resume(paused.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))

	svc.SetGlobalSpeedLimit(0)
	op = waitStatus(t, svc, op.ID, types.StatusCompleted)
	assert.Equal(t, op.TotalBytes, op.ProcessedBytes)
}

func TestProgressNeverTrailsPause(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	writeFile(t, src, 100)
	svc := newTestService(t, nil, 1)
	op := queueCopy(t, svc, src, types.PriorityNormal, nil)

	// Stand in for the orchestrator so the progress sink can be driven by hand.
	const attempt = 42
	_, err := svc.repo.Update(op.ID, func(o *types.Operation) error {
		o.Status = types.StatusRunning
		o.Attempt = attempt
		return nil
	})
	require.NoError(t, err)
	exec := &execution{attempt: attempt, cancel: func() {}}
	svc.activeMu.Lock()
	svc.active[op.ID] = exec
	svc.activeMu.Unlock()

	var (
		mu    sync.Mutex
		once  sync.Once
		order []types.EventType
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	svc.Subscribe(func(evt types.Event) {
		if evt.Type == types.EventProgressChanged {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		mu.Lock()
		order = append(order, evt.Type)
		mu.Unlock()
	})

	sink := svc.progressFor(op.ID, exec)
	go sink(Progress{Bytes: 10, Elapsed: time.Millisecond})
	<-entered

	paused := make(chan struct{})
	go func() {
		defer close(paused)
		_, err := svc.Pause(op.ID)
		assert.NoError(t, err)
	}()

	select {
	case <-paused:
		t.Fatal("pause completed while a progress event was still being published")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-paused

	sink(Progress{Bytes: 20, Elapsed: 2 * time.Millisecond})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.EventType{types.EventProgressChanged, types.EventOperationPaused}, order)

	got, err := svc.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.ProcessedBytes)
}

func TestCancelRunning(t *testing.T) {
	src := filepath.Join(t.TempDir(), "big.bin")
	writeFile(t, src, 64*1024)
	svc := newTestService(t, nil, 1)
	svc.SetGlobalSpeedLimit(8 * 1024)
	rec := record(svc)

	op := queueCopy(t, svc, src, types.PriorityNormal, nil)
	svc.Start()
	waitStatus(t, svc, op.ID, types.StatusRunning)

	cancelled, err := svc.Cancel(op.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)

	svc.SetGlobalSpeedLimit(0)
	time.Sleep(200 * time.Millisecond)

	op, err = svc.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, op.Status)
	assert.Empty(t, rec.matching(types.EventOperationCompleted, op.ID))
	assert.Zero(t, svc.gate.Active())

	_, err = svc.Cancel(op.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
}

func TestRunningNeverExceedsLimit(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, nil, 2)
	svc.SetGlobalSpeedLimit(64 * 1024)

	var (
		mu      sync.Mutex
		maxSeen int
	)
	svc.Subscribe(func(types.Event) {
		n := len(svc.GetOperationsByStatus(types.StatusRunning))
		mu.Lock()
		if n > maxSeen {
			maxSeen = n
		}
		mu.Unlock()
	})

	var ids []string
	for i := 0; i < 6; i++ {
		src := filepath.Join(dir, string(rune('a'+i))+".bin")
		writeFile(t, src, 8*1024)
		ids = append(ids, queueCopy(t, svc, src, types.PriorityNormal, nil).ID)
	}
	svc.Start()
	for _, id := range ids {
		waitStatus(t, svc, id, types.StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxSeen, 2)
	assert.Equal(t, 2, maxSeen)
}

func TestSpeedLimitIsHonoured(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	writeFile(t, src, 8*1024)
	svc := newTestService(t, nil, 1)
	rec := record(svc)

	op := queueCopy(t, svc, src, types.PriorityNormal, &types.Options{SpeedLimit: 16 * 1024})
	svc.Start()
	waitStatus(t, svc, op.ID, types.StatusCompleted)

	started := rec.matching(types.EventOperationStarted, op.ID)
	completed := rec.matching(types.EventOperationCompleted, op.ID)
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.GreaterOrEqual(t, completed[0].Timestamp.Sub(started[0].Timestamp), 450*time.Millisecond)
}

func TestReorderBacklog(t *testing.T) {
	svc := newTestService(t, nil, 1)

	var ids []string
	for i := 0; i < 3; i++ {
		op, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: filepath.Join(t.TempDir(), "x")})
		require.NoError(t, err)
		ids = append(ids, op.ID)
	}

	require.NoError(t, svc.MoveToTop(ids[2]))
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, svc.backlog.IDs())

	require.NoError(t, svc.MoveDown(ids[2]))
	assert.Equal(t, []string{ids[0], ids[2], ids[1]}, svc.backlog.IDs())

	require.NoError(t, svc.MoveToBottom(ids[0]))
	require.NoError(t, svc.MoveUp(ids[1]))
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, svc.backlog.IDs())

	_, err := svc.SetPriority(ids[0], types.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, ids[0], svc.backlog.IDs()[0])

	_, err = svc.Pause(ids[1])
	require.NoError(t, err)
	assert.True(t, apperrors.Is(svc.MoveUp(ids[1]), apperrors.ErrInvalidState))
	assert.True(t, apperrors.Is(svc.MoveUp("missing"), apperrors.ErrOperationNotFound))
}

func TestStopPausesEverything(t *testing.T) {
	src := filepath.Join(t.TempDir(), "big.bin")
	writeFile(t, src, 64*1024)
	svc := newTestService(t, nil, 1)
	svc.SetGlobalSpeedLimit(8 * 1024)

	running := queueCopy(t, svc, src, types.PriorityHigh, nil)
	queued := queueCopy(t, svc, src, types.PriorityNormal, nil)
	later := time.Now().Add(time.Hour)
	pending, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: src, ScheduledFor: &later})
	require.NoError(t, err)

	svc.Start()
	waitStatus(t, svc, running.ID, types.StatusRunning)
	svc.Stop()
	assert.False(t, svc.IsRunning())

	for _, id := range []string{running.ID, queued.ID, pending.ID} {
		op, err := svc.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPaused, op.Status, id)
	}
	assert.Zero(t, svc.backlog.Len())
	assert.Zero(t, svc.gate.Active())

	assert.Equal(t, 3, svc.ResumeAll())
	svc.SetGlobalSpeedLimit(0)
	svc.Start()
	waitStatus(t, svc, running.ID, types.StatusCompleted)
	waitStatus(t, svc, queued.ID, types.StatusCompleted)
	waitStatus(t, svc, pending.ID, types.StatusPending)
}

func TestRemove(t *testing.T) {
	svc := newTestService(t, nil, 1)
	op, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: filepath.Join(t.TempDir(), "x")})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(op.ID))
	assert.Zero(t, svc.backlog.Len())
	_, err = svc.Get(op.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrOperationNotFound))
	assert.True(t, apperrors.Is(svc.Remove(op.ID), apperrors.ErrOperationNotFound))
}

func TestQueueEmptyEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	writeFile(t, path, 1)
	svc := newTestService(t, nil, 1)
	rec := record(svc)

	op, err := svc.Queue(types.QueueRequest{Type: types.OperationTypeDelete, SourcePath: path})
	require.NoError(t, err)
	svc.Start()
	waitStatus(t, svc, op.ID, types.StatusCompleted)

	require.Eventually(t, func() bool {
		return len(rec.matching(types.EventQueueEmpty, "")) == 1
	}, waitFor, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.matching(types.EventQueueEmpty, ""), 1)
}

func TestSetMaxConcurrentTransfers(t *testing.T) {
	svc := newTestService(t, nil, 1)

	require.NoError(t, svc.SetMaxConcurrentTransfers(4))
	assert.Equal(t, 4, svc.MaxConcurrentTransfers())
	assert.True(t, apperrors.Is(svc.SetMaxConcurrentTransfers(0), apperrors.ErrInvalidRequest))

	svc.SetGlobalSpeedLimit(-5)
	assert.Zero(t, svc.GlobalSpeedLimit())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(types.QueueConfig{
		MaxConcurrentTransfers: 2,
		ChunkSize:              100,
		PollInterval:           50,
		Retry:                  types.RetryConfig{MaxAttempts: 4, InitialDelay: 1500, MaxDelay: 9000, Multiplier: 2},
	})

	assert.Equal(t, 2, cfg.MaxConcurrentTransfers)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.DefaultOptions.MaxRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.DefaultOptions.RetryDelay)
	assert.True(t, cfg.DefaultOptions.PreserveTimestamps)
	assert.Equal(t, 9*time.Second, cfg.Retry.MaxDelay)
}
