package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OperationType represents the kind of work an operation performs
type OperationType string

const (
	OperationTypeCopy   OperationType = "copy"
	OperationTypeMove   OperationType = "move"
	OperationTypeDelete OperationType = "delete"
)

// Valid reports whether t is a known operation type
func (t OperationType) Valid() bool {
	switch t {
	case OperationTypeCopy, OperationTypeMove, OperationTypeDelete:
		return true
	}
	return false
}

// OperationStatus represents the lifecycle state of an operation
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusQueued    OperationStatus = "queued"
	StatusRunning   OperationStatus = "running"
	StatusPaused    OperationStatus = "paused"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether no further transition happens without an
// explicit caller action. Failed is only ever stored once the retry budget
// is exhausted, so it counts as terminal here.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// ParseStatus parses a status name
func ParseStatus(s string) (OperationStatus, error) {
	status := OperationStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusQueued, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown operation status %q", s)
}

// Priority orders operations in the backlog; higher runs first
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Options tunes how a single operation is executed
type Options struct {
	MaxRetries         int           `json:"max_retries"`
	RetryDelay         time.Duration `json:"-"` // encoded as retry_delay_ms
	SpeedLimit         int64         `json:"speed_limit_bytes_per_second,omitempty"` // 0 = unlimited
	PreserveAttributes bool          `json:"preserve_attributes"`
	PreserveTimestamps bool          `json:"preserve_timestamps"`
	UseRecycleBin      bool          `json:"use_recycle_bin"`
	Interactive        bool          `json:"interactive,omitempty"`    // use the larger interactive chunk size
	FailIfExists       bool          `json:"fail_if_exists,omitempty"` // do not overwrite existing targets
}

// MarshalJSON writes RetryDelay as whole milliseconds, the unit requests use
func (o Options) MarshalJSON() ([]byte, error) {
	type plain Options
	return json.Marshal(struct {
		plain
		RetryDelayMs int64 `json:"retry_delay_ms"`
	}{plain(o), o.RetryDelay.Milliseconds()})
}

// UnmarshalJSON reads the form written by MarshalJSON
func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	aux := struct {
		plain
		RetryDelayMs *int64 `json:"retry_delay_ms"`
	}{plain: plain(*o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = Options(aux.plain)
	if aux.RetryDelayMs != nil {
		o.RetryDelay = time.Duration(*aux.RetryDelayMs) * time.Millisecond
	}
	return nil
}

// DefaultOptions returns the options applied when a caller supplies none
func DefaultOptions() Options {
	return Options{
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		PreserveAttributes: true,
		PreserveTimestamps: true,
	}
}

// Operation is a single queued copy, move or delete job.
//
// Values stored in the registry are treated as immutable snapshots: every
// update clones the current value, mutates the clone and swaps it in.
type Operation struct {
	ID                     string          `json:"id"`
	Type                   OperationType   `json:"type"`
	SourcePath             string          `json:"source_path"`
	TargetPath             string          `json:"target_path,omitempty"`
	Files                  []string        `json:"files,omitempty"`
	Status                 OperationStatus `json:"status"`
	Priority               Priority        `json:"priority"`
	ScheduledFor           *time.Time      `json:"scheduled_for,omitempty"`
	TotalBytes             int64           `json:"total_bytes"`
	ProcessedBytes         int64           `json:"processed_bytes"`
	TotalFiles             int             `json:"total_files"`
	ProcessedFiles         int             `json:"processed_files"`
	RetryCount             int             `json:"retry_count"`
	ErrorMessage           string          `json:"error_message,omitempty"`
	SpeedBytesPerSecond    float64         `json:"speed_bytes_per_second"`
	EstimatedTimeRemaining *time.Duration  `json:"estimated_time_remaining,omitempty"`
	Options                Options         `json:"options"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	StartedAt              *time.Time      `json:"started_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`

	// Sequence is the creation order, used to break priority ties.
	Sequence uint64 `json:"-"`
	// Attempt identifies the executor run that owns a running operation.
	// Updates from a superseded run are ignored.
	Attempt uint64 `json:"-"`
}

// Inputs returns the explicit file list, or the source path as the single item
func (o *Operation) Inputs() []string {
	if len(o.Files) > 0 {
		return o.Files
	}
	return []string{o.SourcePath}
}

// Clone returns a deep copy of the operation
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Files != nil {
		c.Files = append([]string(nil), o.Files...)
	}
	c.ScheduledFor = cloneTime(o.ScheduledFor)
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	if o.EstimatedTimeRemaining != nil {
		eta := *o.EstimatedTimeRemaining
		c.EstimatedTimeRemaining = &eta
	}
	return &c
}

// RunsBefore reports whether o sorts ahead of other: priority descending,
// then creation order ascending.
func (o *Operation) RunsBefore(other *Operation) bool {
	if o.Priority != other.Priority {
		return o.Priority > other.Priority
	}
	return o.Sequence < other.Sequence
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// QueueRequest describes an operation to enqueue
type QueueRequest struct {
	Type         OperationType `json:"type"`
	SourcePath   string        `json:"source_path"`
	TargetPath   string        `json:"target_path,omitempty"`
	Files        []string      `json:"files,omitempty"`
	Options      *Options      `json:"options,omitempty"`
	Priority     Priority      `json:"priority"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
}

// Statistics is a queue-wide snapshot derived from the registry
type Statistics struct {
	TotalOperations        int            `json:"total_operations"`
	PendingCount           int            `json:"pending_count"` // pending + queued
	RunningCount           int            `json:"running_count"`
	PausedCount            int            `json:"paused_count"`
	CompletedCount         int            `json:"completed_count"`
	FailedCount            int            `json:"failed_count"`
	CancelledCount         int            `json:"cancelled_count"`
	CurrentSpeed           float64        `json:"current_speed"`
	TotalBytes             int64          `json:"total_bytes"`
	ProcessedBytes         int64          `json:"processed_bytes"`
	EstimatedTimeRemaining *time.Duration `json:"estimated_time_remaining,omitempty"`
}

// EventType identifies a queue lifecycle event
type EventType string

const (
	EventOperationStarted   EventType = "operation_started"
	EventOperationCompleted EventType = "operation_completed"
	EventOperationFailed    EventType = "operation_failed"
	EventOperationPaused    EventType = "operation_paused"
	EventOperationCancelled EventType = "operation_cancelled"
	EventProgressChanged    EventType = "progress_changed"
	EventQueueEmpty         EventType = "queue_empty"
)

// Event is published to subscribers on every lifecycle transition.
// Operation is nil for EventQueueEmpty.
type Event struct {
	Type           EventType       `json:"type"`
	Operation      *Operation      `json:"operation,omitempty"`
	PreviousStatus OperationStatus `json:"previous_status,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
