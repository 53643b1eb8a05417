package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/common/utils"
	"github.com/xuecangming/transfer-queue/internal/service/transfer"
)

// OperationHandler handles operation API requests
type OperationHandler struct {
	service *transfer.Service
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(service *transfer.Service) *OperationHandler {
	return &OperationHandler{service: service}
}

// optionsRequest overrides individual default options; nil fields keep
// the default
type optionsRequest struct {
	MaxRetries         *int   `json:"max_retries"`
	RetryDelayMs       *int   `json:"retry_delay_ms"`
	SpeedLimit         *int64 `json:"speed_limit_bytes_per_second"`
	PreserveAttributes *bool  `json:"preserve_attributes"`
	PreserveTimestamps *bool  `json:"preserve_timestamps"`
	UseRecycleBin      *bool  `json:"use_recycle_bin"`
	Interactive        *bool  `json:"interactive"`
	FailIfExists       *bool  `json:"fail_if_exists"`
}

func (o *optionsRequest) apply(opts types.Options) types.Options {
	if o.MaxRetries != nil {
		opts.MaxRetries = *o.MaxRetries
	}
	if o.RetryDelayMs != nil {
		opts.RetryDelay = utils.Millis(*o.RetryDelayMs)
	}
	if o.SpeedLimit != nil {
		opts.SpeedLimit = *o.SpeedLimit
	}
	if o.PreserveAttributes != nil {
		opts.PreserveAttributes = *o.PreserveAttributes
	}
	if o.PreserveTimestamps != nil {
		opts.PreserveTimestamps = *o.PreserveTimestamps
	}
	if o.UseRecycleBin != nil {
		opts.UseRecycleBin = *o.UseRecycleBin
	}
	if o.Interactive != nil {
		opts.Interactive = *o.Interactive
	}
	if o.FailIfExists != nil {
		opts.FailIfExists = *o.FailIfExists
	}
	return opts
}

// createOperationRequest is the body of POST /operations
type createOperationRequest struct {
	Type         types.OperationType `json:"type"`
	SourcePath   string              `json:"source_path"`
	TargetPath   string              `json:"target_path"`
	Files        []string            `json:"files"`
	Priority     types.Priority      `json:"priority"`
	ScheduledFor *time.Time          `json:"scheduled_for"`
	Options      *optionsRequest     `json:"options"`
}

type priorityRequest struct {
	Priority types.Priority `json:"priority"`
}

// List handles GET /operations[?status=queued,running]
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := utils.ParseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		handleError(w, r, errors.InvalidRequest(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": h.service.GetOperationsByStatus(statuses...),
	})
}

// Create handles POST /operations
func (h *OperationHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := createOperationRequest{Priority: types.PriorityNormal}
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	queueReq := types.QueueRequest{
		Type:         req.Type,
		SourcePath:   req.SourcePath,
		TargetPath:   req.TargetPath,
		Files:        req.Files,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
	}
	if req.Options != nil {
		opts := req.Options.apply(h.service.DefaultOptions())
		queueReq.Options = &opts
	}

	op, err := h.service.Queue(queueReq)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// Get handles GET /operations/{id}
func (h *OperationHandler) Get(w http.ResponseWriter, r *http.Request) {
	op, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// Delete handles DELETE /operations/{id}
func (h *OperationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(mux.Vars(r)["id"]); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Action handles POST /operations/{id}/{action}
func (h *OperationHandler) Action(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var err error
	switch vars["action"] {
	case "pause":
		_, err = h.service.Pause(id)
	case "resume":
		_, err = h.service.Resume(id)
	case "cancel":
		_, err = h.service.Cancel(id)
	case "retry":
		_, err = h.service.Retry(id)
	case "move-up":
		err = h.service.MoveUp(id)
	case "move-down":
		err = h.service.MoveDown(id)
	case "move-top":
		err = h.service.MoveToTop(id)
	case "move-bottom":
		err = h.service.MoveToBottom(id)
	default:
		err = errors.NewNotFoundError("Unknown action").WithDetails("action", vars["action"])
	}
	if err != nil {
		handleError(w, r, err)
		return
	}

	h.Get(w, r)
}

// SetPriority handles PUT /operations/{id}/priority
func (h *OperationHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	op, err := h.service.SetPriority(mux.Vars(r)["id"], req.Priority)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ClearCompleted handles POST /operations/_clear-completed
func (h *OperationHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := h.service.ClearCompleted()
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}
