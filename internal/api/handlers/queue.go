package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/service/transfer"
)

// QueueHandler handles queue-wide API requests
type QueueHandler struct {
	service *transfer.Service
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(service *transfer.Service) *QueueHandler {
	return &QueueHandler{service: service}
}

// QueueSettings is the body of GET and PUT /queue/settings
type QueueSettings struct {
	GlobalSpeedLimit       *int64 `json:"global_speed_limit"`
	MaxConcurrentTransfers *int   `json:"max_concurrent_transfers"`
}

// Action handles POST /queue/{action}
func (h *QueueHandler) Action(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	response := map[string]interface{}{"action": action}

	switch action {
	case "start":
		h.service.Start()
	case "stop":
		h.service.Stop()
	case "pause-all":
		response["affected"] = h.service.PauseAll()
	case "resume-all":
		response["affected"] = h.service.ResumeAll()
	default:
		handleError(w, r, errors.NewNotFoundError("Unknown action").WithDetails("action", action))
		return
	}

	response["running"] = h.service.IsRunning()
	writeJSON(w, http.StatusOK, response)
}

// GetSettings handles GET /queue/settings
func (h *QueueHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings())
}

// UpdateSettings handles PUT /queue/settings. Omitted fields are unchanged.
func (h *QueueHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req QueueSettings
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	if req.MaxConcurrentTransfers != nil {
		if err := h.service.SetMaxConcurrentTransfers(*req.MaxConcurrentTransfers); err != nil {
			handleError(w, r, err)
			return
		}
	}
	if req.GlobalSpeedLimit != nil {
		h.service.SetGlobalSpeedLimit(*req.GlobalSpeedLimit)
	}

	writeJSON(w, http.StatusOK, h.settings())
}

// Statistics handles GET /queue/statistics
func (h *QueueHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Statistics())
}

func (h *QueueHandler) settings() QueueSettings {
	limit := h.service.GlobalSpeedLimit()
	maxConcurrent := h.service.MaxConcurrentTransfers()
	return QueueSettings{
		GlobalSpeedLimit:       &limit,
		MaxConcurrentTransfers: &maxConcurrent,
	}
}
