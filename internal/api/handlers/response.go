package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", logger.Error(err))
	}
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidRequest("Invalid request body").WithDetails("reason", err.Error())
	}
	return nil
}

// handleError handles application errors
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.HTTPStatusOf(err) >= http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error("Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	errors.WriteError(w, err)
}
