// Package httpx provides HTTP response and query parameter helpers.
package httpx

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/nicktill/trafficwatch/pkg/logger"
)

var responseLogger atomic.Pointer[logger.Logger]

// SetLogger sets where encode failures are reported. Nil restores the no-op logger.
func SetLogger(l *logger.Logger) {
	responseLogger.Store(l)
}

func currentLogger() *logger.Logger {
	if l := responseLogger.Load(); l != nil {
		return l
	}
	return logger.NewNop()
}

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		currentLogger().Error(err, map[string]any{"reason": "failed to encode JSON response", "status": status})
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// RespondError writes err's message with optional structured details.
func RespondError(w http.ResponseWriter, status int, err error, details ...any) {
	RespondErrorString(w, status, err.Error(), details...)
}

// RespondErrorString writes an error response with the given message.
func RespondErrorString(w http.ResponseWriter, status int, message string, details ...any) {
	response := ErrorResponse{Error: message}
	if len(details) > 0 {
		response.Details = details[0]
	}
	RespondJSON(w, status, response)
}
