package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"vigilanteye/core"
)

var (
	connStringPattern = regexp.MustCompile(`(?:sqlite|redis|file)://[^\s"']+`)
	filePathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|secret|token|key|authorization)[:=]\s*["']?[^"'\s]+["']?`)
)

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// respondJSON writes a JSON response
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs the full error and sends the client a sanitized message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	requestID := requestIDFrom(r.Context())
	fields := []interface{}{"status_code", statusCode, "path", r.URL.Path, "request_id", requestID}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= http.StatusInternalServerError {
		a.logger.Errorw(message, fields...)
	} else {
		a.logger.Warnw(message, fields...)
	}

	a.respondJSON(w, errorResponse{Error: sanitizeErrorMessage(message), RequestID: requestID}, statusCode)
}
