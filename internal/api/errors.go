package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeGatewayTimeout     = "gateway_timeout"
	ErrCodePayloadTooLarge    = "payload_too_large"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// writeTimedataError maps a timedata error to its HTTP status.
//
// Validation failures are 400, an unreachable InfluxDB is 503 and an
// exceeded query deadline is 504. Anything else is a 500.
func writeTimedataError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timedata.ErrMalformedDeviceName),
		errors.Is(err, timedata.ErrInvalidChannelAddress),
		errors.Is(err, timedata.ErrInvalidQueryRange),
		errors.Is(err, timedata.ErrInvalidResolution),
		errors.Is(err, timedata.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, timedata.ErrBackendTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, "query timed out")
	case errors.Is(err, timedata.ErrBackendUnavailable):
		writeServiceUnavailable(w, "time-series backend unavailable")
	default:
		writeInternalError(w, "internal server error")
	}
}
