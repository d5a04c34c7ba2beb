package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTP status code mappings
var errorStatusCodes = map[error]int{
	ErrInvalidInput:  http.StatusBadRequest,
	ErrInternalError: http.StatusInternalServerError,
	ErrTimeout:       http.StatusGatewayTimeout,
	ErrUnavailable:   http.StatusServiceUnavailable,

	// Domain-specific error mappings
	ErrUnsupportedFormat:   http.StatusBadRequest,
	ErrCorruptAudio:        http.StatusBadRequest,
	ErrAmbiguousSpeakers:   http.StatusBadRequest,
	ErrExternalUnavailable: http.StatusBadGateway,
	ErrExternalTimeout:     http.StatusGatewayTimeout,
	ErrInvariantViolation:  http.StatusInternalServerError,
	ErrTranscriptionFailed: http.StatusBadGateway,
	ErrTooManyRequests:     http.StatusTooManyRequests,
}

// ErrorResponse is the JSON body returned for every failed request
type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"status_code"`
}

// WriteError writes a standardized error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var response ErrorResponse

	var serr *Error
	switch {
	case err == nil:
		response = ErrorResponse{
			Error:      "unknown error",
			StatusCode: http.StatusInternalServerError,
		}
	case errors.As(err, &serr):
		response = ErrorResponse{
			Error:      serr.Message(),
			StatusCode: HTTPStatusFromError(serr),
		}
		if cause := serr.Unwrap(); cause != nil && cause.Error() != serr.Message() {
			response.Details = cause.Error()
		}
	default:
		response = ErrorResponse{
			Error:      err.Error(),
			StatusCode: HTTPStatusFromError(err),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(response)
}

// HTTPStatusFromError determines the appropriate HTTP status code for an error
func HTTPStatusFromError(err error) int {
	for err != nil {
		if code, ok := errorStatusCodes[err]; ok {
			return code
		}

		unwrapped := errors.Unwrap(err)
		if unwrapped == err || unwrapped == nil {
			break
		}
		err = unwrapped
	}

	return http.StatusInternalServerError
}
