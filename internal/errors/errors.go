// Package errors maps application errors onto the HTTP error envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/ytgrab/pkg/jobregistry"
	"github.com/3leaps/ytgrab/pkg/media"
)

// Error codes used in HTTP responses.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodePathNotAllowed     = "PATH_NOT_ALLOWED"
	CodePathNotWritable    = "PATH_NOT_WRITABLE"
	CodeProbeFailed        = "PROBE_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyTerminal    = "ALREADY_TERMINAL"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the payload inside the "error" key.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AppError carries an HTTP status and code through handler code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest returns a 400 error for malformed input.
func NewInvalidRequest(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message}
}

// NewServiceUnavailable returns a 503 error with details.
func NewServiceUnavailable(message string, details map[string]any) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// Classify returns the HTTP status and code for err.
func Classify(err error) (int, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Code
	}

	switch jobregistry.KindOf(err) {
	case jobregistry.KindInvalidRequest:
		return http.StatusBadRequest, CodeInvalidRequest
	case jobregistry.KindPathNotAllowed:
		return http.StatusBadRequest, CodePathNotAllowed
	case jobregistry.KindPathNotWritable:
		return http.StatusUnprocessableEntity, CodePathNotWritable
	case jobregistry.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case jobregistry.KindAlreadyTerminal:
		return http.StatusConflict, CodeAlreadyTerminal
	case jobregistry.KindShuttingDown:
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	}

	switch {
	case media.IsInvalidURL(err), errors.Is(err, media.ErrInvalidSelector):
		return http.StatusBadRequest, CodeInvalidRequest
	case media.IsProbeFailed(err):
		return http.StatusBadGateway, CodeProbeFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// RespondWithError writes err as an error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	msg := err.Error()
	var details map[string]any

	var appErr *AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
		details = appErr.Details
	}
	var jobErr *jobregistry.Error
	if errors.As(err, &jobErr) && jobErr.Message != "" {
		msg = jobErr.Message
		if jobErr.JobID != "" {
			details = map[string]any{"job_id": jobErr.JobID}
		}
	}
	if status == http.StatusInternalServerError && appErr == nil {
		msg = "internal server error"
	}

	WriteError(w, r, status, code, msg, details)
}

// WriteError writes an error envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := HTTPErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}}
	if r != nil {
		body.Error.RequestID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
