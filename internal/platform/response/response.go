// Package response provides the JSON envelope used by the API service.
// Errors carry the engine error kind so callers can distinguish bad
// input from missing resources and rule violations.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
)

// Response is the standard API response structure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo carries the error kind, message and structured details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Page       int   `json:"page,omitempty"`
	PerPage    int   `json:"perPage,omitempty"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"totalPages,omitempty"`
}

// APIError pairs an HTTP status with an error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
}

func (e *APIError) Error() string {
	return e.Message
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(message string) *APIError {
	return &APIError{
		StatusCode: http.StatusBadRequest,
		Code:       string(errs.KindInvalidInput),
		Message:    message,
	}
}

// FromError maps an engine error onto an HTTP status. Caller-facing
// kinds keep their message; engine-internal kinds are reported as
// internal errors.
func FromError(err error) *APIError {
	var engineErr *errs.Error
	if !errors.As(err, &engineErr) {
		return &APIError{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL_ERROR",
			Message:    "internal server error",
		}
	}

	apiErr := &APIError{
		Code:    string(engineErr.Kind),
		Message: engineErr.Message,
		Details: engineErr.Details,
	}
	switch engineErr.Kind {
	case errs.KindInvalidInput:
		apiErr.StatusCode = http.StatusBadRequest
	case errs.KindResourceNotFound:
		apiErr.StatusCode = http.StatusNotFound
	case errs.KindBusinessRuleViolation:
		apiErr.StatusCode = http.StatusConflict
	default:
		apiErr.StatusCode = http.StatusInternalServerError
		apiErr.Message = "internal server error"
		apiErr.Details = nil
	}
	return apiErr
}

// JSON sends a JSON response.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(resp)
}

// JSONWithMeta sends a JSON response with pagination metadata.
func JSONWithMeta(w http.ResponseWriter, statusCode int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
		Meta:    meta,
	}

	json.NewEncoder(w).Encode(resp)
}

// Error sends an error response.
func Error(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    err.Code,
			Message: err.Message,
			Details: err.Details,
		},
	}

	json.NewEncoder(w).Encode(resp)
}

// NoContent sends a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Paginated sends a paginated response.
func Paginated(w http.ResponseWriter, data interface{}, page, perPage int, total int64) {
	totalPages := 0
	if perPage > 0 {
		totalPages = int(total) / perPage
		if int(total)%perPage > 0 {
			totalPages++
		}
	}

	JSONWithMeta(w, http.StatusOK, data, &Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}
