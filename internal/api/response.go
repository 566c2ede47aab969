package api

import (
	"errors"
	"net/http"

	"fundval/pkg/fundval"
)

// Response represents a successful API response with unified format.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse represents an error API response with structured information.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMessageSetter interface {
	SetErrorMessage(message string)
}

// writeSuccess writes a successful response with data.
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{
		Code: 0,
		Data: data,
	})
}

// writeErrorResponse writes an error response. A structured *fundval.Error
// anywhere in the chain decides the status; httpStatus is the fallback.
func writeErrorResponse(w http.ResponseWriter, httpStatus int, err error) {
	response := ErrorResponse{
		Code:    httpStatus,
		Message: err.Error(),
	}

	var fvErr *fundval.Error
	if errors.As(err, &fvErr) {
		response.ErrorCode = string(fvErr.Code)
		httpStatus = mapErrorCodeToHTTPStatus(fvErr.Code)
		response.Code = httpStatus
	}
	if setter, ok := w.(errorMessageSetter); ok {
		setter.SetErrorMessage(response.Message)
	}
	response.RequestID = w.Header().Get(requestIDHeader)

	writeJSON(w, httpStatus, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code fundval.ErrorCode) int {
	switch code {
	case fundval.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case fundval.ErrCodeUpstreamUnavailable, fundval.ErrCodeParse:
		return http.StatusBadGateway
	case fundval.ErrCodeCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
