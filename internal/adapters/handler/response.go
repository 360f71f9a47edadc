// Package handler implements the HTTP adapters of the relay
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIResponse represents the standard response envelope of the chat and system APIs
type APIResponse struct {
	Code    int         `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"` // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`    // Actual payload (can be null)
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewCreatedResponse creates a response for a new resource (code 201)
func NewCreatedResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusCreated,
		Message: "Created",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// Common error responses
func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusUnauthorized, message)
}

func NotFoundResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

// writeJSON writes payload with the given status code
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeResponse writes an envelope using its own code as the HTTP status
func writeResponse(w http.ResponseWriter, resp APIResponse) {
	writeJSON(w, resp.Code, resp)
}
