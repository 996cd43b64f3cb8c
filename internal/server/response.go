package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// ErrorCode classifies API errors.
type ErrorCode string

const (
	ErrInvalidSnapshot ErrorCode = "INVALID_SNAPSHOT"
	ErrBadRequest      ErrorCode = "BAD_REQUEST"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrInternal        ErrorCode = "INTERNAL"
)

// APIError is the error body of a failed request.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil)
}

func respondError(w http.ResponseWriter, reqID string, status int, apiErr *APIError) {
	respondJSON(w, status, reqID, nil, apiErr)
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, apiErr *APIError) {
	resp := Response{
		Status:    "ok",
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
