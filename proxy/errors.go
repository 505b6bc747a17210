package proxy

import (
	"encoding/json"
	"net/http"
)

// ErrorType is the fixed vocabulary callers branch on.
type ErrorType string

const (
	TypeInvalidRequest ErrorType = "invalid_request"
	TypeAuthentication ErrorType = "authentication_error"
	TypeConfiguration  ErrorType = "configuration_error"
	TypeServer         ErrorType = "server_error"
	TypeTimeout        ErrorType = "timeout_error"
	TypeRateLimit      ErrorType = "rate_limit_error"
)

const (
	msgMethodNotAllowed   = "Method not allowed"
	msgAuthRequired       = "Authentication required"
	msgAuthInvalid        = "Invalid or expired token"
	msgNotConfigured      = "Service not configured"
	msgInvalidJSON        = "Request body must be valid JSON"
	msgRateLimited        = "Rate limit exceeded, please retry later"
	msgTimeout            = "Request timed out"
	msgInternal           = "Internal server error"
	msgMessagesRequired   = "messages must be a non-empty array"
	msgInvalidTemperature = "temperature must be between 0 and 1"
	msgModelNotAllowed    = "model is not allowed"
)

// ErrorBody is the envelope written for every rejected request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure kind and a human readable message.
type ErrorDetail struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ ErrorType, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Type: typ, Message: message}})
}
