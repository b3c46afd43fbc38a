package handlers

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Envelope wraps every successful response.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func sendData(w http.ResponseWriter, data any) {
	sendJSON(w, Envelope{Success: true, Data: data, Timestamp: timestamp()}, http.StatusOK)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, message string, statusCode int, details any) {
	sendJSON(w, ErrorResponse{
		Success:   false,
		Error:     http.StatusText(statusCode),
		Message:   message,
		Code:      statusCode,
		Details:   details,
		Timestamp: timestamp(),
	}, statusCode)
}

// NotFound answers unknown routes in the API error format.
func NotFound(w http.ResponseWriter, r *http.Request) {
	sendError(w, "endpoint not found", http.StatusNotFound, nil)
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	sendError(w, "method not allowed", http.StatusMethodNotAllowed, nil)
}
