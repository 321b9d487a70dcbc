// Package middleware provides HTTP middleware for the DevInsight API.
package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorEnvelope mirrors the handler package's error response so that
// middleware rejections look like any other API error.
type errorEnvelope struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	ErrorCode string `json:"error_code"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Code:      status,
		Message:   message,
		ErrorCode: errorCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
