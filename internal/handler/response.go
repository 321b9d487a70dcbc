package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/service"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, dto.Response{
		Success:   true,
		Code:      status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, dto.Response{
		Code:      status,
		Message:   message,
		ErrorCode: errorCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, dto.Response{
		Code:      http.StatusBadRequest,
		Message:   "Validation failed",
		ErrorCode: "VALIDATION_ERROR",
		Errors:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && optional:
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
	return false
}

// queryInt parses an optional integer query parameter. An empty value yields
// def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &service.ValidationError{Fields: map[string]string{name: "must be an integer"}}
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &service.ValidationError{Fields: map[string]string{name: "must be true or false"}}
	}
	return &b, nil
}

// queryDays parses the days parameter used by the window-based analytics
// endpoints.
func queryDays(r *http.Request) (int, error) {
	days, err := queryInt(r, "days", service.DefaultAnalyticsDays)
	if err != nil {
		return 0, err
	}
	if days < 1 || days > maxDays {
		return 0, &service.ValidationError{Fields: map[string]string{"days": fmt.Sprintf("must be between 1 and %d", maxDays)}}
	}
	return days, nil
}

const maxDays = 365
