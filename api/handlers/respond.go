package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"incident-registry/core/incidents"
)

const (
	errCodeNotFound       = "not_found"
	errCodeBadRequest     = "bad_request"
	errCodeInvalidContent = "invalid_content"
	errCodeTooLarge       = "payload_too_large"
	errCodeBusy           = "conflict_retry"
	errCodeInternal       = "internal_error"
	defaultMaxBodyBytes   = 1 << 20
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto responses. Unknown and forbidden incidents look
// the same to the caller; nothing internal leaks into a 5xx body.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, incidents.ErrNotFound), errors.Is(err, incidents.ErrForbidden):
		WriteJSON(w, http.StatusNotFound, errorBody{Error: errCodeNotFound})
	case errors.Is(err, incidents.ErrInvalidContent):
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: errCodeInvalidContent, Message: err.Error()})
	case errors.Is(err, incidents.ErrConflictRetryExhausted):
		w.Header().Set("Retry-After", "1")
		WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: errCodeBusy})
	default:
		if logger != nil {
			logger.Error("request failed", "method", r.Method, "route", RoutePattern(r), "error", err)
		}
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: errCodeInternal})
	}
}

// RoutePattern keeps tokens and ids out of logs.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "-"
}

// decodeJSON reads at most maxBytes of r's body into out and answers the request itself
// when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, out interface{}) bool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: errCodeTooLarge})
		case errors.Is(err, io.EOF):
			WriteJSON(w, http.StatusBadRequest, errorBody{Error: errCodeBadRequest, Message: "empty body"})
		default:
			WriteJSON(w, http.StatusBadRequest, errorBody{Error: errCodeBadRequest})
		}
		return false
	}
	return true
}

func parseISOTime(val string) (time.Time, error) {
	clean := strings.TrimSpace(val)
	if clean == "" {
		return time.Time{}, errors.New("empty time")
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}
	var lastErr error
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, clean); err == nil {
			return ts.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// parseOptionalTime treats a missing or blank value as "not set".
func parseOptionalTime(val *string) (*time.Time, error) {
	if val == nil || strings.TrimSpace(*val) == "" {
		return nil, nil
	}
	ts, err := parseISOTime(*val)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
