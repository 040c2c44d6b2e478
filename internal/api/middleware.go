package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"concierge/internal/model"
	"concierge/internal/workflow"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	log.Error("API error", zap.String("code", errCode), zap.String("message", message))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := ErrorResponse{
		Error:   errCode,
		Message: message,
	}
	if errCode != "" {
		resp.Code = errCode
	}

	json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps domain errors to status codes: invariant
// violations are conflicts, unknown ids are 404, bad payloads are 400.
func writeDomainError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), log)
	case errors.Is(err, model.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "invalid_transition", err.Error(), log)
	case errors.Is(err, model.ErrConversationUnresolved):
		WriteError(w, http.StatusConflict, "conversation_unresolved", err.Error(), log)
	case errors.Is(err, workflow.ErrInvalidPayload):
		WriteError(w, http.StatusBadRequest, "invalid_payload", err.Error(), log)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), log)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip wrapping for WebSocket upgrades - they need direct access to ResponseWriter
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
