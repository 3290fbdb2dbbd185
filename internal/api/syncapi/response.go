package syncapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type listData[T any] struct {
	List       []T               `json:"list"`
	Pagination models.Pagination `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError maps err to its HTTP status. Internal errors are logged and
// never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, status, envelope{
		Success: false,
		Message: apperr.PublicMessage(err),
		Code:    string(apperr.KindOf(err)),
	})
}
