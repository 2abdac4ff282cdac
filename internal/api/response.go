package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Component string `json:"component,omitempty"`
	Error     string `json:"error"`
}

// DataResponse — тело успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// writeJSON пишет v как JSON с заданным статусом.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", "error", err)
	}
}

// writeError логирует err и отвечает 500 без подробностей.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.logger.Error("ops request failed", "error", err)
	writeJSON(w, h.logger, http.StatusInternalServerError, ErrorResponse{
		Component: h.component,
		Error:     "internal error",
	})
}
