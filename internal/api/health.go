package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

// ReadyResponse — ответ /readyz.
type ReadyResponse struct {
	Component string            `json:"component"`
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Healthz отвечает, пока процесс жив.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readyz выполняет проверки зависимостей.
// GET /readyz
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{
		Component: h.component,
		Ready:     true,
		Checks:    make(map[string]string, len(names)),
	}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Ready = false
			resp.Checks[name] = err.Error()
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, resp)
}

// Status возвращает состояние компонента.
// GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, h.logger, http.StatusOK, DataResponse{Data: map[string]string{"component": h.component}})
		return
	}

	data, err := h.status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, DataResponse{Data: data})
}
