package handlers

import (
	"log/slog"
	"net/http"

	"incident-registry/core/incidents"
)

// VerifyHandler serves the anonymous token lookup.
type VerifyHandler struct {
	resolver *incidents.Resolver
	logger   *slog.Logger
}

func NewVerifyHandler(resolver *incidents.Resolver, logger *slog.Logger) *VerifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyHandler{resolver: resolver, logger: logger}
}

func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	res, err := h.resolver.Resolve(r.Context(), urlParam(r, "token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
