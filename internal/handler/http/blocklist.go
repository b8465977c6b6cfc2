package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/service"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httputil"
)

type BlockListHandler struct {
	lifecycle *service.Lifecycle
	logger    *slog.Logger
}

func NewBlockListHandler(lifecycle *service.Lifecycle, logger *slog.Logger) *BlockListHandler {
	return &BlockListHandler{lifecycle: lifecycle, logger: logger}
}

type AddBlockedRequest struct {
	Package string `json:"package" validate:"required,app_package,max=255"`
}

type blockListResponse struct {
	Packages []string `json:"packages"`
}

// List handles GET /api/v1/blocklist
func (h *BlockListHandler) List(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.lifecycle.BlockList(r.Context())
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, blockListResponse{Packages: pkgs})
}

// Add handles POST /api/v1/blocklist
func (h *BlockListHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddBlockedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.lifecycle.AddBlocked(r.Context(), req.Package); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, req)
}

// Remove handles DELETE /api/v1/blocklist/{package}
func (h *BlockListHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.RemoveBlocked(r.Context(), chi.URLParam(r, "package")); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
