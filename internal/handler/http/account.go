package http

import (
	"log/slog"
	"net/http"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/routing"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/service"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httputil"
)

// AccountHandler serves routing and the account lifecycle writes.
type AccountHandler struct {
	router    *routing.Service
	lifecycle *service.Lifecycle
	logger    *slog.Logger
}

func NewAccountHandler(router *routing.Service, lifecycle *service.Lifecycle, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{router: router, lifecycle: lifecycle, logger: logger}
}

// RegisterRequest is the body of POST /api/v1/account. Email defaults to
// the token's email and device_id to the local device.
type RegisterRequest struct {
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
}

type SelectPlanRequest struct {
	Plan string `json:"plan" validate:"required,max=32"`
}

type planResponse struct {
	Name        domain.PlanName `json:"name"`
	Days        int             `json:"days"`
	PriceCents  int64           `json:"price_cents"`
	Free        bool            `json:"free"`
	Description string          `json:"description"`
}

// Route handles GET /api/v1/route
func (h *AccountHandler) Route(w http.ResponseWriter, r *http.Request) {
	verdict := h.router.Route(r.Context(), identity(r).AccountID)
	httputil.WriteData(w, http.StatusOK, verdict)
}

// Plans handles GET /api/v1/plans
func (h *AccountHandler) Plans(w http.ResponseWriter, _ *http.Request) {
	plans := domain.Plans()
	out := make([]planResponse, len(plans))
	for i, p := range plans {
		out[i] = planResponse{
			Name:        p.Name,
			Days:        p.Days(),
			PriceCents:  p.PriceCents,
			Free:        p.Free,
			Description: p.Description,
		}
	}
	httputil.WriteData(w, http.StatusOK, out)
}

// Get handles GET /api/v1/account
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.lifecycle.Account(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, account)
}

// Register handles POST /api/v1/account
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	id := identity(r)
	email := req.Email
	if email == "" {
		email = id.Email
	}

	account, err := h.lifecycle.Register(r.Context(), id.AccountID, email, req.DeviceID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, account)
}

// SelectPlan handles PUT /api/v1/account/plan
func (h *AccountHandler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	var req SelectPlanRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := h.lifecycle.SelectPlan(r.Context(), identity(r).AccountID, req.Plan)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, account)
}

// GrantDeviceOwner handles POST /api/v1/account/device-owner
func (h *AccountHandler) GrantDeviceOwner(w http.ResponseWriter, r *http.Request) {
	account, err := h.lifecycle.GrantDeviceOwner(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, account)
}
