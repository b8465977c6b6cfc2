package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/service"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httputil"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/pagination"
)

// FortressHandler drives activation, status, unlock and teardown.
type FortressHandler struct {
	lifecycle   *service.Lifecycle
	activator   *service.Activator
	deactivator *service.Deactivator
	logger      *slog.Logger
}

func NewFortressHandler(lifecycle *service.Lifecycle, activator *service.Activator, deactivator *service.Deactivator, logger *slog.Logger) *FortressHandler {
	return &FortressHandler{
		lifecycle:   lifecycle,
		activator:   activator,
		deactivator: deactivator,
		logger:      logger,
	}
}

// ActivateRequest defaults plan to the account's selected plan and method
// to DEVICE_OWNER.
type ActivateRequest struct {
	Plan   string `json:"plan" validate:"omitempty,max=32"`
	Method string `json:"method" validate:"omitempty,oneof=DEVICE_OWNER DEVICE_ADMIN PROVISIONING MANUAL_PAIRING"`
}

type activationFailure struct {
	FailedLayers map[string]string `json:"failed_layers"`
	RolledBack   []string          `json:"rolled_back"`
}

type clearResponse struct {
	Outcome       service.ClearOutcome `json:"outcome"`
	AuthorityHeld bool                 `json:"authority_held"`
	AccountReset  bool                 `json:"account_reset"`
	FailedSteps   map[string]string    `json:"failed_steps,omitempty"`
}

// Activate handles POST /api/v1/fortress/activate
func (h *FortressHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.lifecycle.Authorize(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	planName := req.Plan
	if planName == "" {
		planName = account.SelectedPlan
	}
	if planName == "" {
		writeError(w, r, apperrors.InvalidInput("no plan given and none selected"), h.logger)
		return
	}
	plan, err := domain.PlanByName(planName)
	if err != nil {
		writeError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}
	method := domain.MethodDeviceOwner
	if req.Method != "" {
		method = domain.ActivationMethod(req.Method)
	}

	res, err := h.activator.Activate(r.Context(), plan, method)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	switch res.Outcome {
	case service.ActivationSuccess:
		if err := h.lifecycle.AlignCommitment(r.Context(), account, res.Policy); err != nil {
			h.logger.WarnContext(r.Context(), "failed to align commitment window",
				slog.String("account_id", account.ID),
				slog.String("error", err.Error()),
			)
		}
		httputil.WriteData(w, http.StatusCreated, res)
	case service.ActivationDeviceOwnerMissing:
		writeError(w, r, apperrors.PreconditionFailed(string(res.Outcome), domain.ErrAuthorityMissing.Error()), h.logger)
	case service.ActivationAlreadyActive:
		writeError(w, r, &apperrors.AppError{
			Code:    string(res.Outcome),
			Message: domain.ErrAlreadyActive.Error(),
			Status:  http.StatusConflict,
			Err:     apperrors.ErrConflict,
		}, h.logger)
	default:
		rolledBack := res.RolledBack
		if rolledBack == nil {
			rolledBack = []string{}
		}
		httputil.WriteErrorDetails(w, r, &apperrors.AppError{
			Code:    string(res.Outcome),
			Message: fmt.Sprintf("restriction layers failed: %v", res.Errors.Layers()),
			Status:  http.StatusBadGateway,
			Err:     res.Errors,
		}, activationFailure{FailedLayers: res.Errors.Map(), RolledBack: rolledBack}, h.logger)
	}
}

// Status handles GET /api/v1/fortress/status
func (h *FortressHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.lifecycle.Status(r.Context())
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// Unlock handles POST /api/v1/fortress/unlock
func (h *FortressHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	policy, err := h.lifecycle.MarkUnlockable(r.Context())
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, policy)
}

// Clear handles POST /api/v1/fortress/clear. It is refused until the active
// policy's period has elapsed. Once started, teardown never fails as a
// whole; failed steps are reported alongside a 200.
func (h *FortressHandler) Clear(w http.ResponseWriter, r *http.Request) {
	account, err := h.lifecycle.Authorize(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if err := h.lifecycle.CheckTeardown(r.Context()); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	res := h.deactivator.Clear(r.Context(), account.ID)
	out := clearResponse{
		Outcome:       res.Outcome,
		AuthorityHeld: res.AuthorityHeld,
		AccountReset:  res.AccountReset,
	}
	if len(res.Errors) > 0 {
		out.FailedSteps = res.Errors.Map()
	}
	httputil.WriteData(w, http.StatusOK, out)
}

// History handles GET /api/v1/fortress/history
func (h *FortressHandler) History(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.History(r.Context(), pagination.FromRequest(r))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
