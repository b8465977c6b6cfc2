package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/routing"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/pagination"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/validator"
)

// Status is the countdown view of the active policy.
type Status struct {
	Policy          *domain.Policy   `json:"policy"`
	Remaining       domain.Remaining `json:"remaining"`
	ProgressPercent float64          `json:"progress_percent"`
	UnlockEligible  bool             `json:"unlock_eligible"`
}

// Lifecycle holds the account writes the router moves between, plus the
// read side of the active policy.
type Lifecycle struct {
	stores Stores
	device Device
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewLifecycle(stores Stores, device Device, events EventPublisher, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		stores: stores,
		device: device,
		events: events,
		logger: logger,
		now:    utcNow,
	}
}

// Register creates a PENDING account for identity bound to deviceID, or to
// the local device when deviceID is empty.
func (s *Lifecycle) Register(ctx context.Context, identity, email, deviceID string) (*domain.Account, error) {
	if identity == "" {
		return nil, apperrors.Unauthorized("identity is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid email %q", email))
	}
	if deviceID == "" {
		deviceID = s.device.ID
	}

	existing, err := s.stores.Accounts.Get(ctx, identity)
	if err != nil {
		return nil, domain.NewStorageError("account", "get", err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("account", "id", identity)
	}
	byEmail, err := s.stores.Accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.NewStorageError("account", "get_by_email", err)
	}
	if byEmail != nil {
		return nil, apperrors.AlreadyExists("account", "email", strings.ToLower(email))
	}

	account := domain.NewAccount(identity, email, deviceID, s.now())
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("device_id", account.DeviceID),
	)
	return account, nil
}

// Account returns the caller's account.
func (s *Lifecycle) Account(ctx context.Context, identity string) (*domain.Account, error) {
	return s.account(ctx, identity)
}

// Authorize returns identity's account, refusing one that is bound to a
// different device.
func (s *Lifecycle) Authorize(ctx context.Context, identity string) (*domain.Account, error) {
	account, err := s.account(ctx, identity)
	if err != nil {
		return nil, err
	}
	v := routing.Resolve(identity, account, s.device.ID, s.now())
	if v.Destination == domain.DestUnauthorizedDevice {
		s.logger.WarnContext(ctx, "request from unbound device refused",
			slog.String("account_id", account.ID),
			slog.String("bound_device_id", v.BoundDeviceID),
		)
		return nil, &apperrors.AppError{
			Code:    string(domain.DestUnauthorizedDevice),
			Message: fmt.Sprintf("account is bound to device %s", v.BoundDeviceID),
			Status:  http.StatusForbidden,
			Err:     apperrors.ErrForbidden,
		}
	}
	return account, nil
}

// CheckTeardown refuses a teardown while the policy in the active slot is
// still inside its commitment period.
func (s *Lifecycle) CheckTeardown(ctx context.Context) error {
	p, err := s.stores.Policies.GetActive(ctx, s.device.ID)
	if err != nil {
		return domain.NewStorageError("policy", "get_active", err)
	}
	if p != nil && !p.IsUnlockEligible(s.now()) {
		return apperrors.PreconditionFailed("NOT_ELIGIBLE",
			fmt.Sprintf("commitment runs until %s", p.ExpiresAt.Format(time.RFC3339)))
	}
	return nil
}

// AlignCommitment re-stamps account's commitment window from the policy that
// was just activated.
func (s *Lifecycle) AlignCommitment(ctx context.Context, account *domain.Account, policy *domain.Policy) error {
	if !account.AlignToPolicy(policy, s.now()) {
		return nil
	}
	return s.save(ctx, account)
}

// SelectPlan starts a commitment: TRIAL for the free plan, ACTIVE otherwise.
func (s *Lifecycle) SelectPlan(ctx context.Context, identity, planName string) (*domain.Account, error) {
	plan, err := domain.PlanByName(planName)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	account, err := s.account(ctx, identity)
	if err != nil {
		return nil, err
	}
	if account.CommitmentEnd != nil && !account.CommitmentEnded(s.now()) {
		return nil, apperrors.Conflict("a commitment is already running")
	}

	account.StartCommitment(plan, s.now())
	if err := account.Validate(); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "plan selected",
		slog.String("account_id", account.ID),
		slog.String("plan", string(plan.Name)),
		slog.String("status", string(account.SubscriptionStatus)),
	)
	return account, nil
}

// GrantDeviceOwner records that this device now holds restriction authority.
// The agent is asked first; the flag is never set on faith.
func (s *Lifecycle) GrantDeviceOwner(ctx context.Context, identity string) (*domain.Account, error) {
	account, err := s.account(ctx, identity)
	if err != nil {
		return nil, err
	}
	held, err := s.device.Authority.IsHeld(ctx)
	if err != nil {
		return nil, apperrors.Unavailable("device authority query failed", err)
	}
	if !held {
		return nil, apperrors.PreconditionFailed("AUTHORITY_MISSING", domain.ErrAuthorityMissing.Error())
	}
	if account.HasDeviceOwner {
		return account, nil
	}

	account.HasDeviceOwner = true
	account.UpdatedAt = s.now()
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "device owner granted", slog.String("account_id", account.ID))
	return account, nil
}

// Status reports the countdown of the active policy.
func (s *Lifecycle) Status(ctx context.Context) (*Status, error) {
	p, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &Status{
		Policy:          p,
		Remaining:       p.RemainingTime(now),
		ProgressPercent: p.ProgressPercentage(now),
		UnlockEligible:  p.IsUnlockEligible(now),
	}, nil
}

// MarkUnlockable moves the active policy to UNLOCKABLE once its period has
// elapsed. Restrictions stay in place until Clear.
func (s *Lifecycle) MarkUnlockable(ctx context.Context) (*domain.Policy, error) {
	p, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	if p.State == domain.StateUnlockable {
		return p, nil
	}
	if err := p.MarkUnlockable(s.now()); err != nil {
		if errors.Is(err, domain.ErrNotEligible) {
			return nil, apperrors.PreconditionFailed("NOT_ELIGIBLE",
				fmt.Sprintf("commitment runs until %s", p.ExpiresAt.Format(time.RFC3339)))
		}
		return nil, apperrors.Conflict(err.Error())
	}
	if err := s.stores.Policies.Update(ctx, p); err != nil {
		return nil, domain.NewStorageError("policy", "update", err)
	}

	s.logger.InfoContext(ctx, "policy marked unlockable",
		slog.String("policy_id", p.ID),
		slog.String("device_id", p.DeviceID),
	)
	logEventError(ctx, s.logger, event.TopicPolicyUnlockable, s.events.PublishPolicyUnlockable(ctx, p))
	return p, nil
}

// History pages through the device's past policies, newest first.
func (s *Lifecycle) History(ctx context.Context, p pagination.Params) (pagination.Result[*domain.Policy], error) {
	all, err := s.stores.Policies.ListHistorical(ctx, s.device.ID)
	if err != nil {
		return pagination.Result[*domain.Policy]{}, domain.NewStorageError("policy", "list_historical", err)
	}
	if p.PerPage <= 0 {
		p = pagination.DefaultParams()
	}
	if p.Page < 1 {
		p.Page = 1
	}
	p.Offset = (p.Page - 1) * p.PerPage
	return pagination.Slice(all, p), nil
}

// BlockList returns the user-added packages.
func (s *Lifecycle) BlockList(ctx context.Context) ([]string, error) {
	pkgs, err := s.stores.UserBlocks.List(ctx, s.device.ID)
	if err != nil {
		return nil, domain.NewStorageError("user_block_list", "list", err)
	}
	if pkgs == nil {
		pkgs = []string{}
	}
	return pkgs, nil
}

// AddBlocked adds pkg to the user block list. It takes effect on the next
// activation.
func (s *Lifecycle) AddBlocked(ctx context.Context, pkg string) error {
	pkg = strings.TrimSpace(pkg)
	if err := validator.ValidatePackage(pkg); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if pkg == domain.SelfPackage || pkg == domain.ManagedBrowser {
		return apperrors.InvalidInput(fmt.Sprintf("%s cannot be blocked", pkg))
	}
	if err := s.stores.UserBlocks.Add(ctx, s.device.ID, pkg); err != nil {
		return domain.NewStorageError("user_block_list", "add", err)
	}
	return nil
}

// RemoveBlocked drops pkg from the user block list. Refused while a policy
// is active so the list cannot be loosened mid-commitment.
func (s *Lifecycle) RemoveBlocked(ctx context.Context, pkg string) error {
	p, err := s.stores.Policies.GetActive(ctx, s.device.ID)
	if err != nil {
		return domain.NewStorageError("policy", "get_active", err)
	}
	if p != nil && p.State.Occupying() {
		return apperrors.Conflict("block list is locked while the fortress is active")
	}
	if err := s.stores.UserBlocks.Remove(ctx, s.device.ID, strings.TrimSpace(pkg)); err != nil {
		return domain.NewStorageError("user_block_list", "remove", err)
	}
	return nil
}

func (s *Lifecycle) account(ctx context.Context, identity string) (*domain.Account, error) {
	if identity == "" {
		return nil, apperrors.Unauthorized("identity is required")
	}
	account, err := s.stores.Accounts.Get(ctx, identity)
	if err != nil {
		return nil, domain.NewStorageError("account", "get", err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account", identity)
	}
	return account, nil
}

func (s *Lifecycle) active(ctx context.Context) (*domain.Policy, error) {
	p, err := s.stores.Policies.GetActive(ctx, s.device.ID)
	if err != nil {
		return nil, domain.NewStorageError("policy", "get_active", err)
	}
	if p == nil {
		return nil, &apperrors.AppError{
			Code:    "NO_ACTIVE_POLICY",
			Message: domain.ErrNoActivePolicy.Error(),
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	}
	return p, nil
}

// save writes through the store, which invalidates any cached copy, and
// announces the change to other instances.
func (s *Lifecycle) save(ctx context.Context, a *domain.Account) error {
	if err := s.stores.Accounts.Set(ctx, a); err != nil {
		return domain.NewStorageError("account", "set", err)
	}
	logEventError(ctx, s.logger, event.TopicAccountUpdated, s.events.PublishAccountUpdated(ctx, a))
	return nil
}
