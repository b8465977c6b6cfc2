package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/tracing"
)

type ActivationOutcome string

const (
	ActivationSuccess            ActivationOutcome = "SUCCESS"
	ActivationDeviceOwnerMissing ActivationOutcome = "DEVICE_OWNER_NOT_ACTIVE"
	ActivationAlreadyActive      ActivationOutcome = "ALREADY_ACTIVE"
	ActivationRestrictionsFailed ActivationOutcome = "RESTRICTIONS_FAILED"
)

// ActivationResult is the outcome of one Activate call. Policy is set only
// on success, Errors only when restrictions failed.
type ActivationResult struct {
	Outcome    ActivationOutcome  `json:"outcome"`
	Policy     *domain.Policy     `json:"policy,omitempty"`
	Errors     domain.LayerErrors `json:"-"`
	RolledBack []string           `json:"rolled_back,omitempty"`
}

// Err maps a non-success outcome onto the domain error taxonomy.
func (r ActivationResult) Err() error {
	switch r.Outcome {
	case ActivationDeviceOwnerMissing:
		return domain.ErrAuthorityMissing
	case ActivationAlreadyActive:
		return domain.ErrAlreadyActive
	case ActivationRestrictionsFailed:
		return r.Errors
	}
	return nil
}

type ActivatorOptions struct {
	// Rollback removes already applied layers when a later one fails.
	Rollback bool
	// Harden appends the device_restrictions layer to the sequence.
	Harden bool
}

// Activator applies the restriction layers in their fixed order and
// persists the policy only when every layer succeeded.
type Activator struct {
	stores Stores
	device Device
	events EventPublisher
	opts   ActivatorOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewActivator(stores Stores, device Device, events EventPublisher, opts ActivatorOptions, logger *slog.Logger) *Activator {
	return &Activator{
		stores: stores,
		device: device,
		events: events,
		opts:   opts,
		logger: logger,
		now:    utcNow,
	}
}

// sequence is the fixed layer order. Later layers assume earlier ones hold.
func (a *Activator) sequence() []restriction.Layer {
	l := a.device.Layers
	seq := []restriction.Layer{l.UninstallBlock, l.HideApps, l.SuspendApps, l.AutoTime, l.ContentFilter}
	if a.opts.Harden {
		seq = append(seq, l.DeviceRestrictions)
	}
	return seq
}

// recordLayer sets the policy flag owned by a layer after it succeeded.
func recordLayer(p *domain.Policy, layer string) {
	switch layer {
	case restriction.AutoTime:
		p.TimeProtectionActive = true
	case restriction.ContentFilter:
		p.DNSForced = true
	case restriction.DeviceRestrictions:
		p.SafeModeDisabled = true
		p.FactoryResetBlocked = true
	}
}

// Activate locks the device for plan. Outcomes other than success are
// reported through the result; the error is reserved for unreachable
// collaborators and store failures.
func (a *Activator) Activate(ctx context.Context, plan domain.Plan, method domain.ActivationMethod) (res ActivationResult, err error) {
	ctx, end := tracing.Start(ctx, tracer, "fortress.activate",
		attribute.String("fortress.device_id", a.device.ID),
		attribute.String("fortress.plan", string(plan.Name)),
	)
	defer func() { end(err) }()
	defer func() {
		if err == nil {
			activationsTotal.WithLabelValues(string(res.Outcome)).Inc()
		}
	}()

	if plan.IsZero() {
		return res, apperrors.InvalidInput("plan is required")
	}

	held, err := a.device.Authority.IsHeld(ctx)
	if err != nil {
		return res, apperrors.Unavailable("device authority query failed", err)
	}
	if !held {
		a.logger.WarnContext(ctx, "activation refused, device authority not held", slog.String("device_id", a.device.ID))
		return ActivationResult{Outcome: ActivationDeviceOwnerMissing}, nil
	}

	current, err := a.stores.Policies.GetActive(ctx, a.device.ID)
	if err != nil {
		return res, domain.NewStorageError("policy", "get_active", err)
	}
	if current != nil {
		a.logger.InfoContext(ctx, "activation skipped, policy already active",
			slog.String("device_id", a.device.ID),
			slog.String("policy_id", current.ID),
		)
		return ActivationResult{Outcome: ActivationAlreadyActive}, nil
	}

	userBlocks, err := a.stores.UserBlocks.List(ctx, a.device.ID)
	if err != nil {
		return res, domain.NewStorageError("user_block_list", "list", err)
	}
	snapshot := domain.BlockedSnapshot(userBlocks)
	hidden, suspended := domain.SplitBlocked(snapshot)

	policy := domain.NewPolicy(a.device.ID, plan, method, snapshot, a.now())
	if err := a.stores.Scratch.SavePending(ctx, policy); err != nil {
		a.logger.WarnContext(ctx, "failed to save pending policy", slog.String("error", err.Error()))
	}
	defer func() {
		if err := a.stores.Scratch.ClearPending(context.WithoutCancel(ctx), a.device.ID); err != nil {
			a.logger.WarnContext(ctx, "failed to clear pending policy", slog.String("error", err.Error()))
		}
	}()

	started := time.Now()
	params := a.device.params(hidden, suspended)
	applied, failed := a.applyAll(ctx, policy, params)
	activationDuration.Observe(time.Since(started).Seconds())

	if len(failed) > 0 {
		rolledBack := a.rollback(ctx, applied, params)
		logEventError(ctx, a.logger, event.TopicPolicyActivationFailed,
			a.events.PublishActivationFailed(ctx, a.device.ID, plan.Name, failed, rolledBack))
		return ActivationResult{Outcome: ActivationRestrictionsFailed, Errors: failed, RolledBack: rolledBack}, nil
	}

	policy.State = domain.StateActive
	if err := a.persist(ctx, policy); err != nil {
		if errors.Is(err, domain.ErrAlreadyActive) {
			// The layers are device-wide and now belong to the winning policy.
			a.logger.WarnContext(ctx, "activation lost the active slot, restrictions left in place",
				slog.String("device_id", a.device.ID),
				slog.String("policy_id", policy.ID),
			)
			return ActivationResult{Outcome: ActivationAlreadyActive}, nil
		}
		a.rollback(ctx, applied, params)
		return res, err
	}

	a.logger.InfoContext(ctx, "fortress activated",
		slog.String("device_id", policy.DeviceID),
		slog.String("policy_id", policy.ID),
		slog.String("plan", string(plan.Name)),
		slog.Time("expires_at", policy.ExpiresAt),
		slog.Int("blocked_apps", len(policy.BlockedApps)),
	)
	logEventError(ctx, a.logger, event.TopicPolicyActivated, a.events.PublishPolicyActivated(ctx, policy))

	return ActivationResult{Outcome: ActivationSuccess, Policy: policy}, nil
}

// applyAll stops at the first failing layer. A composite layer reports each
// failing sub-layer separately. The failing layer itself is included in
// applied, since it may have taken partial effect.
func (a *Activator) applyAll(ctx context.Context, policy *domain.Policy, params restriction.Params) (applied []restriction.Layer, failed domain.LayerErrors) {
	for _, layer := range a.sequence() {
		applied = append(applied, layer)
		if err := layer.Apply(ctx, params); err != nil {
			failed = restriction.Flatten(layer.Name(), err)
			for _, f := range failed {
				layerFailuresTotal.WithLabelValues("activate", f.Layer).Inc()
				a.logger.ErrorContext(ctx, "restriction layer failed",
					slog.String("layer", f.Layer),
					slog.String("device_id", policy.DeviceID),
					slog.String("policy_id", policy.ID),
					slog.String("error", f.Err.Error()),
				)
			}
			return applied, failed
		}
		recordLayer(policy, layer.Name())
		a.logger.InfoContext(ctx, "restriction layer applied",
			slog.String("layer", layer.Name()),
			slog.String("device_id", policy.DeviceID),
			slog.String("policy_id", policy.ID),
		)
	}
	return applied, nil
}

// rollback removes layers in reverse order. Failures are logged only.
func (a *Activator) rollback(ctx context.Context, applied []restriction.Layer, params restriction.Params) []string {
	if !a.opts.Rollback {
		return nil
	}
	var removed []string
	for i := len(applied) - 1; i >= 0; i-- {
		layer := applied[i]
		if err := layer.Remove(ctx, params); err != nil {
			a.logger.ErrorContext(ctx, "rollback of restriction layer failed",
				slog.String("layer", layer.Name()),
				slog.String("device_id", params.DeviceID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed = append(removed, layer.Name())
	}
	return removed
}

// persist claims the active slot and then records the blocked snapshot. A
// lost slot leaves the stored snapshot untouched. When the snapshot cannot be
// written the slot is released again.
func (a *Activator) persist(ctx context.Context, policy *domain.Policy) error {
	if err := a.stores.Policies.SetActive(ctx, policy); err != nil {
		if errors.Is(err, domain.ErrAlreadyActive) {
			return err
		}
		return domain.NewStorageError("policy", "set_active", err)
	}
	if err := a.stores.BlockedApps.Replace(ctx, policy.DeviceID, policy.BlockedApps); err != nil {
		if cerr := a.stores.Policies.ClearActive(context.WithoutCancel(ctx), policy.DeviceID); cerr != nil {
			a.logger.ErrorContext(ctx, "failed to release active slot",
				slog.String("device_id", policy.DeviceID),
				slog.String("policy_id", policy.ID),
				slog.String("error", cerr.Error()),
			)
		}
		return domain.NewStorageError("blocked_apps", "replace", err)
	}
	return nil
}
