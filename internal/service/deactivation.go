package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/tracing"
)

// Teardown step names, in execution order.
const (
	StepUnsuspendBrowsers       = "unsuspend_browsers"
	StepUnhideNuclear           = "unhide_nuclear_apps"
	StepUnblockRecorded         = "unblock_recorded_apps"
	StepUnblockUserList         = "unblock_user_block_list"
	StepClearDeviceRestrictions = "clear_device_restrictions"
	StepReleaseDNS              = "release_forced_dns"
	StepReleaseAutoTime         = "release_auto_time"
	StepStopContentFilter       = "stop_content_filter"
	StepRemoveManagedBrowser    = "remove_managed_browser"
	StepUnblockUninstall        = "unblock_uninstall"
	StepClearLocalState         = "clear_local_state"
	StepResetRemoteAccount      = "reset_remote_account"
	StepReleaseAuthority        = "release_authority"
)

type ClearOutcome string

const (
	ClearSuccess        ClearOutcome = "SUCCESS"
	ClearPartialSuccess ClearOutcome = "PARTIAL_SUCCESS"
)

// ClearResult reports a teardown. PartialSuccess still means the device is
// to be treated as unlocked.
type ClearResult struct {
	Outcome       ClearOutcome       `json:"outcome"`
	AuthorityHeld bool               `json:"authority_held"`
	AccountReset  bool               `json:"account_reset"`
	Errors        domain.LayerErrors `json:"-"`
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Deactivator tears the fortress down. It is idempotent and never fails as
// a whole: every step's error is logged and collected.
type Deactivator struct {
	stores Stores
	device Device
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewDeactivator(stores Stores, device Device, events EventPublisher, logger *slog.Logger) *Deactivator {
	return &Deactivator{
		stores: stores,
		device: device,
		events: events,
		logger: logger,
		now:    utcNow,
	}
}

// Clear runs the teardown for this device. accountID selects the remote
// account to reset; when empty the account bound to the device is used.
func (d *Deactivator) Clear(ctx context.Context, accountID string) (res ClearResult) {
	ctx, end := tracing.Start(ctx, tracer, "fortress.clear", attribute.String("fortress.device_id", d.device.ID))
	defer func() { end(res.Errors.OrNil()) }()

	var policyID string
	if p, err := d.stores.Policies.GetActive(ctx, d.device.ID); err == nil && p != nil {
		policyID = p.ID
	}

	held, err := d.device.Authority.IsHeld(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "authority query failed, assuming held", slog.String("error", err.Error()))
		held = true
	}
	res.AuthorityHeld = held

	if !held {
		// Layers cannot be reached without authority; only bookkeeping is reset.
		for _, s := range d.bookkeeping(accountID, &res) {
			if err := d.runStep(ctx, s); err != nil {
				d.logger.WarnContext(ctx, "teardown step failed without authority",
					slog.String("step", s.name),
					slog.String("error", err.Error()),
				)
			}
		}
		res.Outcome = ClearSuccess
		res.Errors = nil
	} else {
		for _, s := range d.steps(accountID, &res) {
			if err := d.runStep(ctx, s); err != nil {
				res.Errors = append(res.Errors, &domain.LayerError{Layer: s.name, Err: err})
				layerFailuresTotal.WithLabelValues("clear", s.name).Inc()
			}
		}
		res.Outcome = ClearSuccess
		if len(res.Errors) > 0 {
			res.Outcome = ClearPartialSuccess
		}
	}

	clearsTotal.WithLabelValues(string(res.Outcome), fmt.Sprint(held)).Inc()
	d.logger.InfoContext(ctx, "fortress cleared",
		slog.String("device_id", d.device.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("authority_held", held),
		slog.Any("failed_steps", res.Errors.Layers()),
	)
	logEventError(ctx, d.logger, event.TopicDeviceCleared, d.events.PublishDeviceCleared(ctx, event.DeviceClearedData{
		DeviceID:        d.device.ID,
		PolicyID:        policyID,
		AuthorityHeld:   held,
		FailedSteps:     res.Errors.Layers(),
		AccountWasReset: res.AccountReset,
	}))
	return res
}

// runStep isolates a step so that a panic is reported like an error.
func (d *Deactivator) runStep(ctx context.Context, s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err = s.run(ctx); err != nil {
		d.logger.ErrorContext(ctx, "teardown step failed",
			slog.String("step", s.name),
			slog.String("device_id", d.device.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	d.logger.InfoContext(ctx, "teardown step completed",
		slog.String("step", s.name),
		slog.String("device_id", d.device.ID),
	)
	return nil
}

// steps is the full teardown. Authority is released strictly last because
// every earlier device step needs it.
func (d *Deactivator) steps(accountID string, res *ClearResult) []step {
	l := d.device.Layers
	p := d.device.params(nil, nil)

	withPackages := func(list func(ctx context.Context) ([]string, error)) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			pkgs, err := list(ctx)
			if err != nil {
				return err
			}
			if len(pkgs) == 0 {
				return nil
			}
			return d.unblock(ctx, pkgs)
		}
	}

	steps := []step{
		{StepUnsuspendBrowsers, func(ctx context.Context) error {
			return l.SuspendApps.Remove(ctx, d.device.params(nil, domain.BrowserApps()))
		}},
		{StepUnhideNuclear, func(ctx context.Context) error {
			return l.HideApps.Remove(ctx, d.device.params(domain.NuclearApps(), nil))
		}},
		{StepUnblockRecorded, withPackages(func(ctx context.Context) ([]string, error) {
			return d.stores.BlockedApps.List(ctx, d.device.ID)
		})},
		{StepUnblockUserList, withPackages(func(ctx context.Context) ([]string, error) {
			return d.stores.UserBlocks.List(ctx, d.device.ID)
		})},
		{StepClearDeviceRestrictions, func(ctx context.Context) error { return l.DeviceRestrictions.Remove(ctx, p) }},
		{StepReleaseDNS, func(ctx context.Context) error { return l.DNS.Remove(ctx, p) }},
		{StepReleaseAutoTime, func(ctx context.Context) error { return l.AutoTime.Remove(ctx, p) }},
		{StepStopContentFilter, func(ctx context.Context) error { return l.FilterService.Remove(ctx, p) }},
		{StepRemoveManagedBrowser, func(ctx context.Context) error { return l.ManagedBrowser.Remove(ctx, p) }},
		{StepUnblockUninstall, func(ctx context.Context) error { return l.UninstallBlock.Remove(ctx, p) }},
	}
	steps = append(steps, d.bookkeeping(accountID, res)...)
	return append(steps, step{StepReleaseAuthority, d.device.Authority.Release})
}

// bookkeeping is the local and remote reset shared by both branches.
func (d *Deactivator) bookkeeping(accountID string, res *ClearResult) []step {
	return []step{
		{StepClearLocalState, d.clearLocal},
		{StepResetRemoteAccount, func(ctx context.Context) error {
			reset, err := d.resetAccount(ctx, accountID)
			res.AccountReset = reset
			return err
		}},
	}
}

// unblock lifts both hide and suspend for pkgs; an app is in only one of
// the two states, and removing the other is a no-op.
func (d *Deactivator) unblock(ctx context.Context, pkgs []string) error {
	p := d.device.params(pkgs, pkgs)
	return errors.Join(
		d.device.Layers.HideApps.Remove(ctx, p),
		d.device.Layers.SuspendApps.Remove(ctx, p),
	)
}

func (d *Deactivator) clearLocal(ctx context.Context) error {
	var errs []error
	if err := d.retireActive(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.stores.BlockedApps.DeleteAll(ctx, d.device.ID); err != nil {
		errs = append(errs, domain.NewStorageError("blocked_apps", "delete_all", err))
	}
	if err := d.stores.Policies.ClearActive(ctx, d.device.ID); err != nil {
		errs = append(errs, domain.NewStorageError("policy", "clear_active", err))
	}
	if err := d.stores.Scratch.ClearPending(ctx, d.device.ID); err != nil {
		errs = append(errs, domain.NewStorageError("scratch", "clear_pending", err))
	}
	return errors.Join(errs...)
}

// retireActive moves an eligible ACTIVE policy to UNLOCKABLE before its slot
// is emptied, so history records how it ended.
func (d *Deactivator) retireActive(ctx context.Context) error {
	p, err := d.stores.Policies.GetActive(ctx, d.device.ID)
	if err != nil {
		return domain.NewStorageError("policy", "get_active", err)
	}
	if p == nil || p.State != domain.StateActive || !p.IsUnlockEligible(d.now()) {
		return nil
	}
	if err := p.MarkUnlockable(d.now()); err != nil {
		return err
	}
	if err := d.stores.Policies.Update(ctx, p); err != nil {
		return domain.NewStorageError("policy", "update", err)
	}
	logEventError(ctx, d.logger, event.TopicPolicyUnlockable, d.events.PublishPolicyUnlockable(ctx, p))
	return nil
}

// resetAccount returns the account to PENDING with no commitment, keeping
// email, device binding and createdAt. An account already in that shape is
// left untouched.
func (d *Deactivator) resetAccount(ctx context.Context, accountID string) (bool, error) {
	var (
		account *domain.Account
		err     error
	)
	if accountID != "" {
		account, err = d.stores.Accounts.Get(ctx, accountID)
	} else {
		account, err = d.stores.Accounts.GetByDeviceID(ctx, d.device.ID)
	}
	if err != nil {
		return false, domain.NewStorageError("account", "get", err)
	}
	if account == nil || !account.ResetCommitment(d.now()) {
		return false, nil
	}
	if err := d.stores.Accounts.Set(ctx, account); err != nil {
		return false, domain.NewStorageError("account", "set", err)
	}
	logEventError(ctx, d.logger, event.TopicAccountUpdated, d.events.PublishAccountUpdated(ctx, account))
	return true, nil
}
