package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
)

// activated brings the fixture to a locked device with an account.
func activated(t *testing.T, f *fixture) (*domain.Policy, *domain.Account) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.userBlocks.Add(ctx, testDevice, "com.example.game"))
	account := f.lockedAccount(t, domain.PlanMonthly, t0)

	res, err := f.activator(ActivatorOptions{Harden: true}, t0).
		Activate(ctx, domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	require.Equal(t, ActivationSuccess, res.Outcome)
	return res.Policy, account
}

func TestClear_FullTeardownOrder(t *testing.T) {
	f := newFixture(t)
	activated(t, f)
	mark := len(f.log.all())

	res := f.deactivator(t0.Add(31*24*time.Hour)).Clear(context.Background(), "acc-1")
	require.Equal(t, ClearSuccess, res.Outcome)
	assert.True(t, res.AuthorityHeld)
	assert.True(t, res.AccountReset)
	assert.Empty(t, res.Errors)

	calls := f.log.all()[mark:]
	assert.Equal(t, []string{
		"remove:" + restriction.SuspendApps,
		"remove:" + restriction.HideApps,
		"remove:" + restriction.HideApps,
		"remove:" + restriction.SuspendApps,
		"remove:" + restriction.HideApps,
		"remove:" + restriction.SuspendApps,
		"remove:" + restriction.DeviceRestrictions,
		"remove:" + restriction.FilterDNS,
		"remove:" + restriction.AutoTime,
		"remove:" + restriction.FilterService,
		"remove:" + restriction.FilterBrowser,
		"remove:" + restriction.UninstallBlock,
		"release_authority",
	}, calls)
	assert.Equal(t, "release_authority", calls[len(calls)-1])
}

func TestClear_ResetsLocalAndRemoteState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy, before := activated(t, f)
	now := t0.Add(31 * 24 * time.Hour)

	f.deactivator(now).Clear(ctx, "acc-1")

	p, _ := f.policies.GetActive(ctx, testDevice)
	assert.Nil(t, p)
	recorded, _ := f.blocked.List(ctx, testDevice)
	assert.Empty(t, recorded)
	userList, _ := f.userBlocks.List(ctx, testDevice)
	assert.Equal(t, []string{"com.example.game"}, userList)

	history, _ := f.policies.ListHistorical(ctx, testDevice)
	require.Len(t, history, 1)
	assert.Equal(t, policy.ID, history[0].ID)
	assert.Equal(t, domain.StateUnlockable, history[0].State)
	assert.Contains(t, f.events.topics, event.TopicPolicyUnlockable)

	a, _ := f.accounts.Get(ctx, "acc-1")
	require.NotNil(t, a)
	assert.True(t, a.IsReset())
	assert.False(t, a.HasDeviceOwner)
	assert.Equal(t, domain.StatusPending, a.SubscriptionStatus)
	assert.Equal(t, "", a.SelectedPlan)
	assert.Zero(t, a.CommitmentDays)
	assert.Nil(t, a.CommitmentStart)
	assert.Nil(t, a.CommitmentEnd)
	assert.Equal(t, before.Email, a.Email)
	assert.Equal(t, before.DeviceID, a.DeviceID)
	assert.Equal(t, before.CreatedAt, a.CreatedAt)
	assert.Equal(t, now, a.UpdatedAt)

	require.NotNil(t, f.events.clear)
	assert.Equal(t, policy.ID, f.events.clear.PolicyID)
	assert.True(t, f.events.clear.AccountWasReset)
}

func TestClear_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activated(t, f)

	first := f.deactivator(t0.Add(31*24*time.Hour)).Clear(ctx, "acc-1")
	afterFirst, _ := f.accounts.Get(ctx, "acc-1")

	// Authority was released by the first run, so the second run takes the
	// bookkeeping-only branch.
	second := f.deactivator(t0.Add(32*24*time.Hour)).Clear(ctx, "acc-1")
	afterSecond, _ := f.accounts.Get(ctx, "acc-1")

	assert.Equal(t, ClearSuccess, first.Outcome)
	assert.Equal(t, ClearSuccess, second.Outcome)
	assert.True(t, first.AccountReset)
	assert.False(t, second.AccountReset)
	assert.Equal(t, afterFirst.UpdatedAt, afterSecond.UpdatedAt)
}

func TestClear_IdempotentWithAuthorityHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lockedAccount(t, domain.PlanMonthly, t0)
	f.authority.releaseErr = errors.New("still device owner")

	first := f.deactivator(t0.Add(40*24*time.Hour)).Clear(ctx, "")
	second := f.deactivator(t0.Add(41*24*time.Hour)).Clear(ctx, "")

	assert.Equal(t, ClearPartialSuccess, first.Outcome)
	assert.Equal(t, []string{StepReleaseAuthority}, first.Errors.Layers())
	assert.True(t, first.AccountReset)
	assert.Equal(t, ClearPartialSuccess, second.Outcome)
	assert.False(t, second.AccountReset)
}

func TestClear_AuthorityLost_OnlyBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activated(t, f)
	mark := len(f.log.all())
	f.authority.held = false

	res := f.deactivator(t0.Add(31*24*time.Hour)).Clear(ctx, "acc-1")
	assert.Equal(t, ClearSuccess, res.Outcome)
	assert.False(t, res.AuthorityHeld)
	assert.True(t, res.AccountReset)
	assert.Empty(t, f.log.all()[mark:], "no layer and no release may be attempted")

	p, _ := f.policies.GetActive(ctx, testDevice)
	assert.Nil(t, p)
	a, _ := f.accounts.Get(ctx, "acc-1")
	assert.True(t, a.IsReset())
}

func TestClear_AuthorityLost_RemoteResetFailureStillSuccess(t *testing.T) {
	f := newFixture(t)
	f.authority.held = false
	f.stores.Accounts = failingAccounts{}

	res := f.deactivator(t0).Clear(context.Background(), "acc-1")
	assert.Equal(t, ClearSuccess, res.Outcome)
	assert.Empty(t, res.Errors)
}

func TestClear_BestEffortContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	activated(t, f)
	mark := len(f.log.all())
	f.driver.fail["remove:"+restriction.FilterDNS] = errors.New("resolver locked")
	f.driver.panics["remove:"+restriction.AutoTime] = true
	f.stores.Accounts = failingAccounts{}

	res := f.deactivator(t0.Add(31*24*time.Hour)).Clear(context.Background(), "acc-1")
	assert.Equal(t, ClearPartialSuccess, res.Outcome)
	assert.Equal(t, []string{StepReleaseDNS, StepReleaseAutoTime, StepResetRemoteAccount}, res.Errors.Layers())

	calls := f.log.all()[mark:]
	assert.Contains(t, calls, "remove:"+restriction.UninstallBlock)
	assert.Equal(t, "release_authority", calls[len(calls)-1])

	p, _ := f.policies.GetActive(context.Background(), testDevice)
	assert.Nil(t, p, "local state is cleared even when device steps fail")
}

func TestClear_AuthorityQueryErrorTreatedAsHeld(t *testing.T) {
	f := newFixture(t)
	f.authority.err = errors.New("agent timeout")

	res := f.deactivator(t0).Clear(context.Background(), "")
	assert.True(t, res.AuthorityHeld)
	assert.Equal(t, ClearSuccess, res.Outcome)
	assert.Contains(t, f.log.all(), "release_authority")
}

func TestClear_NoPolicyNoAccount(t *testing.T) {
	f := newFixture(t)

	res := f.deactivator(t0).Clear(context.Background(), "")
	assert.Equal(t, ClearSuccess, res.Outcome)
	assert.False(t, res.AccountReset)

	// With empty local lists the catalog steps are the only hide/suspend calls.
	assert.Equal(t, domain.BrowserApps(), f.driver.cmds["remove:"+restriction.SuspendApps].Packages)
	assert.Equal(t, domain.NuclearApps(), f.driver.cmds["remove:"+restriction.HideApps].Packages)
}

type failingAccounts struct{}

func (failingAccounts) Get(context.Context, string) (*domain.Account, error) {
	return nil, errors.New("account store unavailable")
}
func (failingAccounts) Set(context.Context, *domain.Account) error {
	return errors.New("account store unavailable")
}
func (failingAccounts) GetByEmail(context.Context, string) (*domain.Account, error) {
	return nil, errors.New("account store unavailable")
}
func (failingAccounts) GetByDeviceID(context.Context, string) (*domain.Account, error) {
	return nil, errors.New("account store unavailable")
}
