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
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository/memory"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
)

var fullSequence = []string{
	restriction.UninstallBlock,
	restriction.HideApps,
	restriction.SuspendApps,
	restriction.AutoTime,
	restriction.FilterDNS,
	restriction.FilterBrowser,
	restriction.FilterSuspension,
	restriction.DeviceRestrictions,
}

func TestActivate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.userBlocks.Add(ctx, testDevice, "com.example.game"))

	plan := domain.MustPlan(domain.PlanMonthly)
	res, err := f.activator(ActivatorOptions{Rollback: true, Harden: true}, t0).
		Activate(ctx, plan, domain.MethodDeviceOwner)
	require.NoError(t, err)
	require.Equal(t, ActivationSuccess, res.Outcome)
	require.NotNil(t, res.Policy)
	assert.NoError(t, res.Err())

	assert.Equal(t, fullSequence, appliedLayers(f.log.all()))

	p := res.Policy
	assert.Equal(t, domain.StateActive, p.State)
	assert.Equal(t, p.ActivationMillis()+plan.DurationMillis(), p.ExpiryMillis())
	assert.True(t, p.DNSForced)
	assert.True(t, p.TimeProtectionActive)
	assert.True(t, p.SafeModeDisabled)
	assert.True(t, p.FactoryResetBlocked)
	assert.Contains(t, p.BlockedApps, "com.example.game")

	stored, err := f.policies.GetActive(ctx, testDevice)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, p.ID, stored.ID)

	recorded, _ := f.blocked.List(ctx, testDevice)
	assert.Equal(t, p.BlockedApps, recorded)

	pending, _ := f.scratch.Pending(ctx, testDevice)
	assert.Nil(t, pending)
	assert.Equal(t, []string{event.TopicPolicyActivated}, f.events.topics)
}

func TestActivate_HiddenAndSuspendedAreDisjoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.userBlocks.Add(ctx, testDevice, "com.example.game"))

	_, err := f.activator(ActivatorOptions{}, t0).Activate(ctx, domain.MustPlan(domain.PlanTrial), domain.MethodDeviceOwner)
	require.NoError(t, err)

	hidden := f.driver.cmds["apply:"+restriction.HideApps].Packages
	suspended := f.driver.cmds["apply:"+restriction.SuspendApps].Packages
	require.NotEmpty(t, hidden)
	require.NotEmpty(t, suspended)
	for _, h := range hidden {
		assert.NotContains(t, suspended, h)
	}
	assert.Contains(t, suspended, "com.example.game")
	assert.Contains(t, suspended, "com.android.chrome")
	assert.Contains(t, hidden, "com.instagram.android")
	assert.NotContains(t, suspended, domain.ManagedBrowser)
	assert.Equal(t, []string{domain.SelfPackage}, f.driver.cmds["apply:"+restriction.UninstallBlock].Packages)
	assert.Equal(t, "family.dns.example", f.driver.cmds["apply:"+restriction.FilterDNS].DNSHost)
}

func TestActivate_WithoutHardening(t *testing.T) {
	f := newFixture(t)

	res, err := f.activator(ActivatorOptions{}, t0).
		Activate(context.Background(), domain.MustPlan(domain.PlanAnnual), domain.MethodProvisioning)
	require.NoError(t, err)
	require.Equal(t, ActivationSuccess, res.Outcome)

	assert.Equal(t, fullSequence[:7], appliedLayers(f.log.all()))
	assert.False(t, res.Policy.SafeModeDisabled)
	assert.False(t, res.Policy.FactoryResetBlocked)
	assert.Equal(t, domain.MethodProvisioning, res.Policy.ActivationMethod)
}

func TestActivate_DeviceOwnerNotActive(t *testing.T) {
	f := newFixture(t)
	f.authority.held = false

	res, err := f.activator(ActivatorOptions{Rollback: true}, t0).
		Activate(context.Background(), domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationDeviceOwnerMissing, res.Outcome)
	assert.ErrorIs(t, res.Err(), domain.ErrAuthorityMissing)
	assert.Empty(t, f.log.all())

	p, _ := f.policies.GetActive(context.Background(), testDevice)
	assert.Nil(t, p)
}

func TestActivate_AuthorityQueryError(t *testing.T) {
	f := newFixture(t)
	f.authority.err = errors.New("agent unreachable")

	_, err := f.activator(ActivatorOptions{}, t0).
		Activate(context.Background(), domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Empty(t, f.log.all())
}

func TestActivate_AlreadyActive_AttemptsNoLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := domain.NewPolicy(testDevice, domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner, nil, t0)
	existing.State = domain.StateActive
	require.NoError(t, f.policies.SetActive(ctx, existing))

	// A failing layer must not matter: none may be attempted.
	f.driver.fail["apply:"+restriction.UninstallBlock] = errors.New("boom")

	res, err := f.activator(ActivatorOptions{Rollback: true}, t0.Add(time.Hour)).
		Activate(ctx, domain.MustPlan(domain.PlanAnnual), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationAlreadyActive, res.Outcome)
	assert.ErrorIs(t, res.Err(), domain.ErrAlreadyActive)
	assert.Empty(t, f.log.all())

	current, _ := f.policies.GetActive(ctx, testDevice)
	assert.Equal(t, existing.ID, current.ID)
}

func TestActivate_LayerFailure_NothingPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.driver.fail["apply:"+restriction.AutoTime] = errors.New("auto time policy rejected")

	res, err := f.activator(ActivatorOptions{Rollback: false}, t0).
		Activate(ctx, domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationRestrictionsFailed, res.Outcome)
	assert.Equal(t, []string{restriction.AutoTime}, res.Errors.Layers())
	assert.Nil(t, res.Policy)

	// Fail-fast: nothing after auto_time was attempted, nothing removed.
	assert.Equal(t, fullSequence[:4], appliedLayers(f.log.all()))
	assert.Empty(t, removedLayers(f.log.all()))

	p, _ := f.policies.GetActive(ctx, testDevice)
	assert.Nil(t, p)
	recorded, _ := f.blocked.List(ctx, testDevice)
	assert.Empty(t, recorded)
	pending, _ := f.scratch.Pending(ctx, testDevice)
	assert.Nil(t, pending)

	assert.Equal(t, []string{event.TopicPolicyActivationFailed}, f.events.topics)
	assert.Equal(t, []string{restriction.AutoTime}, f.events.failed.Layers())
}

func TestActivate_LayerFailure_RollsBackInReverse(t *testing.T) {
	f := newFixture(t)
	f.driver.fail["apply:"+restriction.SuspendApps] = errors.New("suspend denied")
	f.driver.fail["remove:"+restriction.HideApps] = errors.New("unhide denied")

	res, err := f.activator(ActivatorOptions{Rollback: true}, t0).
		Activate(context.Background(), domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationRestrictionsFailed, res.Outcome)

	// Rollback failures are logged only; they never join the result errors.
	assert.Equal(t, []string{restriction.SuspendApps}, res.Errors.Layers())
	assert.Equal(t,
		[]string{restriction.SuspendApps, restriction.HideApps, restriction.UninstallBlock},
		removedLayers(f.log.all()))
	assert.Equal(t, []string{restriction.SuspendApps, restriction.UninstallBlock}, res.RolledBack)
}

func TestActivate_ContentFilterSubLayersReportedIndependently(t *testing.T) {
	f := newFixture(t)
	f.driver.fail["apply:"+restriction.FilterDNS] = errors.New("private dns refused")
	f.driver.fail["apply:"+restriction.FilterSuspension] = errors.New("browser missing")

	res, err := f.activator(ActivatorOptions{Harden: true}, t0).
		Activate(context.Background(), domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationRestrictionsFailed, res.Outcome)
	assert.Equal(t, []string{restriction.FilterDNS, restriction.FilterSuspension}, res.Errors.Layers())

	// All three sub-layers ran; the hardening layer did not.
	assert.Equal(t, fullSequence[:7], appliedLayers(f.log.all()))
}

func TestActivate_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.stores.Policies = failingPolicies{}

	_, err := NewActivator(f.stores, f.device, f.events, ActivatorOptions{}, f.logger).
		Activate(context.Background(), domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.Error(t, err)
	assert.True(t, domain.IsStorageFailure(err))
	assert.Empty(t, f.log.all())
}

func TestActivate_RequiresPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.activator(ActivatorOptions{}, t0).Activate(context.Background(), domain.Plan{}, domain.MethodDeviceOwner)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestActivate_ExpiryInvariantForAllPlans(t *testing.T) {
	for _, plan := range domain.Plans() {
		t.Run(string(plan.Name), func(t *testing.T) {
			f := newFixture(t)
			res, err := f.activator(ActivatorOptions{}, t0.Add(123*time.Millisecond)).
				Activate(context.Background(), plan, domain.MethodDeviceOwner)
			require.NoError(t, err)
			require.Equal(t, ActivationSuccess, res.Outcome)
			assert.Equal(t, res.Policy.ActivationMillis()+plan.DurationMillis(), res.Policy.ExpiryMillis())
		})
	}
}

func TestActivate_LostSlotLeavesWinnerIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	winner := []string{"com.example.winner"}
	require.NoError(t, f.blocked.Replace(ctx, testDevice, winner))
	f.stores.Policies = racingPolicies{f.policies}

	res, err := f.activator(ActivatorOptions{Rollback: true, Harden: true}, t0).
		Activate(ctx, domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, ActivationAlreadyActive, res.Outcome)
	assert.Nil(t, res.Policy)

	assert.Equal(t, fullSequence, appliedLayers(f.log.all()))
	assert.Empty(t, removedLayers(f.log.all()))
	recorded, _ := f.blocked.List(ctx, testDevice)
	assert.Equal(t, winner, recorded)
	assert.NotContains(t, f.events.topics, event.TopicPolicyActivated)
}

func TestActivate_SnapshotFailureReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stores.BlockedApps = failingBlocked{f.blocked}

	_, err := f.activator(ActivatorOptions{Rollback: true}, t0).
		Activate(ctx, domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner)
	require.Error(t, err)
	assert.True(t, domain.IsStorageFailure(err))

	p, _ := f.policies.GetActive(ctx, testDevice)
	assert.Nil(t, p)
	assert.Equal(t, []string{
		restriction.FilterDNS, restriction.FilterBrowser, restriction.FilterSuspension,
		restriction.AutoTime, restriction.SuspendApps, restriction.HideApps, restriction.UninstallBlock,
	}, removedLayers(f.log.all()))
}

// racingPolicies sees a free slot but loses it on SetActive.
type racingPolicies struct {
	*memory.PolicyStore
}

func (racingPolicies) GetActive(context.Context, string) (*domain.Policy, error) { return nil, nil }

func (racingPolicies) SetActive(context.Context, *domain.Policy) error {
	return domain.ErrAlreadyActive
}

type failingBlocked struct {
	*memory.PackageList
}

func (failingBlocked) Replace(context.Context, string, []string) error {
	return errors.New("disk I/O error")
}

type failingPolicies struct{}

func (failingPolicies) GetActive(context.Context, string) (*domain.Policy, error) {
	return nil, errors.New("disk I/O error")
}
func (failingPolicies) SetActive(context.Context, *domain.Policy) error {
	return errors.New("disk I/O error")
}
func (failingPolicies) ClearActive(context.Context, string) error {
	return errors.New("disk I/O error")
}
func (failingPolicies) Update(context.Context, *domain.Policy) error {
	return errors.New("disk I/O error")
}
func (failingPolicies) ListHistorical(context.Context, string) ([]*domain.Policy, error) {
	return nil, errors.New("disk I/O error")
}
