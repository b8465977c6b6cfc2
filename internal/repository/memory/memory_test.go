package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository"
)

var (
	_ repository.PolicyStore        = (*PolicyStore)(nil)
	_ repository.AccountStore       = (*AccountStore)(nil)
	_ repository.BlockedAppStore    = (*PackageList)(nil)
	_ repository.UserBlockListStore = (*PackageList)(nil)
	_ repository.ScratchStore       = (*ScratchStore)(nil)
)

func TestPolicyStore_ActiveSlot(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := s.GetActive(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	p := domain.NewPolicy("dev-1", domain.MustPlan(domain.PlanMonthly), domain.MethodDeviceOwner, nil, now)
	p.State = domain.StateActive
	require.NoError(t, s.SetActive(ctx, p))
	assert.ErrorIs(t, s.SetActive(ctx, p), domain.ErrAlreadyActive)

	got, _ = s.GetActive(ctx, "dev-1")
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)

	hist, _ := s.ListHistorical(ctx, "dev-1")
	assert.Empty(t, hist)

	got.State = domain.StateUnlockable
	require.NoError(t, s.Update(ctx, got))
	hist, _ = s.ListHistorical(ctx, "dev-1")
	assert.Len(t, hist, 1)

	require.NoError(t, s.ClearActive(ctx, "dev-1"))
	require.NoError(t, s.ClearActive(ctx, "dev-1"))
	got, _ = s.GetActive(ctx, "dev-1")
	assert.Nil(t, got)
	hist, _ = s.ListHistorical(ctx, "dev-1")
	assert.Len(t, hist, 1, "history survives clear")
}

func TestAccountStore_LookupsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	a := domain.NewAccount("acct-1", "A@B.co", "dev-1", time.Now())
	require.NoError(t, s.Set(ctx, a))

	byEmail, _ := s.GetByEmail(ctx, "a@b.co")
	require.NotNil(t, byEmail)
	byDevice, _ := s.GetByDeviceID(ctx, "dev-1")
	require.NotNil(t, byDevice)

	byEmail.HasDeviceOwner = true
	fresh, _ := s.Get(ctx, "acct-1")
	assert.False(t, fresh.HasDeviceOwner)

	missing, err := s.Get(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPackageList(t *testing.T) {
	ctx := context.Background()
	l := NewPackageList()
	require.NoError(t, l.Add(ctx, "d", "b.b"))
	require.NoError(t, l.Add(ctx, "d", "a.a"))
	require.NoError(t, l.Add(ctx, "d", "a.a"))
	got, _ := l.List(ctx, "d")
	assert.Equal(t, []string{"a.a", "b.b"}, got)

	require.NoError(t, l.Remove(ctx, "d", "a.a"))
	require.NoError(t, l.Replace(ctx, "d", []string{"z.z", "c.c", "z.z"}))
	got, _ = l.List(ctx, "d")
	assert.Equal(t, []string{"c.c", "z.z"}, got)

	require.NoError(t, l.DeleteAll(ctx, "d"))
	got, _ = l.List(ctx, "d")
	assert.Empty(t, got)
}
