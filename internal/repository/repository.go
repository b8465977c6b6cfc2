package repository

import (
	"context"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
)

// PolicyStore keeps one current policy per device plus its history.
// Absence is reported as (nil, nil).
type PolicyStore interface {
	// GetActive returns the policy held in the device's current slot.
	GetActive(ctx context.Context, deviceID string) (*domain.Policy, error)

	// SetActive persists p and points the device's slot at it. It fails with
	// domain.ErrAlreadyActive when the slot is taken.
	SetActive(ctx context.Context, p *domain.Policy) error

	// ClearActive empties the slot. History is kept. Idempotent.
	ClearActive(ctx context.Context, deviceID string) error

	// Update rewrites the mutable fields (state and layer flags) of p.
	Update(ctx context.Context, p *domain.Policy) error

	// ListHistorical returns the device's policies other than an occupying
	// current one, newest first.
	ListHistorical(ctx context.Context, deviceID string) ([]*domain.Policy, error)
}

// AccountStore is keyed, last-write-wins storage of accounts.
type AccountStore interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
	Set(ctx context.Context, a *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByDeviceID(ctx context.Context, deviceID string) (*domain.Account, error)
}

// BlockedAppStore is the local record of packages blocked at activation.
type BlockedAppStore interface {
	List(ctx context.Context, deviceID string) ([]string, error)
	Replace(ctx context.Context, deviceID string, pkgs []string) error
	DeleteAll(ctx context.Context, deviceID string) error
}

// UserBlockListStore is the secondary list of packages the user added.
type UserBlockListStore interface {
	List(ctx context.Context, deviceID string) ([]string, error)
	Add(ctx context.Context, deviceID, pkg string) error
	Remove(ctx context.Context, deviceID, pkg string) error
}

// ScratchStore holds the in-flight ACTIVATING policy while layers apply.
type ScratchStore interface {
	SavePending(ctx context.Context, p *domain.Policy) error
	Pending(ctx context.Context, deviceID string) (*domain.Policy, error)
	ClearPending(ctx context.Context, deviceID string) error
}
