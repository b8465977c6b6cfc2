package domain

import (
	"time"

	"github.com/google/uuid"
)

// FortressState is the lifecycle state of a CommitmentPolicy.
type FortressState string

const (
	StateActivating FortressState = "ACTIVATING"
	StateActive     FortressState = "ACTIVE"
	StateUnlockable FortressState = "UNLOCKABLE"
)

// Occupying reports whether a policy in this state holds the device's
// active slot.
func (s FortressState) Occupying() bool {
	return s == StateActivating || s == StateActive
}

// ActivationMethod records how restriction authority was obtained.
type ActivationMethod string

const (
	MethodDeviceOwner   ActivationMethod = "DEVICE_OWNER"
	MethodDeviceAdmin   ActivationMethod = "DEVICE_ADMIN"
	MethodProvisioning  ActivationMethod = "PROVISIONING"
	MethodManualPairing ActivationMethod = "MANUAL_PAIRING"
)

// Policy is the single source of truth for a device's lock state.
type Policy struct {
	ID                   string           `json:"id"`
	DeviceID             string           `json:"device_id"`
	Plan                 Plan             `json:"plan"`
	ActivatedAt          time.Time        `json:"activated_at"`
	ExpiresAt            time.Time        `json:"expires_at"`
	ActivationMethod     ActivationMethod `json:"activation_method"`
	BlockedApps          []string         `json:"blocked_apps"`
	DNSForced            bool             `json:"dns_forced"`
	SafeModeDisabled     bool             `json:"safe_mode_disabled"`
	FactoryResetBlocked  bool             `json:"factory_reset_blocked"`
	TimeProtectionActive bool             `json:"time_protection_active"`
	State                FortressState    `json:"state"`
}

// NewPolicy builds an ACTIVATING policy whose expiry is exactly
// activation + plan duration.
func NewPolicy(deviceID string, plan Plan, method ActivationMethod, blocked []string, now time.Time) *Policy {
	at := now.UTC().Truncate(time.Millisecond)
	return &Policy{
		ID:               uuid.NewString(),
		DeviceID:         deviceID,
		Plan:             plan,
		ActivatedAt:      at,
		ExpiresAt:        at.Add(plan.Duration),
		ActivationMethod: method,
		BlockedApps:      append([]string(nil), blocked...),
		State:            StateActivating,
	}
}

func (p *Policy) ActivationMillis() int64 { return p.ActivatedAt.UnixMilli() }
func (p *Policy) ExpiryMillis() int64     { return p.ExpiresAt.UnixMilli() }

// Remaining is a non-negative countdown split into calendar-free units.
type Remaining struct {
	Total   time.Duration `json:"-"`
	Days    int64         `json:"days"`
	Hours   int64         `json:"hours"`
	Minutes int64         `json:"minutes"`
	Seconds int64         `json:"seconds"`
}

func splitDuration(d time.Duration) Remaining {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return Remaining{
		Total:   d,
		Days:    secs / 86400,
		Hours:   secs % 86400 / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	}
}

// RemainingTime is max(0, expiry - now).
func (p *Policy) RemainingTime(now time.Time) Remaining {
	return splitDuration(p.ExpiresAt.Sub(now))
}

// ProgressPercentage is the elapsed share of the commitment, clamped to
// [0, 100].
func (p *Policy) ProgressPercentage(now time.Time) float64 {
	total := p.ExpiresAt.Sub(p.ActivatedAt)
	if total <= 0 {
		return 100
	}
	pct := float64(now.Sub(p.ActivatedAt)) / float64(total) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// IsUnlockEligible is true from the expiry instant on.
func (p *Policy) IsUnlockEligible(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// MarkUnlockable moves ACTIVE to UNLOCKABLE once eligible. It changes no
// restriction and is a no-op on a policy that is already UNLOCKABLE.
func (p *Policy) MarkUnlockable(now time.Time) error {
	switch {
	case p.State == StateUnlockable:
		return nil
	case p.State != StateActive:
		return ErrNoActivePolicy
	case !p.IsUnlockEligible(now):
		return ErrNotEligible
	}
	p.State = StateUnlockable
	return nil
}

func (p *Policy) Clone() *Policy {
	c := *p
	c.BlockedApps = append([]string(nil), p.BlockedApps...)
	return &c
}
