package domain

import (
	"fmt"
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "PENDING"
	StatusTrial     SubscriptionStatus = "TRIAL"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusExpired   SubscriptionStatus = "EXPIRED"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusTrial, StatusActive, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Account is the remote identity record bound to one device.
type Account struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	DeviceID           string             `json:"device_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	HasDeviceOwner     bool               `json:"has_device_owner"`
	SelectedPlan       string             `json:"selected_plan"`
	CommitmentDays     int                `json:"commitment_days"`
	CommitmentStart    *time.Time         `json:"commitment_start_date,omitempty"`
	CommitmentEnd      *time.Time         `json:"commitment_end_date,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewAccount registers a PENDING account.
func NewAccount(id, email, deviceID string, now time.Time) *Account {
	now = now.UTC()
	return &Account{
		ID:                 id,
		Email:              strings.ToLower(strings.TrimSpace(email)),
		DeviceID:           deviceID,
		SubscriptionStatus: StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate enforces the commitment date invariant.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAccount)
	}
	if !a.SubscriptionStatus.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidAccount, a.SubscriptionStatus)
	}
	if a.CommitmentEnd != nil {
		if a.CommitmentStart == nil {
			return fmt.Errorf("%w: commitment end without start", ErrInvalidAccount)
		}
		if !a.CommitmentEnd.After(*a.CommitmentStart) {
			return fmt.Errorf("%w: commitment end not after start", ErrInvalidAccount)
		}
	}
	return nil
}

// CommitmentEnded reports whether a scheduled commitment has run out.
func (a *Account) CommitmentEnded(now time.Time) bool {
	return a.CommitmentEnd != nil && !now.Before(*a.CommitmentEnd)
}

// StartCommitment records a plan selection beginning at now.
func (a *Account) StartCommitment(plan Plan, now time.Time) {
	start := now.UTC().Truncate(time.Millisecond)
	end := start.Add(plan.Duration)
	a.SelectedPlan = string(plan.Name)
	a.CommitmentDays = plan.Days()
	a.CommitmentStart = &start
	a.CommitmentEnd = &end
	if plan.Free {
		a.SubscriptionStatus = StatusTrial
	} else {
		a.SubscriptionStatus = StatusActive
	}
	a.UpdatedAt = now.UTC()
}

// AlignToPolicy stamps the commitment window from the policy's activation
// and expiry. It reports whether anything changed.
func (a *Account) AlignToPolicy(p *Policy, now time.Time) bool {
	start, end := p.ActivatedAt.UTC(), p.ExpiresAt.UTC()
	if a.SelectedPlan == string(p.Plan.Name) &&
		a.CommitmentStart != nil && a.CommitmentStart.Equal(start) &&
		a.CommitmentEnd != nil && a.CommitmentEnd.Equal(end) {
		return false
	}
	a.SelectedPlan = string(p.Plan.Name)
	a.CommitmentDays = p.Plan.Days()
	a.CommitmentStart = &start
	a.CommitmentEnd = &end
	if p.Plan.Free {
		a.SubscriptionStatus = StatusTrial
	} else {
		a.SubscriptionStatus = StatusActive
	}
	a.UpdatedAt = now.UTC()
	return true
}

// IsReset reports whether the account already has the post-teardown shape.
func (a *Account) IsReset() bool {
	return !a.HasDeviceOwner &&
		a.SubscriptionStatus == StatusPending &&
		a.SelectedPlan == "" &&
		a.CommitmentDays == 0 &&
		a.CommitmentStart == nil &&
		a.CommitmentEnd == nil
}

// ResetCommitment returns the account to PENDING with no commitment and no
// device authority, keeping identity fields. It reports whether anything
// changed; updatedAt only moves when it did.
func (a *Account) ResetCommitment(now time.Time) bool {
	if a.IsReset() {
		return false
	}
	a.HasDeviceOwner = false
	a.SubscriptionStatus = StatusPending
	a.SelectedPlan = ""
	a.CommitmentDays = 0
	a.CommitmentStart = nil
	a.CommitmentEnd = nil
	a.UpdatedAt = now.UTC()
	return true
}

func (a *Account) Clone() *Account {
	c := *a
	if a.CommitmentStart != nil {
		t := *a.CommitmentStart
		c.CommitmentStart = &t
	}
	if a.CommitmentEnd != nil {
		t := *a.CommitmentEnd
		c.CommitmentEnd = &t
	}
	return &c
}
