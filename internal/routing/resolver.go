// Package routing decides which screen a device should land on.
package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository"
)

var placeholderDeviceIDs = map[string]struct{}{
	"":                                     {},
	"unknown":                              {},
	"pending":                              {},
	"unassigned":                           {},
	"00000000-0000-0000-0000-000000000000": {},
}

// IsPlaceholderDeviceID reports whether id is an unset or sentinel binding.
func IsPlaceholderDeviceID(id string) bool {
	_, ok := placeholderDeviceIDs[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// Resolve is the routing decision table. First match wins. It never writes.
func Resolve(identity string, account *domain.Account, localDeviceID string, now time.Time) domain.Verdict {
	if identity == "" || account == nil {
		return domain.To(domain.DestWelcome)
	}

	if !IsPlaceholderDeviceID(account.DeviceID) && account.DeviceID != localDeviceID {
		return domain.UnauthorizedDevice(localDeviceID, account.DeviceID)
	}

	if account.CommitmentEnded(now) {
		if account.SubscriptionStatus == domain.StatusPending {
			return domain.To(domain.DestCommitmentSelection)
		}
		return domain.To(domain.DestExpiredDashboard)
	}

	switch account.SubscriptionStatus {
	case domain.StatusPending:
		return domain.To(domain.DestCommitmentSelection)
	case domain.StatusExpired, domain.StatusCancelled:
		return domain.To(domain.DestSubscriptionExpired)
	case domain.StatusTrial, domain.StatusActive:
		if !account.HasDeviceOwner {
			return domain.To(domain.DestDeviceOwnerSetup)
		}
	}

	if account.CommitmentEnd == nil {
		return domain.To(domain.DestCommitmentSelection)
	}
	return domain.To(domain.DestDashboard)
}

// Service resolves against the account store, normally the cached one.
type Service struct {
	accounts      repository.AccountStore
	localDeviceID string
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(accounts repository.AccountStore, localDeviceID string, logger *slog.Logger) *Service {
	return &Service{
		accounts:      accounts,
		localDeviceID: localDeviceID,
		logger:        logger,
		now:           time.Now,
	}
}

// Route loads the identity's account and resolves it. An account that cannot
// be loaded routes to Welcome.
func (s *Service) Route(ctx context.Context, identity string) domain.Verdict {
	if identity == "" {
		return domain.To(domain.DestWelcome)
	}
	account, err := s.accounts.Get(ctx, identity)
	if err != nil {
		s.logger.WarnContext(ctx, "account not loadable, routing to welcome",
			slog.String("account_id", identity),
			slog.String("error", err.Error()),
		)
		account = nil
	}
	v := Resolve(identity, account, s.localDeviceID, s.now())
	s.logger.DebugContext(ctx, "route resolved",
		slog.String("account_id", identity),
		slog.String("destination", string(v.Destination)),
	)
	return v
}
