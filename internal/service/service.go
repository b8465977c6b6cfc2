// Package service holds the commitment lifecycle: activation, teardown,
// plan selection and the expiry watcher.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/sobhihamadi/TakwaFortress-sub000/internal/service")

// EventPublisher is satisfied by *event.Producer.
type EventPublisher interface {
	PublishPolicyActivated(ctx context.Context, p *domain.Policy) error
	PublishActivationFailed(ctx context.Context, deviceID string, plan domain.PlanName, failed domain.LayerErrors, rolledBack []string) error
	PublishPolicyUnlockable(ctx context.Context, p *domain.Policy) error
	PublishDeviceCleared(ctx context.Context, data event.DeviceClearedData) error
	PublishAccountUpdated(ctx context.Context, a *domain.Account) error
}

// Stores groups the repositories the services share.
type Stores struct {
	Policies    repository.PolicyStore
	Accounts    repository.AccountStore
	BlockedApps repository.BlockedAppStore
	UserBlocks  repository.UserBlockListStore
	Scratch     repository.ScratchStore
}

// Device identifies the local device and its layer stack.
type Device struct {
	ID        string
	Layers    restriction.Set
	Authority restriction.Authority
	DNSHost   string
}

func (d Device) params(hidden, suspended []string) restriction.Params {
	return restriction.Params{
		DeviceID:       d.ID,
		SelfPackage:    domain.SelfPackage,
		Hidden:         hidden,
		Suspended:      suspended,
		Browsers:       domain.BrowserApps(),
		ManagedBrowser: domain.ManagedBrowser,
		DNSHost:        d.DNSHost,
	}
}

func logEventError(ctx context.Context, logger *slog.Logger, topic string, err error) {
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

func utcNow() time.Time { return time.Now().UTC() }
