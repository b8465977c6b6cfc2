package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	pkgkafka "github.com/sobhihamadi/TakwaFortress-sub000/pkg/kafka"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/logger"
)

var (
	TopicPolicyActivated        = pkgkafka.Topic("policy", "activated")
	TopicPolicyActivationFailed = pkgkafka.Topic("policy", "activation_failed")
	TopicPolicyUnlockable       = pkgkafka.Topic("policy", "unlockable")
	TopicDeviceCleared          = pkgkafka.Topic("device", "cleared")
	TopicAccountUpdated         = pkgkafka.Topic("account", "updated")
)

const (
	AggregateTypePolicy  = "policy"
	AggregateTypeDevice  = "device"
	AggregateTypeAccount = "account"
	Source               = "fortressd"
)

type PolicyData struct {
	PolicyID         string    `json:"policy_id"`
	DeviceID         string    `json:"device_id"`
	Plan             string    `json:"plan"`
	ActivatedAt      time.Time `json:"activated_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ActivationMethod string    `json:"activation_method"`
	State            string    `json:"state"`
	BlockedApps      int       `json:"blocked_apps"`
}

type ActivationFailedData struct {
	DeviceID     string            `json:"device_id"`
	Plan         string            `json:"plan"`
	FailedLayers map[string]string `json:"failed_layers"`
	RolledBack   []string          `json:"rolled_back,omitempty"`
}

type DeviceClearedData struct {
	DeviceID        string   `json:"device_id"`
	PolicyID        string   `json:"policy_id,omitempty"`
	AuthorityHeld   bool     `json:"authority_held"`
	FailedSteps     []string `json:"failed_steps,omitempty"`
	AccountWasReset bool     `json:"account_was_reset"`
}

type AccountUpdatedData struct {
	AccountID          string `json:"account_id"`
	DeviceID           string `json:"device_id"`
	SubscriptionStatus string `json:"subscription_status"`
	HasDeviceOwner     bool   `json:"has_device_owner"`
	SelectedPlan       string `json:"selected_plan"`
}

// Producer publishes fortress lifecycle events.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

func policyData(p *domain.Policy) PolicyData {
	return PolicyData{
		PolicyID:         p.ID,
		DeviceID:         p.DeviceID,
		Plan:             string(p.Plan.Name),
		ActivatedAt:      p.ActivatedAt,
		ExpiresAt:        p.ExpiresAt,
		ActivationMethod: string(p.ActivationMethod),
		State:            string(p.State),
		BlockedApps:      len(p.BlockedApps),
	}
}

func (p *Producer) PublishPolicyActivated(ctx context.Context, policy *domain.Policy) error {
	return p.publish(ctx, TopicPolicyActivated, policy.DeviceID, AggregateTypePolicy, policyData(policy))
}

func (p *Producer) PublishActivationFailed(ctx context.Context, deviceID string, plan domain.PlanName, failed domain.LayerErrors, rolledBack []string) error {
	return p.publish(ctx, TopicPolicyActivationFailed, deviceID, AggregateTypePolicy, ActivationFailedData{
		DeviceID:     deviceID,
		Plan:         string(plan),
		FailedLayers: failed.Map(),
		RolledBack:   rolledBack,
	})
}

func (p *Producer) PublishPolicyUnlockable(ctx context.Context, policy *domain.Policy) error {
	return p.publish(ctx, TopicPolicyUnlockable, policy.DeviceID, AggregateTypePolicy, policyData(policy))
}

func (p *Producer) PublishDeviceCleared(ctx context.Context, data DeviceClearedData) error {
	return p.publish(ctx, TopicDeviceCleared, data.DeviceID, AggregateTypeDevice, data)
}

func (p *Producer) PublishAccountUpdated(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountUpdated, a.ID, AggregateTypeAccount, AccountUpdatedData{
		AccountID:          a.ID,
		DeviceID:           a.DeviceID,
		SubscriptionStatus: string(a.SubscriptionStatus),
		HasDeviceOwner:     a.HasDeviceOwner,
		SelectedPlan:       a.SelectedPlan,
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, Source, data)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_id", evt.EventID),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
