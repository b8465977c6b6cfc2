package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
)

const scratchKeyPrefix = "fortress:scratch:"

// ScratchStore keeps the ACTIVATING policy of an in-flight activation so a
// crashed process can report it on restart.
type ScratchStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewScratchStore(client *redis.Client, ttl time.Duration) *ScratchStore {
	return &ScratchStore{client: client, ttl: ttl}
}

func (s *ScratchStore) SavePending(ctx context.Context, p *domain.Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending policy: %w", err)
	}
	if err := s.client.Set(ctx, scratchKeyPrefix+p.DeviceID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending policy: %w", err)
	}
	return nil
}

func (s *ScratchStore) Pending(ctx context.Context, deviceID string) (*domain.Policy, error) {
	data, err := s.client.Get(ctx, scratchKeyPrefix+deviceID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get pending policy: %w", err)
	}
	var p domain.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending policy: %w", err)
	}
	// Durations are not serialized; the catalog is authoritative.
	if p.Plan, err = domain.PlanByName(string(p.Plan.Name)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ScratchStore) ClearPending(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, scratchKeyPrefix+deviceID).Err(); err != nil {
		return fmt.Errorf("redis del pending policy: %w", err)
	}
	return nil
}
