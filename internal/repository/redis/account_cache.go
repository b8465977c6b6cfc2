package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository"
)

const accountKeyPrefix = "fortress:account:"

// CachedAccountStore is a read-through cache in front of an AccountStore.
// Writes go to the inner store first and then drop the cached copy, so a
// reader in this process never sees a value older than its own last write.
// Every invalidation bumps the id's generation; a fill whose inner read
// started under an older generation is discarded.
type CachedAccountStore struct {
	inner  repository.AccountStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	bypass map[string]time.Time
	gens   map[string]uint64
}

func NewCachedAccountStore(inner repository.AccountStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedAccountStore {
	return &CachedAccountStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		bypass: make(map[string]time.Time),
		gens:   make(map[string]uint64),
	}
}

func (s *CachedAccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	if !s.bypassed(id) {
		data, err := s.client.Get(ctx, accountKeyPrefix+id).Bytes()
		switch {
		case err == nil:
			var a domain.Account
			if err := json.Unmarshal(data, &a); err == nil {
				return &a, nil
			}
			s.logger.WarnContext(ctx, "discarding undecodable cached account", slog.String("account_id", id))
		case !errors.Is(err, redis.Nil):
			s.logger.WarnContext(ctx, "account cache read failed", slog.String("account_id", id), slog.String("error", err.Error()))
		}
	}

	gen := s.generation(id)
	a, err := s.inner.Get(ctx, id)
	if err != nil || a == nil {
		return a, err
	}
	s.fill(ctx, a, gen)
	return a, nil
}

func (s *CachedAccountStore) Set(ctx context.Context, a *domain.Account) error {
	if err := s.inner.Set(ctx, a); err != nil {
		return err
	}
	return s.Invalidate(ctx, a.ID)
}

// Invalidate drops the cached copy of id. When Redis is unreachable the id
// is read from the inner store for one TTL instead, which keeps this
// process consistent with its own writes.
func (s *CachedAccountStore) Invalidate(ctx context.Context, id string) error {
	s.mu.Lock()
	s.gens[id]++
	s.mu.Unlock()

	if err := s.client.Del(ctx, accountKeyPrefix+id).Err(); err != nil {
		s.logger.WarnContext(ctx, "account cache invalidation failed, bypassing cache",
			slog.String("account_id", id),
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		s.bypass[id] = s.now().Add(s.ttl)
		s.mu.Unlock()
	}
	return nil
}

func (s *CachedAccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.inner.GetByEmail(ctx, email)
}

func (s *CachedAccountStore) GetByDeviceID(ctx context.Context, deviceID string) (*domain.Account, error) {
	return s.inner.GetByDeviceID(ctx, deviceID)
}

func (s *CachedAccountStore) bypassed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bypassedLocked(id)
}

func (s *CachedAccountStore) bypassedLocked(id string) bool {
	until, ok := s.bypass[id]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.bypass, id)
		return false
	}
	return true
}

func (s *CachedAccountStore) generation(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id]
}

// fill caches a unless its id was invalidated after gen was taken. The lock
// is held across the write so an invalidation either sees the entry and
// deletes it or bumps the generation first.
func (s *CachedAccountStore) fill(ctx context.Context, a *domain.Account, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[a.ID] != gen || s.bypassedLocked(a.ID) {
		return
	}
	s.store(ctx, a)
}

func (s *CachedAccountStore) store(ctx context.Context, a *domain.Account) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, accountKeyPrefix+a.ID, data, s.ttl).Err(); err != nil {
		s.logger.DebugContext(ctx, "account cache fill failed", slog.String("error", fmt.Sprint(err)))
	}
}
