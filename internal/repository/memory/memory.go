// Package memory holds in-process stores with read-your-writes semantics.
// They back tests and single-binary deployments without Postgres.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
)

type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.Policy
	active   map[string]string
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*domain.Policy), active: make(map[string]string)}
}

func (s *PolicyStore) GetActive(_ context.Context, deviceID string) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[deviceID]
	if !ok {
		return nil, nil
	}
	return s.policies[id].Clone(), nil
}

func (s *PolicyStore) SetActive(_ context.Context, p *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.active[p.DeviceID]; taken {
		return domain.ErrAlreadyActive
	}
	s.policies[p.ID] = p.Clone()
	s.active[p.DeviceID] = p.ID
	return nil
}

func (s *PolicyStore) ClearActive(_ context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.active, deviceID)
	s.mu.Unlock()
	return nil
}

func (s *PolicyStore) Update(_ context.Context, p *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return apperrors.NotFound("policy", p.ID)
	}
	s.policies[p.ID] = p.Clone()
	return nil
}

func (s *PolicyStore) ListHistorical(_ context.Context, deviceID string) ([]*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := s.active[deviceID]
	var out []*domain.Policy
	for id, p := range s.policies {
		if p.DeviceID != deviceID || (id == current && p.State.Occupying()) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*domain.Account)}
}

func (s *AccountStore) Get(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, nil
}

func (s *AccountStore) Set(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	s.accounts[a.ID] = a.Clone()
	s.mu.Unlock()
	return nil
}

func (s *AccountStore) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return s.find(func(a *domain.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (s *AccountStore) GetByDeviceID(_ context.Context, deviceID string) (*domain.Account, error) {
	return s.find(func(a *domain.Account) bool { return a.DeviceID == deviceID })
}

func (s *AccountStore) find(match func(*domain.Account) bool) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

// PackageList backs both BlockedAppStore and UserBlockListStore.
type PackageList struct {
	mu   sync.RWMutex
	pkgs map[string][]string
}

func NewPackageList() *PackageList {
	return &PackageList{pkgs: make(map[string][]string)}
}

func (s *PackageList) List(_ context.Context, deviceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pkgs[deviceID]), nil
}

func (s *PackageList) Replace(_ context.Context, deviceID string, pkgs []string) error {
	sorted := slices.Clone(pkgs)
	slices.Sort(sorted)
	s.mu.Lock()
	s.pkgs[deviceID] = slices.Compact(sorted)
	s.mu.Unlock()
	return nil
}

func (s *PackageList) DeleteAll(_ context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.pkgs, deviceID)
	s.mu.Unlock()
	return nil
}

func (s *PackageList) Add(_ context.Context, deviceID, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pkgs[deviceID]
	if i, found := slices.BinarySearch(list, pkg); !found {
		s.pkgs[deviceID] = slices.Insert(list, i, pkg)
	}
	return nil
}

func (s *PackageList) Remove(_ context.Context, deviceID, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pkgs[deviceID]
	if i, found := slices.BinarySearch(list, pkg); found {
		s.pkgs[deviceID] = slices.Delete(list, i, i+1)
	}
	return nil
}

type ScratchStore struct {
	mu      sync.Mutex
	pending map[string]*domain.Policy
}

func NewScratchStore() *ScratchStore {
	return &ScratchStore{pending: make(map[string]*domain.Policy)}
}

func (s *ScratchStore) SavePending(_ context.Context, p *domain.Policy) error {
	s.mu.Lock()
	s.pending[p.DeviceID] = p.Clone()
	s.mu.Unlock()
	return nil
}

func (s *ScratchStore) Pending(_ context.Context, deviceID string) (*domain.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[deviceID]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (s *ScratchStore) ClearPending(_ context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.pending, deviceID)
	s.mu.Unlock()
	return nil
}
