package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository/memory"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
)

const testDevice = "dev-local"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// callLog is shared by the driver and authority doubles so ordering across
// them can be asserted.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeDriver struct {
	log    *callLog
	fail   map[string]error
	panics map[string]bool
	cmds   map[string]restriction.Command
}

func (d *fakeDriver) do(action, layer string, cmd restriction.Command) error {
	key := action + ":" + layer
	d.log.add(key)
	if d.cmds == nil {
		d.cmds = map[string]restriction.Command{}
	}
	d.cmds[key] = cmd
	if d.panics[key] {
		panic("agent crashed on " + key)
	}
	return d.fail[key]
}

func (d *fakeDriver) Apply(_ context.Context, layer string, cmd restriction.Command) error {
	return d.do("apply", layer, cmd)
}

func (d *fakeDriver) Remove(_ context.Context, layer string, cmd restriction.Command) error {
	return d.do("remove", layer, cmd)
}

type fakeAuthority struct {
	log        *callLog
	held       bool
	err        error
	releaseErr error
}

func (a *fakeAuthority) IsHeld(context.Context) (bool, error) { return a.held, a.err }

func (a *fakeAuthority) Release(context.Context) error {
	a.log.add("release_authority")
	if a.releaseErr != nil {
		return a.releaseErr
	}
	a.held = false
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	topics []string
	failed domain.LayerErrors
	clear  *event.DeviceClearedData
}

func (e *recordingEvents) record(topic string) {
	e.mu.Lock()
	e.topics = append(e.topics, topic)
	e.mu.Unlock()
}

func (e *recordingEvents) PublishPolicyActivated(context.Context, *domain.Policy) error {
	e.record(event.TopicPolicyActivated)
	return nil
}

func (e *recordingEvents) PublishActivationFailed(_ context.Context, _ string, _ domain.PlanName, failed domain.LayerErrors, _ []string) error {
	e.record(event.TopicPolicyActivationFailed)
	e.failed = failed
	return nil
}

func (e *recordingEvents) PublishPolicyUnlockable(context.Context, *domain.Policy) error {
	e.record(event.TopicPolicyUnlockable)
	return nil
}

func (e *recordingEvents) PublishDeviceCleared(_ context.Context, data event.DeviceClearedData) error {
	e.record(event.TopicDeviceCleared)
	e.clear = &data
	return nil
}

func (e *recordingEvents) PublishAccountUpdated(context.Context, *domain.Account) error {
	e.record(event.TopicAccountUpdated)
	return errors.New("broker unavailable")
}

type fixture struct {
	policies   *memory.PolicyStore
	accounts   *memory.AccountStore
	blocked    *memory.PackageList
	userBlocks *memory.PackageList
	scratch    *memory.ScratchStore
	log        *callLog
	driver     *fakeDriver
	authority  *fakeAuthority
	events     *recordingEvents
	stores     Stores
	device     Device
	logger     *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		policies:   memory.NewPolicyStore(),
		accounts:   memory.NewAccountStore(),
		blocked:    memory.NewPackageList(),
		userBlocks: memory.NewPackageList(),
		scratch:    memory.NewScratchStore(),
		log:        &callLog{},
		events:     &recordingEvents{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.driver = &fakeDriver{log: f.log, fail: map[string]error{}, panics: map[string]bool{}}
	f.authority = &fakeAuthority{log: f.log, held: true}
	f.stores = Stores{
		Policies:    f.policies,
		Accounts:    f.accounts,
		BlockedApps: f.blocked,
		UserBlocks:  f.userBlocks,
		Scratch:     f.scratch,
	}
	f.device = Device{
		ID:        testDevice,
		Layers:    restriction.NewSet(f.driver),
		Authority: f.authority,
		DNSHost:   "family.dns.example",
	}
	return f
}

func (f *fixture) activator(opts ActivatorOptions, now time.Time) *Activator {
	a := NewActivator(f.stores, f.device, f.events, opts, f.logger)
	a.now = func() time.Time { return now }
	return a
}

func (f *fixture) deactivator(now time.Time) *Deactivator {
	d := NewDeactivator(f.stores, f.device, f.events, f.logger)
	d.now = func() time.Time { return now }
	return d
}

func (f *fixture) lifecycle(now *time.Time) *Lifecycle {
	l := NewLifecycle(f.stores, f.device, f.events, f.logger)
	l.now = func() time.Time { return *now }
	return l
}

// lockedAccount is an account in the Dashboard shape for plan started at at.
func (f *fixture) lockedAccount(t *testing.T, plan domain.PlanName, at time.Time) *domain.Account {
	t.Helper()
	a := domain.NewAccount("acc-1", "user@example.com", testDevice, at.Add(-time.Hour))
	a.HasDeviceOwner = true
	a.StartCommitment(domain.MustPlan(plan), at)
	if err := f.accounts.Set(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func withPrefix(entries []string, prefix string) []string {
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutPrefix(e, prefix); ok {
			out = append(out, name)
		}
	}
	return out
}

func appliedLayers(entries []string) []string { return withPrefix(entries, "apply:") }

func removedLayers(entries []string) []string { return withPrefix(entries, "remove:") }
