package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse/storepulse/internal/heartbeat"
	"github.com/storepulse/storepulse/internal/notify"
	"github.com/storepulse/storepulse/internal/registry"
)

type fakeStore struct {
	mu     sync.Mutex
	alerts []heartbeat.AlertKind
}

func (f *fakeStore) InsertAlert(ctx context.Context, storeID string, kind heartbeat.AlertKind, message string, severity heartbeat.Severity, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, kind)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeRecipients struct {
	recipients map[string][]string
}

func (f *fakeRecipients) Lookup(storeID string) []string {
	return f.recipients[storeID]
}

type fakeProvider struct {
	mu   sync.Mutex
	sent []notify.Notification
	done chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{done: make(chan struct{}, 16)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, n notify.Notification) error {
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func tr(storeID string, kind heartbeat.AlertKind, bypass bool) registry.Transition {
	return registry.Transition{
		StoreID:        storeID,
		AlertCandidate: kind,
		BypassCooldown: bypass,
		Record:         registry.Record{StoreID: storeID, StoreName: "Store " + storeID},
	}
}

func TestDispatch_NoCandidateIsNoop(t *testing.T) {
	store := &fakeStore{}
	d := New(store, &fakeRecipients{}, nil)
	d.Start()
	defer d.Stop()

	err := d.Dispatch(context.Background(), registry.Transition{StoreID: "a"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, store.count())
}

func TestDispatch_PersistsAlertRow(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	d := New(store, recipients, nil)
	d.Start()
	defer d.Stop()

	err := d.Dispatch(context.Background(), tr("a", heartbeat.KindStartup, true), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, store.count())
}

func TestDispatch_NoRecipientsSkipsDeliveryButPersists(t *testing.T) {
	store := &fakeStore{}
	provider := newFakeProvider()
	d := New(store, &fakeRecipients{}, []notify.Provider{provider})
	d.Start()
	defer d.Stop()

	err := d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, true), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, store.count())

	select {
	case <-provider.done:
		t.Fatal("provider should not have been invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatch_DeliversToProviderAsync(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	provider := newFakeProvider()
	d := New(store, recipients, []notify.Provider{provider})
	d.Start()
	defer d.Stop()

	err := d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, true), time.Now())
	require.NoError(t, err)

	select {
	case <-provider.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async delivery")
	}
	assert.Equal(t, 1, provider.count())
}

func TestDispatch_RepeatWithinCooldownIsSuppressed(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	d := New(store, recipients, nil).WithCooldowns(5*time.Minute, 5*time.Minute, 10*time.Minute)
	d.Start()
	defer d.Stop()

	now := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, false), now))
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, false), now.Add(time.Minute)))

	assert.Equal(t, 1, store.count())
}

func TestDispatch_RepeatAfterCooldownElapsedFires(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	d := New(store, recipients, nil).WithCooldowns(5*time.Minute, 5*time.Minute, 10*time.Minute)
	d.Start()
	defer d.Stop()

	now := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, false), now))
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, false), now.Add(6*time.Minute)))

	assert.Equal(t, 2, store.count())
}

func TestDispatch_BypassCooldownAlwaysFiresFirstOffline(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	d := New(store, recipients, nil).WithCooldowns(5*time.Minute, 5*time.Minute, 10*time.Minute)
	d.Start()
	defer d.Stop()

	now := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, true), now))
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, false), now.Add(time.Second)))

	assert.Equal(t, 1, store.count(), "bypass records the baseline so the very next repeat is still cooldown-gated")
}

func TestDispatch_DifferentKindsHaveIndependentCooldowns(t *testing.T) {
	store := &fakeStore{}
	recipients := &fakeRecipients{recipients: map[string][]string{"a": {"ops@x.com"}}}
	d := New(store, recipients, nil).WithCooldowns(5*time.Minute, 5*time.Minute, 10*time.Minute)
	d.Start()
	defer d.Stop()

	now := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindOffline, true), now))
	require.NoError(t, d.Dispatch(context.Background(), tr("a", heartbeat.KindRecovery, false), now.Add(time.Second)))

	assert.Equal(t, 2, store.count())
}

func TestCooldowns_AllowFirstCallAlwaysTrue(t *testing.T) {
	c := NewCooldowns()
	assert.True(t, c.Allow(heartbeat.KindOffline, "a", 5*time.Minute, time.Now()))
}

func TestCooldowns_AllowSecondCallWithinWindowFalse(t *testing.T) {
	c := NewCooldowns()
	now := time.Now()
	c.Allow(heartbeat.KindOffline, "a", 5*time.Minute, now)
	assert.False(t, c.Allow(heartbeat.KindOffline, "a", 5*time.Minute, now.Add(time.Minute)))
}
