package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/huddle/pkg/connectivity"
	"github.com/a-essam23/huddle/pkg/datastore"
	"github.com/a-essam23/huddle/pkg/datastore/sqlitestore"
	"github.com/a-essam23/huddle/pkg/degraded"
	"github.com/a-essam23/huddle/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store   *sqlitestore.Store
	monitor *connectivity.Monitor
	rec     *Reconciler
}

func newHarness(t *testing.T, maxDeferred int) *harness {
	t.Helper()
	monitor := connectivity.NewMonitor(logging.Discard())
	store, err := sqlitestore.New(logging.Discard(), filepath.Join(t.TempDir(), "huddle.db"), monitor)
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))

	dispatcher := degraded.NewDispatcher(logging.Discard(), monitor, degraded.DefaultPolicy(), nil)
	rec := New(logging.Discard(), store, dispatcher, Options{WriteTimeout: time.Second, MaxDeferred: maxDeferred})
	t.Cleanup(func() {
		rec.Wait()
		_ = store.Disconnect(context.Background())
	})
	return &harness{store: store, monitor: monitor, rec: rec}
}

func (h *harness) disconnect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.Disconnect(context.Background()))
	require.Equal(t, connectivity.Disconnected, h.monitor.Current())
}

func TestResolveGroupPrefersPrimaryID(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	first, err := h.store.CreateGroup(ctx, "First", "ABC123")
	require.NoError(t, err)
	// a second group whose join code collides with the first group's id
	_, err = h.store.CreateGroup(ctx, "Second", first.ID)
	require.NoError(t, err)

	got, err := h.rec.ResolveGroup(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = h.rec.ResolveGroup(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = h.rec.ResolveGroup(ctx, " ")
	assert.ErrorIs(t, err, datastore.ErrValidation)

	_, err = h.rec.ResolveGroup(ctx, "NOPE")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestRecordJoinPersistsWhenConnected(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	user, err := h.store.CreateUser(ctx, "alice")
	require.NoError(t, err)
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	res, err := h.rec.RecordJoin(ctx, user.ID, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, degraded.Executed, res.Outcome)
	assert.Equal(t, group.ID, res.Value.ID)
	assert.True(t, res.Value.HasMember(user.ID))

	stored, err := h.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, stored.CurrentGroupID)

	// idempotent
	res, err = h.rec.RecordJoin(ctx, user.ID, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, res.Value.Members)
}

func TestRecordJoinUnknownCodeIsDenied(t *testing.T) {
	h := newHarness(t, 0)

	res, err := h.rec.RecordJoin(context.Background(), "user-1", "MISSING")
	require.NoError(t, err)
	assert.Equal(t, degraded.Denied, res.Outcome)
	assert.NotEmpty(t, res.Warning)
	assert.Zero(t, h.rec.Deferred())
}

func TestRecordJoinToleratesMissingUserRecord(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	h.rec.RecordJoinAsync("ghost", "ABC123")
	h.rec.Wait()

	stored, err := h.store.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasMember("ghost"))
}

func TestRecordJoinDefersWhileDisconnected(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)
	h.monitor.OnTransition(h.rec.OnTransition)

	h.disconnect(t)
	res, err := h.rec.RecordJoin(ctx, "bob", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, degraded.FellBack, res.Outcome)
	assert.Equal(t, "ABC123", res.Value.JoinCode)
	assert.True(t, res.Value.HasMember("bob"))
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 1, h.rec.Deferred())

	require.NoError(t, h.store.Connect(ctx))
	require.Eventually(t, func() bool {
		stored, err := h.store.GetGroupByID(ctx, group.ID)
		return err == nil && stored.HasMember("bob")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.rec.Deferred())
}

func TestDeferredQueueDropsOldest(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	h.disconnect(t)
	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		_, err := h.rec.RecordJoin(ctx, user, "ABC123")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.rec.Deferred())

	require.NoError(t, h.store.Connect(ctx))
	assert.Equal(t, 3, h.rec.FlushDeferred(ctx))

	stored, err := h.store.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u4", "u5"}, stored.Members)
}

func TestFlushDeferredRequeuesOnConnectivityError(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	_, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	h.disconnect(t)
	_, err = h.rec.RecordJoin(ctx, "bob", "ABC123")
	require.NoError(t, err)

	assert.Zero(t, h.rec.FlushDeferred(ctx))
	assert.Equal(t, 1, h.rec.Deferred())
}

func TestLookupGroupServesCacheWhileDisconnected(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	res, err := h.rec.LookupGroup(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, degraded.Executed, res.Outcome)

	h.disconnect(t)

	res, err = h.rec.LookupGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, degraded.FellBack, res.Outcome)
	assert.Equal(t, "Study", res.Value.Name)

	res, err = h.rec.LookupGroup(ctx, "NEVERSEEN")
	require.NoError(t, err)
	assert.Equal(t, degraded.Denied, res.Outcome)
}

func TestLookupGroupNotFoundPropagates(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.rec.LookupGroup(context.Background(), "NOPE")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

// flakyStore fails the next AddGroupMember with a connectivity error.
type flakyStore struct {
	datastore.Store

	mu       sync.Mutex
	failNext bool
}

func (f *flakyStore) AddGroupMember(ctx context.Context, groupID, userID string) (datastore.Group, error) {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return datastore.Group{}, fmt.Errorf("add member: %w", datastore.ErrUnavailable)
	}
	return f.Store.AddGroupMember(ctx, groupID, userID)
}

func TestTransientFailureWhileConnectedIsReplayed(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	group, err := h.store.CreateGroup(ctx, "Study", "ABC123")
	require.NoError(t, err)

	flaky := &flakyStore{Store: h.store, failNext: true}
	dispatcher := degraded.NewDispatcher(logging.Discard(), h.monitor, degraded.DefaultPolicy(), nil)
	rec := New(logging.Discard(), flaky, dispatcher, Options{WriteTimeout: time.Second})
	h.monitor.OnTransition(rec.OnTransition)

	res, err := rec.RecordJoin(ctx, "bob", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, degraded.FellBack, res.Outcome)
	assert.Equal(t, 1, rec.Deferred())
	assert.Equal(t, connectivity.Connected, h.monitor.Current())

	// no transition happens; a healthy ping triggers the replay instead
	rec.FlushAsync()
	rec.Wait()

	assert.Zero(t, rec.Deferred())
	stored, err := h.store.GetGroupByID(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasMember("bob"))
}

func TestFlushAsyncWithEmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.FlushAsync()
	h.rec.Wait()
	assert.Zero(t, h.rec.Deferred())
}
