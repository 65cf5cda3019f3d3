package syncmgr_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/hydration"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/queue"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
	"github.com/MrJamesThe3rd/finnysync/internal/remote/memory"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

const user = "u1"

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type device struct {
	store  *store.Store
	queue  *queue.Queue
	mgr    *syncmgr.Manager
	client *memory.Client
	kv     *localstore.Memory
}

func newDevice(t *testing.T, b *memory.Backend, c *clock.Manual, name string, online bool) device {
	t.Helper()

	d := device{kv: localstore.NewMemory(), client: b.Client()}
	d.client.SetOffline(!online)

	d.queue = queue.New(d.kv, queue.DefaultConfig(), c, &clock.SeqIDs{Prefix: name + "-q"}, discard())
	d.queue.SetClient(d.client)
	d.queue.SetOnline(online)

	d.store = store.New(d.kv, c, &clock.SeqIDs{Prefix: name}, store.Options{Logger: discard()})
	d.mgr = syncmgr.New(d.queue, d.client, mapper.New(func() string { return clock.Day(c, nil) }), c, syncmgr.DefaultDebounce, discard())
	d.store.SetSyncer(d.mgr)

	d.mgr.Init(context.Background(), user, d.store, hydration.Result{Data: d.store.State()})

	t.Cleanup(func() {
		d.mgr.Close()
		d.queue.Close()
	})

	return d
}

func (d device) goOnline() {
	d.client.SetOffline(false)
	d.queue.SetOnline(true)
}

func (d device) dispatch(t *testing.T, a store.Action) {
	t.Helper()
	require.NoError(t, d.store.Dispatch(a))
}

func newClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
}

func TestOfflineEditLaterSync(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", false)

	a.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "Travel", TargetAmount: money.Amount(100000)}})
	c.Advance(syncmgr.DefaultDebounce)

	require.Len(t, a.queue.Entries(), 1)
	require.Len(t, a.store.State().Goals, 1)

	id := a.store.State().Goals[0].ID

	a.goOnline()

	require.Eventually(t, func() bool {
		return a.queue.Status().Size == 0
	}, time.Second, 5*time.Millisecond)

	row, ok := b.Row(finance.TableGoals, user, id)
	require.True(t, ok)
	assert.Equal(t, money.Amount(100000), mapper.GoalFromRemote(row).TargetAmount)
}

func TestDeleteAfterEnqueue(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", false)

	a.dispatch(t, store.AddTransaction{Transaction: finance.Transaction{ID: "t1", Amount: 5000}})
	a.dispatch(t, store.DeleteTransaction{Ref: store.Ref{ID: "t1"}})

	assertOnlyDelete := func() {
		entries := a.queue.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, queue.OpDelete, entries[0].Operation)
		assert.Equal(t, "transactions:t1", entries[0].Key())
		assert.Equal(t, []string{"transactions:t1"}, a.queue.Tombstones())
	}

	assertOnlyDelete()

	c.Advance(syncmgr.DefaultDebounce)
	assertOnlyDelete()
}

func TestCrossDeviceConvergence(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", true)
	bDev := newDevice(t, b, c, "b", true)

	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "House", TargetAmount: 10000}})
	c.Advance(syncmgr.DefaultDebounce)

	require.Len(t, bDev.store.State().Goals, 1)
	assert.Equal(t, "House", bDev.store.State().Goals[0].Name)

	c.Advance(10 * time.Millisecond)
	a.dispatch(t, store.UpdateGoal{Goal: finance.Goal{ID: "g1", Name: "House", TargetAmount: 20000}})
	c.Advance(syncmgr.DefaultDebounce)

	got := bDev.store.State().Goals[0]
	assert.Equal(t, money.Amount(20000), got.TargetAmount)
	assert.Equal(t, 2, got.Version)

	c.Advance(syncmgr.DefaultDebounce)
	assert.Empty(t, bDev.queue.Entries(), "inbound changes must not be echoed")
	assert.Empty(t, a.queue.Entries())

	c.Advance(10 * time.Millisecond)
	bDev.dispatch(t, store.UpdateGoal{Goal: finance.Goal{ID: "g1", Name: "Home", TargetAmount: 20000}})
	c.Advance(syncmgr.DefaultDebounce)

	assert.Equal(t, "Home", a.store.State().Goals[0].Name, "local edits after inbound events still sync")
	assert.Empty(t, a.queue.Entries())
}

func TestRetryExhaustionRearmsRecord(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", true)

	a.client.FailWrites(errors.New("permanent"))
	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Bike"}})
	c.Advance(syncmgr.DefaultDebounce)

	assert.Empty(t, a.queue.Entries(), "entry is dropped after five attempts")
	assert.Equal(t, syncmgr.StateError, a.mgr.Status().State)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, c.Sleeps())

	a.client.FailWrites(nil)
	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g2", Name: "Car"}})
	c.Advance(syncmgr.DefaultDebounce)

	assert.Len(t, b.Rows(finance.TableGoals), 2, "the dropped record is re-sent on the next pass")

	st := a.mgr.Status()
	assert.Equal(t, syncmgr.StateIdle, st.State)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, c.Now().UnixMilli(), st.LastSyncAt)
}

func TestUndoAfterFlushedDelete(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", true)

	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Bike"}})
	c.Advance(syncmgr.DefaultDebounce)

	_, ok := b.Row(finance.TableGoals, user, "g1")
	require.True(t, ok)

	a.dispatch(t, store.DeleteGoal{Ref: store.Ref{ID: "g1"}})

	require.Eventually(t, func() bool {
		_, ok := b.Row(finance.TableGoals, user, "g1")
		return !ok && a.queue.Status().Size == 0
	}, time.Second, 5*time.Millisecond)

	before := a.store.UndoFrames()[0].Data
	a.dispatch(t, store.UndoLast{})

	assert.False(t, a.queue.IsTombstoned(finance.TableGoals, "g1"))
	assert.Equal(t, before, a.store.State().Goals[0])

	c.Advance(syncmgr.DefaultDebounce)

	row, ok := b.Row(finance.TableGoals, user, "g1")
	require.True(t, ok, "restored record is upserted again")
	assert.Equal(t, "Bike", row["name"])
}

func TestInboundGuards(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", false)
	writer := b.Client()
	ctx := context.Background()

	a.goOnline()

	row := mapper.GoalToRemote(finance.Goal{ID: "g1", Name: "Remote", Priority: finance.PriorityLow, Color: "#000", Version: 1}, user)
	require.NoError(t, writer.Upsert(ctx, finance.TableGoals, row))
	require.Len(t, a.store.State().Goals, 1)

	soft := row.Clone()
	soft["is_deleted"] = true
	require.NoError(t, writer.Upsert(ctx, finance.TableGoals, soft))
	assert.Empty(t, a.store.State().Goals, "soft-deleted rows are removed")

	a.client.SetOffline(true)
	a.queue.SetOnline(false)
	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g2", Name: "Local"}})
	a.dispatch(t, store.DeleteGoal{Ref: store.Ref{ID: "g2"}})
	a.client.SetOffline(false)

	echo := mapper.GoalToRemote(finance.Goal{ID: "g2", Name: "Stale echo", Priority: finance.PriorityLow, Color: "#000", Version: 1}, user)
	require.NoError(t, writer.Upsert(ctx, finance.TableGoals, echo))
	assert.Empty(t, a.store.State().Goals, "tombstoned records ignore inbound upserts")

	c.Advance(syncmgr.DefaultDebounce)

	entries := a.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, queue.OpDelete, entries[0].Operation)
}

func TestMigrationRunsImmediatePass(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()

	kv := localstore.NewMemory()
	client := b.Client()
	q := queue.New(kv, queue.DefaultConfig(), c, &clock.SeqIDs{Prefix: "q"}, discard())
	q.SetClient(client)
	q.SetOnline(true)

	s := store.New(kv, c, &clock.SeqIDs{Prefix: "s"}, store.Options{Logger: discard()})
	require.NoError(t, s.Dispatch(store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Local only"}}))

	mgr := syncmgr.New(q, client, mapper.New(func() string { return "2026-10-18" }), c, 0, discard())
	t.Cleanup(func() {
		mgr.Close()
		q.Close()
	})
	s.SetSyncer(mgr)

	mgr.Init(context.Background(), user, s, hydration.Result{Data: s.State(), Source: hydration.SourceLocal, NeedsMigration: true})

	require.Eventually(t, func() bool {
		_, goal := b.Row(finance.TableGoals, user, "g1")
		_, profile := b.Row(finance.TableProfiles, user, user)

		return goal && profile
	}, time.Second, 5*time.Millisecond)
}

func TestInitIsIdempotentAndDestroyUnsubscribes(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := remote.NewMockSubscriber(ctrl)
	handle := remote.NewMockSubscription(ctrl)

	sub.EXPECT().Subscribe(gomock.Any(), gomock.Any(), user, gomock.Any()).Return(handle, nil).Times(len(syncmgr.SyncedTables))
	handle.EXPECT().Unsubscribe().Return(nil).Times(len(syncmgr.SyncedTables))

	c := newClock()
	q := queue.New(localstore.NewMemory(), queue.DefaultConfig(), c, &clock.SeqIDs{}, discard())
	t.Cleanup(q.Close)

	mgr := syncmgr.New(q, sub, mapper.New(nil), c, 0, discard())
	s := store.New(localstore.NewMemory(), c, &clock.SeqIDs{}, store.Options{Logger: discard()})
	s.SetSyncer(mgr)

	mgr.Init(context.Background(), user, s, hydration.Result{})
	mgr.Init(context.Background(), user, s, hydration.Result{})
	assert.Equal(t, user, mgr.Status().UserID)

	require.NoError(t, s.Dispatch(store.AddGoal{Goal: finance.Goal{Name: "x"}}))
	assert.Equal(t, 1, c.Pending(), "debounce timer armed")

	mgr.Close()

	assert.Equal(t, 0, c.Pending(), "destroy cancels the debounce timer")
	assert.Empty(t, mgr.Status().UserID)
}

func TestSubscriptionFailureIsBestEffort(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := remote.NewMockSubscriber(ctrl)
	handle := remote.NewMockSubscription(ctrl)

	sub.EXPECT().Subscribe(gomock.Any(), gomock.Any(), user, gomock.Any()).DoAndReturn(
		func(_ context.Context, table finance.Table, _ string, _ remote.Handler) (remote.Subscription, error) {
			if table == finance.TableFixedExpenses {
				return nil, remote.ErrSchemaAbsent
			}

			return handle, nil
		}).Times(len(syncmgr.SyncedTables))
	handle.EXPECT().Unsubscribe().Return(nil).Times(len(syncmgr.SyncedTables) - 1)

	c := newClock()
	q := queue.New(localstore.NewMemory(), queue.DefaultConfig(), c, &clock.SeqIDs{}, discard())
	t.Cleanup(q.Close)

	mgr := syncmgr.New(q, sub, mapper.New(nil), c, 0, discard())
	mgr.Init(context.Background(), user, nopDispatcher{}, hydration.Result{})
	mgr.Destroy()
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(store.Action) error { return nil }

func TestStatusSubscribers(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", true)

	var states []syncmgr.State

	cancel := a.mgr.SubscribeStatus(func(st syncmgr.Status) { states = append(states, st.State) })
	defer cancel()

	a.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "Watch"}})
	c.Advance(syncmgr.DefaultDebounce)

	require.NotEmpty(t, states)
	assert.Contains(t, states, syncmgr.StateSyncing)
	assert.Equal(t, syncmgr.StateIdle, states[len(states)-1])
}

func TestFlushNowSkipsDebounce(t *testing.T) {
	b := memory.NewBackend()
	c := newClock()
	a := newDevice(t, b, c, "a", true)

	a.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Now"}})

	res := a.mgr.FlushNow()

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, c.Pending())

	_, ok := b.Row(finance.TableGoals, user, "g1")
	assert.True(t, ok)
}
