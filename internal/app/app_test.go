package app_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/finnysync/internal/app"
	"github.com/MrJamesThe3rd/finnysync/internal/auth"
	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/remote/memory"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

const interval = 15 * time.Second

type harness struct {
	app     *app.App
	clock   *clock.Manual
	session *auth.Session
	backend *memory.Backend
	client  *memory.Client
}

func newHarness(t *testing.T, withRemote bool) harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	h := harness{clock: c, session: auth.NewSession("secret", c, logger), backend: memory.NewBackend()}

	opts := app.Options{
		KV:                   localstore.NewMemory(),
		Auth:                 h.session,
		Clock:                c,
		IDs:                  &clock.SeqIDs{Prefix: "id"},
		Logger:               logger,
		ConnectivityInterval: interval,
	}

	if withRemote {
		h.client = h.backend.Client()
		opts.Client = h.client
	}

	h.app = app.New(opts)
	h.app.Start(context.Background())
	t.Cleanup(h.app.Close)

	return h
}

func (h harness) signIn(t *testing.T, userID string) {
	t.Helper()

	token, err := h.session.Issue(userID, time.Hour)
	require.NoError(t, err)

	_, err = h.session.SignIn(token)
	require.NoError(t, err)
}

func TestSignInHydratesFromRemote(t *testing.T) {
	h := newHarness(t, true)

	seed := h.backend.Client()
	row := mapper.GoalToRemote(finance.Goal{ID: "g1", Name: "Remote", Priority: finance.PriorityHigh, Color: "#fff", Version: 1}, "u1")
	require.NoError(t, seed.Upsert(context.Background(), finance.TableGoals, row))

	h.signIn(t, "u1")

	assert.Equal(t, "u1", h.app.UserID())
	require.Len(t, h.app.Store.State().Goals, 1)
	assert.Equal(t, "Remote", h.app.Store.State().Goals[0].Name)
	assert.Equal(t, "u1", h.app.Sync.Status().UserID)

	row["name"] = "Renamed"
	row["version"] = 2
	require.NoError(t, seed.Upsert(context.Background(), finance.TableGoals, row))
	assert.Equal(t, "Renamed", h.app.Store.State().Goals[0].Name, "realtime events reach the store")
}

func TestSignOutStopsSession(t *testing.T) {
	h := newHarness(t, true)
	h.signIn(t, "u1")

	h.session.SignOut()

	assert.Empty(t, h.app.UserID())
	assert.Empty(t, h.app.Sync.Status().UserID)

	seed := h.backend.Client()
	require.NoError(t, seed.Upsert(context.Background(), finance.TableGoals,
		mapper.GoalToRemote(finance.Goal{ID: "g9", Name: "Later"}, "u1")))
	assert.Empty(t, h.app.Store.State().Goals, "no inbound events after sign-out")
}

func TestConnectivityWatchDrivesQueue(t *testing.T) {
	h := newHarness(t, true)
	h.signIn(t, "u1")

	require.True(t, h.app.Queue.Online())

	h.client.SetOffline(true)
	h.clock.Advance(interval)
	require.False(t, h.app.Queue.Online())

	require.NoError(t, h.app.Store.Dispatch(store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Offline"}}))
	h.clock.Advance(syncmgr.DefaultDebounce)
	require.Len(t, h.app.Queue.Entries(), 1)

	h.client.SetOffline(false)
	h.clock.Advance(interval)

	require.Eventually(t, func() bool {
		_, ok := h.backend.Row(finance.TableGoals, "u1", "g1")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalOnlyWithoutRemote(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t, "u1")

	require.NoError(t, h.app.Store.Dispatch(store.AddGoal{Goal: finance.Goal{Name: "Local"}}))
	h.clock.Advance(syncmgr.DefaultDebounce)

	assert.Len(t, h.app.Store.State().Goals, 1)
	assert.Len(t, h.app.Queue.Entries(), 1, "writes stay queued until a remote exists")
	assert.False(t, h.app.Queue.Online())
}

func TestSwitchingUsersReplacesSession(t *testing.T) {
	h := newHarness(t, true)
	h.signIn(t, "u1")
	h.signIn(t, "u2")

	assert.Equal(t, "u2", h.app.UserID())
	assert.Equal(t, "u2", h.app.Sync.Status().UserID)
}
