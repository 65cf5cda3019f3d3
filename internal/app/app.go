// Package app wires the sync pipeline together and owns its lifecycle: the
// auth session drives hydration and sync sessions, and a connectivity watch
// feeds the write queue's online signal.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/hydration"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/queue"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

const DefaultConnectivityInterval = 15 * time.Second

type Options struct {
	KV     localstore.KV
	Client remote.Client // nil when no remote is configured
	Auth   remote.Auth
	Clock  clock.Clock
	IDs    clock.IDSource
	Logger *slog.Logger

	Location             *time.Location
	Queue                queue.Config
	Debounce             time.Duration
	HydrationTimeout     time.Duration
	ConnectivityInterval time.Duration
	UndoDepth            int
}

type App struct {
	Store     *store.Store
	Queue     *queue.Queue
	Sync      *syncmgr.Manager
	Hydration *hydration.Service

	client   remote.Client
	auth     remote.Auth
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	userID     string
	watch      clock.Timer
	cancelAuth func()
}

func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	if opts.IDs == nil {
		opts.IDs = clock.UUIDs{}
	}

	if opts.ConnectivityInterval <= 0 {
		opts.ConnectivityInterval = DefaultConnectivityInterval
	}

	if opts.Queue == (queue.Config{}) {
		opts.Queue = queue.DefaultConfig()
	}

	c := opts.Clock
	loc := opts.Location
	m := mapper.New(func() string { return clock.Day(c, loc) })

	var (
		reader remote.Reader
		sub    remote.Subscriber
	)

	if opts.Client != nil {
		reader, sub = opts.Client, opts.Client
	}

	q := queue.New(opts.KV, opts.Queue, c, opts.IDs, opts.Logger)
	if opts.Client != nil {
		q.SetClient(opts.Client)
	}

	s := store.New(opts.KV, c, opts.IDs, store.Options{
		Logger:    opts.Logger,
		UndoDepth: opts.UndoDepth,
		Location:  loc,
	})

	mgr := syncmgr.New(q, sub, m, c, opts.Debounce, opts.Logger)
	s.SetSyncer(mgr)

	return &App{
		Store:     s,
		Queue:     q,
		Sync:      mgr,
		Hydration: hydration.New(opts.KV, reader, m, opts.HydrationTimeout, opts.Logger),
		client:    opts.Client,
		auth:      opts.Auth,
		clock:     c,
		interval:  opts.ConnectivityInterval,
		logger:    opts.Logger.With("component", "app"),
	}
}

// Start follows the auth session and, with a remote configured, begins
// watching connectivity. A user already signed in gets a session right away.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if a.client != nil {
		a.checkConnectivity()
	}

	if a.auth == nil {
		return
	}

	cancel := a.auth.OnChange(func(u remote.User, signedIn bool) {
		if signedIn {
			a.SignedIn(u.ID)
		} else {
			a.SignedOut()
		}
	})

	a.mu.Lock()
	a.cancelAuth = cancel
	a.mu.Unlock()

	if u, ok := a.auth.CurrentUser(); ok {
		a.SignedIn(u.ID)
	}
}

// SignedIn hydrates userID's data, loads it into the store and starts the
// sync session. Repeated calls for the current user are no-ops.
func (a *App) SignedIn(userID string) {
	a.mu.Lock()
	ctx := a.ctx
	previous := a.userID

	if ctx == nil || userID == "" || previous == userID {
		a.mu.Unlock()
		return
	}

	a.userID = userID
	a.mu.Unlock()

	if previous != "" {
		a.Sync.Destroy()
		a.Hydration.Forget(previous)
	}

	res := a.Hydration.Hydrate(ctx, userID)

	if err := a.Store.Dispatch(store.LoadData{State: res.Data}); err != nil {
		a.logger.Error("failed to load hydrated state", "user_id", userID, "error", err)
	}

	a.Sync.Init(ctx, userID, a.Store, res)

	a.logger.Info("session ready", "user_id", userID, "source", res.Source, "needs_migration", res.NeedsMigration)
}

// SignedOut stops the sync session. Local data and pending writes stay on
// the device.
func (a *App) SignedOut() {
	a.mu.Lock()
	userID := a.userID
	a.userID = ""
	a.mu.Unlock()

	if userID == "" {
		return
	}

	a.Sync.Destroy()
	a.Hydration.Forget(userID)
	a.logger.Info("session ended", "user_id", userID)
}

// UserID returns the user whose session is active.
func (a *App) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.userID
}

// checkConnectivity pings the remote, reports the result to the queue and
// schedules the next check.
func (a *App) checkConnectivity() {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, a.interval)
	err := a.client.Ping(pingCtx)
	cancel()

	if err != nil {
		a.logger.Debug("remote unreachable", "error", err)
	}

	a.Queue.SetOnline(err == nil)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx.Err() != nil {
		return
	}

	a.watch = a.clock.AfterFunc(a.interval, a.checkConnectivity)
}

// Close ends the session, stops the watch and the pipeline. Pending queue
// entries remain persisted for the next start.
func (a *App) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}

	if a.watch != nil {
		a.watch.Stop()
	}

	cancelAuth := a.cancelAuth
	a.cancelAuth = nil
	a.mu.Unlock()

	if cancelAuth != nil {
		cancelAuth()
	}

	a.Sync.Close()
	a.Queue.Close()
}
