// Package syncmgr orchestrates the sync pipeline for one signed-in user:
// debounced outbound persist passes into the write queue, realtime inbound
// events turned into reducer actions, and the loop-suppression counter that
// keeps inbound changes from echoing back out.
package syncmgr

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/hydration"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/queue"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

const DefaultDebounce = 1500 * time.Millisecond

// SyncedTables are the tables subscribed for inbound changes.
var SyncedTables = []finance.Table{
	finance.TableGoals,
	finance.TableTransactions,
	finance.TableRoutines,
	finance.TableFixedExpenses,
	finance.TableProfiles,
}

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

type Status struct {
	State      State    `json:"state"`
	UserID     string   `json:"userId,omitempty"`
	Pending    int      `json:"pending"`
	Online     bool     `json:"online"`
	Tombstones []string `json:"tombstones"`
	LastSyncAt int64    `json:"lastSyncAt,omitempty"`
}

// Dispatcher applies reducer actions; the store implements it.
type Dispatcher interface {
	Dispatch(a store.Action) error
}

type Manager struct {
	q        *queue.Queue
	sub      remote.Subscriber
	mapper   mapper.Mapper
	clock    clock.Clock
	debounce time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	userID      string
	dispatch    Dispatcher
	ctx         context.Context
	cancel      context.CancelFunc
	subs        []remote.Subscription
	timer       clock.Timer
	suppress    int
	latest      finance.State
	synced      map[string]finance.Stamp
	profileAt   int64
	profileSent bool
	state       State
	persisting  bool
	lastSyncAt  int64
	gen         int
	statusSubs  map[int]func(Status)
	nextSubID   int
	cancelQueue func()
}

// New builds a manager over q. sub may be nil when no remote is configured;
// outbound operations then stay queued.
func New(q *queue.Queue, sub remote.Subscriber, m mapper.Mapper, c clock.Clock, debounce time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	mgr := &Manager{
		q:          q,
		sub:        sub,
		mapper:     m,
		clock:      c,
		debounce:   debounce,
		logger:     logger.With("component", "syncmgr"),
		state:      StateIdle,
		synced:     make(map[string]finance.Stamp),
		statusSubs: make(map[int]func(Status)),
	}

	mgr.cancelQueue = q.Subscribe(mgr.onQueueStatus)
	q.SetOnDrop(mgr.onDrop)

	return mgr
}

// Close destroys the session and detaches from the queue.
func (m *Manager) Close() {
	m.Destroy()
	m.cancelQueue()
}

// Init starts syncing for userID from the hydrated snapshot. Calling it again
// for the same user is a no-op; a different user replaces the session.
func (m *Manager) Init(ctx context.Context, userID string, d Dispatcher, hr hydration.Result) {
	m.mu.Lock()

	if m.userID != "" && m.userID == userID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Destroy()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.userID = userID
	m.dispatch = d
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.latest = hr.Data
	m.suppress = 0
	m.synced = make(map[string]finance.Stamp)
	m.profileSent = false

	// Without a migration the hydrated data is taken to be in sync already;
	// only later local edits are diffed against it.
	if !hr.NeedsMigration {
		m.markAllSyncedLocked(hr.Data)
	}
	m.mu.Unlock()

	subs := m.subscribe(ctx, gen, userID)

	m.mu.Lock()
	if m.gen == gen {
		m.subs = subs
		subs = nil
	}
	m.mu.Unlock()

	// Lost a race with Destroy.
	for _, s := range subs {
		_ = s.Unsubscribe()
	}

	m.logger.Info("sync session started", "user_id", userID, "needs_migration", hr.NeedsMigration)
	m.emit()

	if hr.NeedsMigration {
		go m.persist(gen)
	}
}

func (m *Manager) subscribe(ctx context.Context, gen int, userID string) []remote.Subscription {
	if m.sub == nil {
		return nil
	}

	var subs []remote.Subscription

	for _, t := range SyncedTables {
		s, err := m.sub.Subscribe(ctx, t, userID, m.handler(gen, t))
		if err != nil {
			m.logger.Warn("realtime subscription unavailable", "table", t, "error", err)
			continue
		}

		subs = append(subs, s)
	}

	return subs
}

// Destroy stops the debounce timer and closes every subscription. In-flight
// flushes finish without touching state.
func (m *Manager) Destroy() {
	m.mu.Lock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	subs := m.subs
	wasActive := m.userID != ""
	m.subs = nil
	m.userID = ""
	m.dispatch = nil
	m.suppress = 0
	m.gen++
	m.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			m.logger.Warn("failed to unsubscribe", "error", err)
		}
	}

	if wasActive {
		m.logger.Info("sync session stopped")
		m.emit()
	}
}

// OnStateChange is called by the store after every accepted transition. A
// positive suppression counter means the change came from an inbound event;
// otherwise a persist pass is (re)scheduled after the debounce window.
func (m *Manager) OnStateChange(s finance.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = s

	if m.suppress > 0 {
		m.suppress--
		return
	}

	if m.userID == "" {
		return
	}

	if m.timer != nil {
		m.timer.Stop()
	}

	gen := m.gen
	m.timer = m.clock.AfterFunc(m.debounce, func() { m.persist(gen) })
}

// SyncDelete tombstones table:id and queues its DELETE. The queue flushes it
// right away when online.
func (m *Manager) SyncDelete(table finance.Table, id string) {
	m.mu.Lock()
	userID := m.userID
	delete(m.synced, finance.Key(table, id))
	m.mu.Unlock()

	m.q.Tombstone(table, id)
	m.q.Enqueue(queue.OpDelete, table, remote.Row{"id": id, "user_id": userID}, userID)
}

// SyncRestore reverts a local delete. The record is re-upserted by the next
// persist pass in case its DELETE already reached the remote.
func (m *Manager) SyncRestore(table finance.Table, id string) {
	m.mu.Lock()
	delete(m.synced, finance.Key(table, id))
	m.mu.Unlock()

	m.q.Restore(table, id)
}

// FlushNow runs a persist pass immediately instead of waiting for the
// debounce timer.
func (m *Manager) FlushNow() queue.FlushResult {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	gen := m.gen
	m.mu.Unlock()

	return m.persist(gen)
}

// persist enqueues the profile row and every non-tombstoned entity that changed
// since it was last synced, then flushes the queue.
func (m *Manager) persist(gen int) queue.FlushResult {
	m.mu.Lock()

	if m.gen != gen || m.userID == "" {
		m.mu.Unlock()
		return queue.FlushResult{Skipped: true}
	}

	m.timer = nil
	userID := m.userID
	st := m.latest
	ctx := m.ctx
	m.persisting = true
	m.state = StateSyncing

	type op struct {
		table finance.Table
		row   remote.Row
	}

	var ops []op

	if !m.profileSent || m.profileAt != st.Profile.UpdatedAt {
		m.profileAt = st.Profile.UpdatedAt
		m.profileSent = true
		ops = append(ops, op{
			table: finance.TableProfiles,
			row: mapper.ProfileToRemote(mapper.ProfileRecord{
				Profile:      st.Profile,
				Gamification: st.Gamification,
				Envelopes:    st.Envelopes,
			}, userID),
		})
	}

	for _, t := range finance.EntityTables {
		for _, e := range st.Entities(t) {
			key := finance.Key(t, e.EntityID())

			if m.q.IsTombstoned(t, e.EntityID()) {
				continue
			}

			if s, ok := m.synced[key]; ok && s == e.EntityStamp() {
				continue
			}

			row, err := m.mapper.ToRemote(e, userID)
			if err != nil {
				m.logger.Error("failed to map record", "key", key, "error", err)
				continue
			}

			m.synced[key] = e.EntityStamp()
			ops = append(ops, op{table: t, row: row})
		}
	}
	m.mu.Unlock()

	m.emit()

	for _, o := range ops {
		m.q.Stage(queue.OpUpsert, o.table, o.row, userID)
	}

	res := m.q.Flush(ctx, nil)

	m.mu.Lock()
	m.persisting = false
	qs := m.q.Status()

	switch {
	case qs.Flushing:
		m.state = StateSyncing
	case qs.Failed:
		m.state = StateError
	default:
		m.state = StateIdle
	}

	if !res.Skipped && res.Failed == 0 {
		m.lastSyncAt = clock.Millis(m.clock)
	}
	m.mu.Unlock()

	m.emit()

	return res
}

// onDrop re-arms a dropped upsert so the next persist pass queues it again.
func (m *Manager) onDrop(e queue.Entry) {
	if e.Operation != queue.OpUpsert {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Table == finance.TableProfiles {
		m.profileSent = false
		return
	}

	delete(m.synced, e.Key())
}

func (m *Manager) onQueueStatus(st queue.Status) {
	m.mu.Lock()

	switch {
	case st.Flushing:
		m.state = StateSyncing
	case m.persisting:
	case st.Failed:
		m.state = StateError
	default:
		if m.state == StateSyncing {
			m.lastSyncAt = clock.Millis(m.clock)
		}

		m.state = StateIdle
	}
	m.mu.Unlock()

	m.emit()
}

func (m *Manager) markAllSyncedLocked(s finance.State) {
	m.profileAt = s.Profile.UpdatedAt
	m.profileSent = true

	for _, t := range finance.EntityTables {
		for _, e := range s.Entities(t) {
			m.synced[finance.Key(t, e.EntityID())] = e.EntityStamp()
		}
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, UserID: m.userID, LastSyncAt: m.lastSyncAt}
	m.mu.Unlock()

	qs := m.q.Status()
	st.Pending = qs.Size
	st.Online = m.q.Online()
	st.Tombstones = m.q.Tombstones()

	return st
}

// SubscribeStatus registers fn for status changes and returns its cancel func.
func (m *Manager) SubscribeStatus(fn func(Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.statusSubs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.statusSubs, id)
	}
}

func (m *Manager) emit() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.statusSubs))

	for id := range m.statusSubs {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	fns := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.statusSubs[id])
	}
	m.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	st := m.Status()
	for _, fn := range fns {
		fn(st)
	}
}
