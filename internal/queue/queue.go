// Package queue is the durable write-ahead queue of outbound operations. It
// deduplicates per (table, id, operation), lets deletes absorb pending
// upserts, retries failed sends with exponential backoff and keeps the
// tombstone set that stops deleted records from being re-upserted.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	TombstoneGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		BaseDelay:      time.Second,
		TombstoneGrace: 30 * time.Second,
	}
}

// tombstone is pending while timer is nil; once its DELETE has been flushed a
// grace timer clears it.
type tombstone struct {
	timer clock.Timer
}

type Queue struct {
	kv     localstore.KV
	clock  clock.Clock
	ids    clock.IDSource
	logger *slog.Logger
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	entries    []Entry
	tombstones map[string]*tombstone
	online     bool
	client     remote.Writer
	flushing   bool
	rerun      bool
	failed     bool
	onDrop     func(Entry)
	subs       map[int]func(Status)
	nextSub    int
}

// New restores the persisted queue from kv. Pending DELETEs re-arm their
// tombstones. The queue starts offline.
func New(kv localstore.KV, cfg Config, c clock.Clock, ids clock.IDSource, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		kv:         kv,
		clock:      c,
		ids:        ids,
		logger:     logger.With("component", "queue"),
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		tombstones: make(map[string]*tombstone),
		subs:       make(map[int]func(Status)),
	}

	var entries []Entry
	if _, err := localstore.GetJSON(kv, localstore.KeyWriteQueue, &entries); err != nil {
		q.logger.Error("failed to restore write queue, starting empty", "error", err)
	}

	for _, e := range entries {
		if e.ID == "" || e.Table == "" || e.Payload == nil {
			continue
		}

		q.entries = append(q.entries, e)

		if e.Operation == OpDelete {
			q.tombstones[e.Key()] = &tombstone{}
		}
	}

	return q
}

// Close stops background flushes and tombstone timers.
func (q *Queue) Close() {
	q.cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tombstones {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
}

// SetOnDrop registers fn to be called for each entry dropped after exhausting
// its retries.
func (q *Queue) SetOnDrop(fn func(Entry)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onDrop = fn
}

// SetClient caches the remote writer used by automatic flushes.
func (q *Queue) SetClient(c remote.Writer) {
	q.mu.Lock()
	q.client = c
	kick := q.online && c != nil && len(q.entries) > 0
	q.mu.Unlock()

	if kick {
		q.kick()
	}
}

// SetOnline records the connectivity signal. Going online with pending
// entries triggers a flush.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	kick := online && !was && q.client != nil && len(q.entries) > 0
	q.mu.Unlock()

	if was != online {
		q.logger.Info("connectivity changed", "online", online)
	}

	if kick {
		q.kick()
	}
}

func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.online
}

// Enqueue adds an operation for payload and, when online with a cached
// client, triggers a background flush. Operations without a user are dropped;
// the data stays in local state.
func (q *Queue) Enqueue(op Operation, table finance.Table, payload remote.Row, userID string) {
	q.enqueue(op, table, payload, userID, true)
}

// Stage is Enqueue without the automatic flush, for callers that flush
// themselves right after a batch.
func (q *Queue) Stage(op Operation, table finance.Table, payload remote.Row, userID string) {
	q.enqueue(op, table, payload, userID, false)
}

func (q *Queue) enqueue(op Operation, table finance.Table, payload remote.Row, userID string, autoFlush bool) {
	if userID == "" {
		q.logger.Warn("dropping operation without authenticated user", "operation", op, "table", table)
		return
	}

	e := Entry{
		ID:        q.ids.NewID(),
		Operation: op,
		Table:     table,
		Payload:   payload.Clone(),
		UserID:    userID,
		CreatedAt: clock.Millis(q.clock),
	}
	key := e.Key()

	q.mu.Lock()

	if op == OpUpsert {
		if _, ok := q.tombstones[key]; ok {
			q.mu.Unlock()
			q.logger.Debug("suppressing upsert of deleted record", "key", key)

			return
		}
	}

	if op == OpDelete {
		q.entries = slices.DeleteFunc(q.entries, func(p Entry) bool {
			return p.Operation == OpUpsert && p.Key() == key
		})
		q.setTombstoneLocked(key)
	}

	replaced := false

	for i, p := range q.entries {
		if p.Operation == op && p.Key() == key {
			e.CreatedAt = p.CreatedAt
			q.entries[i] = e
			replaced = true

			break
		}
	}

	if !replaced {
		q.entries = append(q.entries, e)
	}

	q.persistLocked()

	kick := autoFlush && q.online && q.client != nil
	if q.flushing {
		q.rerun = true
		kick = false
	}
	q.mu.Unlock()

	q.emit()

	if kick {
		q.kick()
	}
}

// Tombstone marks table:id deleted until its DELETE is flushed and the grace
// period has passed.
func (q *Queue) Tombstone(table finance.Table, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.setTombstoneLocked(finance.Key(table, id))
}

func (q *Queue) setTombstoneLocked(key string) {
	if t, ok := q.tombstones[key]; ok {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}

		return
	}

	q.tombstones[key] = &tombstone{}
}

func (q *Queue) IsTombstoned(table finance.Table, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.tombstones[finance.Key(table, id)]

	return ok
}

// Tombstones returns the tombstoned keys, sorted.
func (q *Queue) Tombstones() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, 0, len(q.tombstones))
	for k := range q.tombstones {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Restore undoes a local delete: the pending DELETE and the tombstone for
// table:id are dropped.
func (q *Queue) Restore(table finance.Table, id string) {
	key := finance.Key(table, id)

	q.mu.Lock()

	if t, ok := q.tombstones[key]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}

		delete(q.tombstones, key)
	}

	n := len(q.entries)
	q.entries = slices.DeleteFunc(q.entries, func(e Entry) bool {
		return e.Operation == OpDelete && e.Key() == key
	})
	changed := n != len(q.entries)

	if changed {
		q.persistLocked()
	}
	q.mu.Unlock()

	if changed {
		q.emit()
	}
}

// Entries returns a copy of the pending entries in FIFO order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.entries)
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	return Status{Size: len(q.entries), Flushing: q.flushing, Failed: q.failed}
}

// Subscribe registers fn for status changes and returns its cancel func.
func (q *Queue) Subscribe(fn func(Status)) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		delete(q.subs, id)
	}
}

func (q *Queue) emit() {
	q.mu.Lock()
	st := q.statusLocked()
	subs := make([]func(Status), 0, len(q.subs))

	ids := make([]int, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	for _, id := range ids {
		subs = append(subs, q.subs[id])
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// persistLocked writes the queue; failures are logged and swallowed.
func (q *Queue) persistLocked() {
	entries := q.entries
	if entries == nil {
		entries = []Entry{}
	}

	if err := localstore.SetJSON(q.kv, localstore.KeyWriteQueue, entries); err != nil {
		q.logger.Error("failed to persist write queue", "error", err, "size", len(entries))
	}
}

func (q *Queue) kick() {
	go q.Flush(q.ctx, nil)
}

func (q *Queue) clearTombstone(key string, t *tombstone) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cur, ok := q.tombstones[key]; ok && cur == t {
		delete(q.tombstones, key)
	}
}

func isGone(err error) bool {
	return errors.Is(err, remote.ErrNotFound)
}
