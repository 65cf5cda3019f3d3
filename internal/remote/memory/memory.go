// Package memory is an in-process remote shared by any number of clients.
// Writes are broadcast synchronously to every online subscriber of the same
// user, the writer included, the way a realtime backend echoes changes.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

// ErrOffline is returned by a client whose network is switched off.
var ErrOffline = errors.New("remote unreachable")

type subscription struct {
	client *Client
	table  finance.Table
	userID string
	h      remote.Handler
}

type Backend struct {
	mu     sync.Mutex
	rows   map[finance.Table]map[string]remote.Row
	absent map[finance.Table]bool
	subs   map[int]subscription
	nextID int
}

func NewBackend() *Backend {
	return &Backend{
		rows:   make(map[finance.Table]map[string]remote.Row),
		absent: make(map[finance.Table]bool),
		subs:   make(map[int]subscription),
	}
}

// Unprovision makes every operation on table fail with remote.ErrSchemaAbsent.
func (b *Backend) Unprovision(table finance.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.absent[table] = true
}

// Rows returns a copy of every row of table, across users.
func (b *Backend) Rows(table finance.Table) []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]remote.Row, 0, len(b.rows[table]))
	for _, r := range b.rows[table] {
		out = append(out, r.Clone())
	}

	sortRows(out)

	return out
}

// Row looks up one row by its conflict key.
func (b *Backend) Row(table finance.Table, userID, key string) (remote.Row, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rows[table][rowKey(userID, key)]
	if !ok {
		return nil, false
	}

	return r.Clone(), true
}

// Client returns a new device attached to the backend.
func (b *Backend) Client() *Client {
	return &Client{b: b}
}

func rowKey(userID, key string) string {
	return userID + "/" + key
}

// normalize round-trips a row through JSON so stored values look like decoded
// wire data.
func normalize(row remote.Row) (remote.Row, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}

	var out remote.Row
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}

	return out, nil
}

func sortRows(rows []remote.Row) {
	created := func(r remote.Row) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, r.String("created_at"))
		return t
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := created(rows[i]), created(rows[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}

		return rows[i].ID() < rows[j].ID()
	})
}

func (b *Backend) upsert(table finance.Table, row remote.Row) error {
	userID := row.String("user_id")
	key := remote.RowKey(table, row)

	if userID == "" || key == "" {
		return fmt.Errorf("upserting into %s: missing user_id or %s", table, remote.ConflictKey(table))
	}

	stored, err := normalize(row)
	if err != nil {
		return err
	}

	b.mu.Lock()

	if b.absent[table] {
		b.mu.Unlock()
		return fmt.Errorf("upserting into %s: %w", table, remote.ErrSchemaAbsent)
	}

	if b.rows[table] == nil {
		b.rows[table] = make(map[string]remote.Row)
	}

	old, existed := b.rows[table][rowKey(userID, key)]
	b.rows[table][rowKey(userID, key)] = stored

	ev := remote.Event{Type: remote.EventInsert, Table: table, New: stored.Clone()}
	if existed {
		ev.Type = remote.EventUpdate
		ev.Old = old.Clone()
	}

	targets := b.targetsLocked(table, userID)
	b.mu.Unlock()

	deliver(targets, ev)

	return nil
}

func (b *Backend) delete(table finance.Table, id, userID string) error {
	b.mu.Lock()

	if b.absent[table] {
		b.mu.Unlock()
		return fmt.Errorf("deleting from %s: %w", table, remote.ErrSchemaAbsent)
	}

	old, ok := b.rows[table][rowKey(userID, id)]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("deleting %s from %s: %w", id, table, remote.ErrNotFound)
	}

	delete(b.rows[table], rowKey(userID, id))

	targets := b.targetsLocked(table, userID)
	b.mu.Unlock()

	deliver(targets, remote.Event{Type: remote.EventDelete, Table: table, Old: old.Clone()})

	return nil
}

func (b *Backend) selectRows(table finance.Table, userID string) ([]remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.absent[table] {
		return nil, fmt.Errorf("selecting from %s: %w", table, remote.ErrSchemaAbsent)
	}

	var out []remote.Row

	for _, r := range b.rows[table] {
		if r.String("user_id") == userID {
			out = append(out, r.Clone())
		}
	}

	sortRows(out)

	return out, nil
}

func (b *Backend) targetsLocked(table finance.Table, userID string) []remote.Handler {
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	var out []remote.Handler

	for _, id := range ids {
		s := b.subs[id]
		if s.table == table && s.userID == userID && !s.client.Offline() {
			out = append(out, s.h)
		}
	}

	return out
}

func deliver(targets []remote.Handler, ev remote.Event) {
	for _, h := range targets {
		h(remote.Event{Type: ev.Type, Table: ev.Table, New: ev.New.Clone(), Old: ev.Old.Clone()})
	}
}
