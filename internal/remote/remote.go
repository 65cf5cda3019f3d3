// Package remote defines the contract of the authoritative remote store: an
// authenticated, user-scoped CRUD surface with per-table change feeds.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

var (
	// ErrSchemaAbsent means the table is not provisioned remotely. Callers
	// treat it as "no remote data for this collection".
	ErrSchemaAbsent = errors.New("remote table not provisioned")
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("remote row not found")
	// ErrUnauthenticated means there is no signed-in user.
	ErrUnauthenticated = errors.New("not authenticated")
)

// Row is a record in its remote, snake_case representation.
type Row map[string]any

// ID returns the row's "id" column as a string.
func (r Row) ID() string {
	return r.String("id")
}

// String returns column k if it holds a non-empty string.
func (r Row) String(k string) string {
	switch v := r[k].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Clone returns a shallow copy of r. A nil row stays nil.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}

	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// ConflictKey is the upsert conflict column of t.
func ConflictKey(t finance.Table) string {
	if t == finance.TableProfiles {
		return "user_id"
	}

	return "id"
}

// RowKey returns the identity of row within t: its id, or the owning user for
// the profile singleton.
func RowKey(t finance.Table, row Row) string {
	return row.String(ConflictKey(t))
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a change notification for one row.
type Event struct {
	Type  EventType
	Table finance.Table
	New   Row
	Old   Row
}

// Handler receives change events. It is called from the subscription's own
// goroutine.
type Handler func(Event)

// Subscription is a cancellation handle for a change feed.
type Subscription interface {
	Unsubscribe() error
}

// Writer is the outbound half used by the write queue.
type Writer interface {
	Upsert(ctx context.Context, table finance.Table, row Row) error
	Delete(ctx context.Context, table finance.Table, id, userID string) error
}

// Reader is the read half used by hydration.
type Reader interface {
	Select(ctx context.Context, table finance.Table, userID string) ([]Row, error)
}

// Subscriber opens per-table change feeds filtered to one user.
type Subscriber interface {
	Subscribe(ctx context.Context, table finance.Table, userID string, h Handler) (Subscription, error)
}

//go:generate mockgen -source=remote.go -destination=client_mock.go -package=remote
type Client interface {
	Writer
	Reader
	Subscriber
	Ping(ctx context.Context) error
}

// User is an authenticated identity.
type User struct {
	ID string
}

// Auth exposes the session state of the remote.
type Auth interface {
	CurrentUser() (User, bool)
	// OnChange registers cb for session changes and returns a cancel func.
	OnChange(cb func(User, bool)) func()
}
