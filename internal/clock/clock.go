package clock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock is the only source of wall-clock time and timers for the sync core.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(ctx context.Context, d time.Duration) error
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// IDSource hands out opaque, collision-resistant identifiers.
type IDSource interface {
	NewID() string
}

// Millis returns the clock reading as milliseconds since the Unix epoch.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}

type system struct{}

// System returns the process wall clock.
func System() Clock {
	return system{}
}

func (system) Now() time.Time { return time.Now() }

func (system) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (system) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UUIDs generates random (v4) UUID strings.
type UUIDs struct{}

func (UUIDs) NewID() string {
	return uuid.NewString()
}

// Day returns the ISO calendar day (YYYY-MM-DD) of c's reading in loc. A nil
// loc means UTC.
func Day(c Clock, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	return c.Now().In(loc).Format(time.DateOnly)
}
