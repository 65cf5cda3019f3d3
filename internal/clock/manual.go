package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Clock for tests. Time only moves when Advance or
// Sleep is called; timers fire synchronously inside Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
	sleeps []time.Duration
}

type manualTimer struct {
	c       *Manual
	id      int
	at      time.Time
	f       func()
	stopped bool
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{c: m, id: m.seq, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)

	return t
}

// Sleep records the requested duration and advances the clock by it.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.sleeps = append(m.sleeps, d)
	m.mu.Unlock()

	m.Advance(d)

	return nil
}

// Sleeps returns every duration passed to Sleep so far.
func (m *Manual) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]time.Duration(nil), m.sleeps...)
}

// Pending reports the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}

	return n
}

// Advance moves the clock forward and runs every timer that became due, in
// deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	var due []*manualTimer

	kept := m.timers[:0]

	for _, t := range m.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}

	m.timers = kept
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}

		return due[i].at.Before(due[j].at)
	})

	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()

	if t.stopped {
		return false
	}

	t.stopped = true

	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}

	return false
}

// SeqIDs hands out predictable ids ("<prefix>-1", "<prefix>-2", ...).
type SeqIDs struct {
	mu     sync.Mutex
	Prefix string
	n      int
}

func (s *SeqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.n++

	prefix := s.Prefix
	if prefix == "" {
		prefix = "id"
	}

	return fmt.Sprintf("%s-%d", prefix, s.n)
}
