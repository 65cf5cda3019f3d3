// Package store is the single writer of the in-memory dataset. Every accepted
// action is persisted locally and handed to the sync pipeline in dispatch
// order.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
)

var (
	// ErrInvalidAction marks a rejected action; state is left untouched.
	ErrInvalidAction = errors.New("invalid action")
	ErrNotFound      = errors.New("record not found")
	ErrNothingToUndo = errors.New("nothing to undo")
)

const DefaultUndoDepth = 10

// Syncer receives the outbound side effects of accepted actions. All methods
// are called with the store locked, in dispatch order.
type Syncer interface {
	OnStateChange(s finance.State)
	SyncDelete(table finance.Table, id string)
	SyncRestore(table finance.Table, id string)
}

type nopSyncer struct{}

func (nopSyncer) OnStateChange(finance.State) {}
func (nopSyncer) SyncDelete(finance.Table, string) {}
func (nopSyncer) SyncRestore(finance.Table, string) {}

// UndoFrame captures a deleted record and where it was.
type UndoFrame struct {
	Kind      string         `json:"kind"`
	Table     finance.Table  `json:"table"`
	Data      finance.Entity `json:"data"`
	Index     int            `json:"index"`
	Timestamp int64          `json:"timestamp"`
}

type Options struct {
	Logger    *slog.Logger
	UndoDepth int
	// Location decides calendar days for dates and routine completions.
	Location *time.Location
}

type Store struct {
	kv       localstore.KV
	clock    clock.Clock
	ids      clock.IDSource
	logger   *slog.Logger
	loc      *time.Location
	depth    int
	validate *validator.Validate
	policy   *bluemonday.Policy

	mu        sync.Mutex
	state     finance.State
	syncer    Syncer
	undo      []UndoFrame
	listeners map[int]func(finance.State)
	completed map[int]func(finance.Goal)
	nextID    int
}

func New(kv localstore.KV, c clock.Clock, ids clock.IDSource, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.UndoDepth <= 0 {
		opts.UndoDepth = DefaultUndoDepth
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := &Store{
		kv:        kv,
		clock:     c,
		ids:       ids,
		logger:    opts.Logger.With("component", "store"),
		loc:       opts.Location,
		depth:     opts.UndoDepth,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		policy:    bluemonday.StrictPolicy(),
		syncer:    nopSyncer{},
		listeners: make(map[int]func(finance.State)),
		completed: make(map[int]func(finance.Goal)),
	}
	s.state.Profile.ApplyDefaults()

	return s
}

// SetSyncer attaches the sync pipeline. A nil syncer detaches it.
func (s *Store) SetSyncer(sy Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sy == nil {
		sy = nopSyncer{}
	}

	s.syncer = sy
}

// State returns the current snapshot.
func (s *Store) State() finance.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// UndoFrames returns the undo stack, most recent last.
func (s *Store) UndoFrames() []UndoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]UndoFrame(nil), s.undo...)
}

// Subscribe registers fn for every accepted transition. fn runs after the
// store is unlocked and may dispatch.
func (s *Store) Subscribe(fn func(finance.State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.listeners, id)
	}
}

// OnGoalCompleted registers fn for goals whose target is reached by
// ADD_SAVINGS_TO_GOAL.
func (s *Store) OnGoalCompleted(fn func(finance.Goal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.completed[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.completed, id)
	}
}

// Dispatch applies a. Rejected actions return an error wrapping
// ErrInvalidAction, ErrNotFound or ErrNothingToUndo and have no effect.
func (s *Store) Dispatch(a Action) error {
	s.mu.Lock()

	r := s.reducer()

	next, fx, err := r.reduce(s.state, a)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.state = next

	if err := localstore.SaveState(s.kv, next); err != nil {
		s.logger.Error("failed to persist state", "error", err, "action", a.Type())
	}

	if _, ok := a.(LoadData); ok {
		s.undo = nil
	}

	if fx.undo != nil {
		s.undo = append(s.undo, *fx.undo)
		if len(s.undo) > s.depth {
			s.undo = s.undo[len(s.undo)-s.depth:]
		}
	}

	if fx.popUndo {
		s.undo = s.undo[:len(s.undo)-1]
	}

	for _, ref := range fx.deleted {
		s.syncer.SyncDelete(ref.table, ref.id)
	}

	for _, ref := range fx.restored {
		s.syncer.SyncRestore(ref.table, ref.id)
	}

	s.syncer.OnStateChange(next)

	listeners := sortedFuncs(s.listeners)
	completed := sortedFuncs(s.completed)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}

	for _, g := range fx.completedGoals {
		s.logger.Info("goal completed", "goal_id", g.ID, "target", g.TargetAmount.String())

		for _, fn := range completed {
			fn(g)
		}
	}

	return nil
}

func (s *Store) reducer() *reducer {
	return &reducer{
		now:      clock.Millis(s.clock),
		today:    clock.Day(s.clock, s.loc),
		ids:      s.ids,
		validate: s.validate,
		policy:   s.policy,
		undo:     s.undo,
	}
}

func sortedFuncs[F any](m map[int]F) []F {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	out := make([]F, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}

	return out
}
