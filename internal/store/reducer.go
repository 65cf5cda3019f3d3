package store

import (
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

type ref struct {
	table finance.Table
	id    string
}

// effects are the side effects of one transition, run by Dispatch once the
// new state is in place.
type effects struct {
	deleted        []ref
	restored       []ref
	undo           *UndoFrame
	popUndo        bool
	completedGoals []finance.Goal
}

type reducer struct {
	now      int64
	today    string
	ids      clock.IDSource
	validate *validator.Validate
	policy   *bluemonday.Policy
	undo     []UndoFrame
}

type accessor[T finance.Entity] struct {
	table finance.Table
	get   func(finance.State) []T
	set   func(*finance.State, []T)
}

var (
	goals = accessor[finance.Goal]{
		table: finance.TableGoals,
		get:   func(s finance.State) []finance.Goal { return s.Goals },
		set:   func(s *finance.State, v []finance.Goal) { s.Goals = v },
	}
	transactions = accessor[finance.Transaction]{
		table: finance.TableTransactions,
		get:   func(s finance.State) []finance.Transaction { return s.Transactions },
		set:   func(s *finance.State, v []finance.Transaction) { s.Transactions = v },
	}
	routines = accessor[finance.Routine]{
		table: finance.TableRoutines,
		get:   func(s finance.State) []finance.Routine { return s.Routines },
		set:   func(s *finance.State, v []finance.Routine) { s.Routines = v },
	}
	fixedExpenses = accessor[finance.FixedExpense]{
		table: finance.TableFixedExpenses,
		get:   func(s finance.State) []finance.FixedExpense { return s.FixedExpenses },
		set:   func(s *finance.State, v []finance.FixedExpense) { s.FixedExpenses = v },
	}
)

func (r *reducer) reduce(st finance.State, a Action) (finance.State, effects, error) {
	var fx effects

	switch a := a.(type) {
	case AddGoal:
		next, err := add(st, goals, a.Goal, r.prepGoal)
		return next, fx, err
	case UpdateGoal:
		next, err := update(st, goals, a.Goal, r.prepGoal)
		return next, fx, err
	case DeleteGoal:
		return remove(r, st, goals, a.ID, a.Type())
	case RestoreGoal:
		return restore(r, st, goals, a.Goal)

	case AddTransaction:
		next, err := add(st, transactions, a.Transaction, r.prepTransaction)
		return next, fx, err
	case UpdateTransaction:
		next, err := update(st, transactions, a.Transaction, r.prepTransaction)
		return next, fx, err
	case DeleteTransaction:
		return remove(r, st, transactions, a.ID, a.Type())
	case RestoreTransaction:
		return restore(r, st, transactions, a.Transaction)

	case AddRoutine:
		next, err := add(st, routines, a.Routine, r.prepRoutine)
		return next, fx, err
	case UpdateRoutine:
		next, err := update(st, routines, a.Routine, r.prepRoutine)
		return next, fx, err
	case DeleteRoutine:
		return remove(r, st, routines, a.ID, a.Type())
	case RestoreRoutine:
		return restore(r, st, routines, a.Routine)
	case CompleteRoutine:
		next, err := r.completeRoutine(st, a)
		return next, fx, err

	case AddFixedExpense:
		next, err := add(st, fixedExpenses, a.FixedExpense, r.prepFixedExpense)
		return next, fx, err
	case UpdateFixedExpense:
		next, err := update(st, fixedExpenses, a.FixedExpense, r.prepFixedExpense)
		return next, fx, err
	case DeleteFixedExpense:
		return remove(r, st, fixedExpenses, a.ID, a.Type())
	case RestoreFixedExpense:
		return restore(r, st, fixedExpenses, a.FixedExpense)
	case ToggleFixedExpense:
		next, err := modify(st, fixedExpenses, a.ID, func(e *finance.FixedExpense, prev finance.Entity) error {
			e.Active = !e.Active
			r.stamp(expenseMeta(e), prev)

			return nil
		})

		return next, fx, err

	case AddSavingsToGoal:
		return r.addSavings(st, a)

	case UpdateProfile:
		next, err := r.updateProfile(st, a.Profile)
		return next, fx, err
	case SetEnvelopes:
		next, err := r.setEnvelopes(st, a.Envelopes)
		return next, fx, err

	case SyncUpsert:
		next, err := syncUpsert(st, a)
		return next, fx, err
	case SyncRemove:
		next, err := syncRemove(st, a)
		return next, fx, err
	case SyncProfile:
		return syncProfile(st, a), fx, nil

	case LoadData:
		next := a.State
		next.Profile.ApplyDefaults()

		return next, fx, nil
	case AddXP:
		next, err := r.addXP(st, a)
		return next, fx, err
	case UndoLast:
		return r.undoLast(st)
	default:
		return st, fx, fmt.Errorf("%w: unsupported action %T", ErrInvalidAction, a)
	}
}

// clean strips markup. Entities are decoded for readability unless decoding
// would yield markup again, in which case the escaped form is kept.
func (r *reducer) clean(s string) string {
	safe := r.policy.Sanitize(s)

	plain := html.UnescapeString(safe)
	if strings.ContainsAny(plain, "<>") {
		return strings.TrimSpace(r.policy.Sanitize(plain))
	}

	return strings.TrimSpace(plain)
}

func (r *reducer) check(v any) error {
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}

	return nil
}

type meta struct {
	id      *string
	version *int
	created *int64
	updated *int64
}

func goalMeta(g *finance.Goal) meta {
	return meta{&g.ID, &g.Version, &g.CreatedAt, &g.UpdatedAt}
}

func transactionMeta(t *finance.Transaction) meta {
	return meta{&t.ID, &t.Version, &t.CreatedAt, &t.UpdatedAt}
}

func routineMeta(rt *finance.Routine) meta {
	return meta{&rt.ID, &rt.Version, &rt.CreatedAt, &rt.UpdatedAt}
}

func expenseMeta(e *finance.FixedExpense) meta {
	return meta{&e.ID, &e.Version, &e.CreatedAt, &e.UpdatedAt}
}

// stamp assigns identity and ordering. New records get an id if missing and
// version 1; updates keep id and createdAt, bump the version and never move
// updatedAt backwards.
func (r *reducer) stamp(m meta, prev finance.Entity) {
	if prev == nil {
		if *m.id == "" {
			*m.id = r.ids.NewID()
		}

		if *m.created == 0 {
			*m.created = r.now
		}

		*m.version = 1
		*m.updated = r.now

		return
	}

	ps := prev.EntityStamp()
	*m.id = prev.EntityID()
	*m.created = prev.Created()
	*m.version = ps.Version + 1
	*m.updated = max(r.now, ps.UpdatedAt)
}

func (r *reducer) prepGoal(g *finance.Goal, prev finance.Entity) error {
	g.Name = r.clean(g.Name)
	g.Description = r.clean(g.Description)
	g.ApplyDefaults()
	r.stamp(goalMeta(g), prev)

	return r.check(g)
}

func (r *reducer) prepTransaction(t *finance.Transaction, prev finance.Entity) error {
	t.Category = r.clean(t.Category)
	t.Note = r.clean(t.Note)
	t.DecisionType = r.clean(t.DecisionType)
	t.ApplyDefaults(r.today)
	r.stamp(transactionMeta(t), prev)

	return r.check(t)
}

func (r *reducer) prepRoutine(rt *finance.Routine, prev finance.Entity) error {
	rt.Name = r.clean(rt.Name)
	rt.Objective = r.clean(rt.Objective)
	rt.CompletedDates = slices.Clone(rt.CompletedDates)
	rt.ApplyDefaults()
	r.stamp(routineMeta(rt), prev)

	return r.check(rt)
}

func (r *reducer) prepFixedExpense(e *finance.FixedExpense, prev finance.Entity) error {
	e.Name = r.clean(e.Name)
	e.Category = r.clean(e.Category)
	e.ApplyDefaults()
	r.stamp(expenseMeta(e), prev)

	return r.check(e)
}

func indexOf[T finance.Entity](list []T, id string) int {
	return slices.IndexFunc(list, func(e T) bool { return e.EntityID() == id })
}

func add[T finance.Entity](st finance.State, acc accessor[T], item T, prep func(*T, finance.Entity) error) (finance.State, error) {
	if err := prep(&item, nil); err != nil {
		return st, err
	}

	list := acc.get(st)
	if indexOf(list, item.EntityID()) >= 0 {
		return st, fmt.Errorf("%w: %s %q already exists", ErrInvalidAction, acc.table, item.EntityID())
	}

	acc.set(&st, append(slices.Clone(list), item))

	return st, nil
}

func update[T finance.Entity](st finance.State, acc accessor[T], item T, prep func(*T, finance.Entity) error) (finance.State, error) {
	return modify(st, acc, item.EntityID(), func(cur *T, prev finance.Entity) error {
		*cur = item
		return prep(cur, prev)
	})
}

// modify replaces the record id with the result of fn applied to a copy.
func modify[T finance.Entity](st finance.State, acc accessor[T], id string, fn func(*T, finance.Entity) error) (finance.State, error) {
	list := acc.get(st)

	i := indexOf(list, id)
	if id == "" || i < 0 {
		return st, fmt.Errorf("%w: %s %q", ErrNotFound, acc.table, id)
	}

	item := list[i]
	if err := fn(&item, list[i]); err != nil {
		return st, err
	}

	out := slices.Clone(list)
	out[i] = item
	acc.set(&st, out)

	return st, nil
}

func remove[T finance.Entity](r *reducer, st finance.State, acc accessor[T], id, kind string) (finance.State, effects, error) {
	list := acc.get(st)

	i := indexOf(list, id)
	if id == "" || i < 0 {
		return st, effects{}, fmt.Errorf("%w: %s %q", ErrNotFound, acc.table, id)
	}

	item := list[i]
	acc.set(&st, slices.Delete(slices.Clone(list), i, i+1))

	return st, effects{
		deleted: []ref{{acc.table, id}},
		undo:    &UndoFrame{Kind: kind, Table: acc.table, Data: item, Index: i, Timestamp: r.now},
	}, nil
}

func restore[T finance.Entity](r *reducer, st finance.State, acc accessor[T], item T) (finance.State, effects, error) {
	if err := r.check(item); err != nil {
		return st, effects{}, err
	}

	next, err := insert(st, acc, item, -1)
	if err != nil {
		return st, effects{}, err
	}

	return next, effects{restored: []ref{{acc.table, item.EntityID()}}}, nil
}

// insert puts item back at index (clamped; negative appends).
func insert[T finance.Entity](st finance.State, acc accessor[T], item T, index int) (finance.State, error) {
	id := item.EntityID()
	if id == "" {
		return st, fmt.Errorf("%w: %s record without id", ErrInvalidAction, acc.table)
	}

	list := acc.get(st)
	if indexOf(list, id) >= 0 {
		return st, fmt.Errorf("%w: %s %q already exists", ErrInvalidAction, acc.table, id)
	}

	if index < 0 || index > len(list) {
		index = len(list)
	}

	acc.set(&st, slices.Insert(slices.Clone(list), index, item))

	return st, nil
}

func (r *reducer) completeRoutine(st finance.State, a CompleteRoutine) (finance.State, error) {
	day := a.Day
	if day == "" {
		day = r.today
	}

	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return st, fmt.Errorf("%w: day %q is not an ISO calendar day", ErrInvalidAction, day)
	}

	return modify(st, routines, a.ID, func(rt *finance.Routine, prev finance.Entity) error {
		*rt = rt.Complete(day, r.today)
		r.stamp(routineMeta(rt), prev)

		return nil
	})
}

func (r *reducer) addSavings(st finance.State, a AddSavingsToGoal) (finance.State, effects, error) {
	var fx effects

	if a.Amount <= 0 {
		return st, fx, fmt.Errorf("%w: savings amount must be positive", ErrInvalidAction)
	}

	next, err := modify(st, goals, a.GoalID, func(g *finance.Goal, prev finance.Entity) error {
		before := g.Completed()
		g.CurrentAmount += a.Amount
		r.stamp(goalMeta(g), prev)

		if !before && g.Completed() {
			fx.completedGoals = append(fx.completedGoals, *g)
		}

		return nil
	})

	return next, fx, err
}

func (r *reducer) touchProfile(st *finance.State) {
	st.Profile.UpdatedAt = max(r.now, st.Profile.UpdatedAt)
}

func (r *reducer) updateProfile(st finance.State, p finance.Profile) (finance.State, error) {
	p.Name = r.clean(p.Name)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))

	sources := make([]finance.IncomeSource, 0, len(p.IncomeSources))
	for _, src := range p.IncomeSources {
		src.Name = r.clean(src.Name)
		sources = append(sources, src)
	}

	p.IncomeSources = sources
	p.ApplyDefaults()

	if err := r.check(p); err != nil {
		return st, err
	}

	p.UpdatedAt = st.Profile.UpdatedAt
	st.Profile = p
	r.touchProfile(&st)

	return st, nil
}

func (r *reducer) setEnvelopes(st finance.State, env finance.Envelopes) (finance.State, error) {
	rules := make([]finance.EnvelopeRule, 0, len(env.Rules))

	for _, rule := range env.Rules {
		rule.Name = r.clean(rule.Name)
		rule.Category = r.clean(rule.Category)

		if rule.ID == "" {
			rule.ID = r.ids.NewID()
		}

		rules = append(rules, rule)
	}

	env.Rules = rules

	if err := r.check(env); err != nil {
		return st, err
	}

	st.Envelopes = env
	r.touchProfile(&st)

	return st, nil
}

func (r *reducer) addXP(st finance.State, a AddXP) (finance.State, error) {
	if a.Amount <= 0 {
		return st, fmt.Errorf("%w: xp amount must be positive", ErrInvalidAction)
	}

	g := st.Gamification
	g.TotalXP += a.Amount
	g.XPLog = append(slices.Clone(g.XPLog), finance.XPEntry{Amount: a.Amount, Reason: r.clean(a.Reason), At: r.now})

	if over := len(g.XPLog) - finance.XPLogLimit; over > 0 {
		g.XPLog = g.XPLog[over:]
	}

	st.Gamification = g
	r.touchProfile(&st)

	return st, nil
}

func syncUpsert(st finance.State, a SyncUpsert) (finance.State, error) {
	if a.Item == nil || a.Item.EntityTable() != a.Table {
		return st, fmt.Errorf("%w: sync item does not belong to %s", ErrInvalidAction, a.Table)
	}

	switch it := a.Item.(type) {
	case finance.Goal:
		return replaceUnlessStale(st, goals, it), nil
	case finance.Transaction:
		return replaceUnlessStale(st, transactions, it), nil
	case finance.Routine:
		return replaceUnlessStale(st, routines, it), nil
	case finance.FixedExpense:
		return replaceUnlessStale(st, fixedExpenses, it), nil
	default:
		return st, fmt.Errorf("%w: unsupported sync item %T", ErrInvalidAction, a.Item)
	}
}

func replaceUnlessStale[T finance.Entity](st finance.State, acc accessor[T], item T) finance.State {
	list := acc.get(st)

	i := indexOf(list, item.EntityID())
	if i < 0 {
		acc.set(&st, append(slices.Clone(list), item))
		return st
	}

	if list[i].EntityStamp().Newer(item.EntityStamp()) {
		return st
	}

	out := slices.Clone(list)
	out[i] = item
	acc.set(&st, out)

	return st
}

func syncRemove(st finance.State, a SyncRemove) (finance.State, error) {
	switch a.Table {
	case finance.TableGoals:
		return dropID(st, goals, a.ID), nil
	case finance.TableTransactions:
		return dropID(st, transactions, a.ID), nil
	case finance.TableRoutines:
		return dropID(st, routines, a.ID), nil
	case finance.TableFixedExpenses:
		return dropID(st, fixedExpenses, a.ID), nil
	default:
		return st, fmt.Errorf("%w: cannot remove from %s", ErrInvalidAction, a.Table)
	}
}

func dropID[T finance.Entity](st finance.State, acc accessor[T], id string) finance.State {
	list := acc.get(st)

	i := indexOf(list, id)
	if i < 0 {
		return st
	}

	acc.set(&st, slices.Delete(slices.Clone(list), i, i+1))

	return st
}

// syncProfile applies the remote profile row unless the local one is newer.
func syncProfile(st finance.State, a SyncProfile) finance.State {
	if a.Profile.UpdatedAt < st.Profile.UpdatedAt {
		return st
	}

	st.Profile = a.Profile
	st.Profile.ApplyDefaults()
	st.Gamification = a.Gamification

	if a.HasEnvelopes {
		st.Envelopes = a.Envelopes
	}

	return st
}

func (r *reducer) undoLast(st finance.State) (finance.State, effects, error) {
	if len(r.undo) == 0 {
		return st, effects{}, ErrNothingToUndo
	}

	f := r.undo[len(r.undo)-1]

	var (
		next finance.State
		err  error
	)

	switch it := f.Data.(type) {
	case finance.Goal:
		next, err = insert(st, goals, it, f.Index)
	case finance.Transaction:
		next, err = insert(st, transactions, it, f.Index)
	case finance.Routine:
		next, err = insert(st, routines, it, f.Index)
	case finance.FixedExpense:
		next, err = insert(st, fixedExpenses, it, f.Index)
	default:
		err = fmt.Errorf("%w: unsupported undo frame %T", ErrInvalidAction, f.Data)
	}

	// The record may already be back through sync; the frame is spent either way.
	if err != nil {
		next = st
	}

	return next, effects{
		restored: []ref{{f.Table, f.Data.EntityID()}},
		popUndo:  true,
	}, nil
}
