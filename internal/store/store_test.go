package store_test

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/finnysync/internal/clock"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

type syncCall struct {
	kind  string
	table finance.Table
	id    string
}

type recordingSyncer struct {
	calls   []syncCall
	changes int
}

func (r *recordingSyncer) OnStateChange(finance.State) { r.changes++ }

func (r *recordingSyncer) SyncDelete(t finance.Table, id string) {
	r.calls = append(r.calls, syncCall{"delete", t, id})
}

func (r *recordingSyncer) SyncRestore(t finance.Table, id string) {
	r.calls = append(r.calls, syncCall{"restore", t, id})
}

type fixture struct {
	s      *store.Store
	clock  *clock.Manual
	kv     *localstore.Memory
	syncer *recordingSyncer
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	kv := localstore.NewMemory()
	c := clock.NewManual(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	sy := &recordingSyncer{}

	s := store.New(kv, c, &clock.SeqIDs{Prefix: "id"}, store.Options{Logger: slog.New(slog.DiscardHandler)})
	s.SetSyncer(sy)

	return fixture{s: s, clock: c, kv: kv, syncer: sy}
}

func (f fixture) dispatch(t *testing.T, a store.Action) {
	t.Helper()
	require.NoError(t, f.s.Dispatch(a))
}

func TestAddGoal_AssignsIdentityAndDefaults(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: " <b>Travel</b> ", TargetAmount: 100000}})

	goals := f.s.State().Goals
	require.Len(t, goals, 1)

	g := goals[0]
	assert.Equal(t, "id-1", g.ID)
	assert.Equal(t, "Travel", g.Name)
	assert.Equal(t, finance.PriorityMedium, g.Priority)
	assert.Equal(t, finance.DefaultGoalColor, g.Color)
	assert.Equal(t, 1, g.Version)
	assert.Equal(t, f.clock.Now().UnixMilli(), g.CreatedAt)
	assert.Equal(t, g.CreatedAt, g.UpdatedAt)
	assert.Equal(t, 1, f.syncer.changes)

	stored := localstore.LoadState(f.kv, nil)
	assert.Equal(t, goals, stored.Goals)
}

func TestDispatch_RejectsInvalidActions(t *testing.T) {
	tests := []struct {
		name   string
		action store.Action
		target error
	}{
		{name: "empty goal name", action: store.AddGoal{Goal: finance.Goal{Name: "<script></script>"}}, target: store.ErrInvalidAction},
		{name: "negative amount", action: store.AddTransaction{Transaction: finance.Transaction{Amount: -1}}, target: store.ErrInvalidAction},
		{name: "bad transaction type", action: store.AddTransaction{Transaction: finance.Transaction{Type: "gift"}}, target: store.ErrInvalidAction},
		{name: "bad date", action: store.AddTransaction{Transaction: finance.Transaction{Date: "18/10/2026"}}, target: store.ErrInvalidAction},
		{name: "bad frequency", action: store.AddFixedExpense{FixedExpense: finance.FixedExpense{Name: "x", Frequency: "daily"}}, target: store.ErrInvalidAction},
		{name: "update missing", action: store.UpdateGoal{Goal: finance.Goal{ID: "nope", Name: "x"}}, target: store.ErrNotFound},
		{name: "delete missing", action: store.DeleteGoal{Ref: store.Ref{ID: "nope"}}, target: store.ErrNotFound},
		{name: "zero savings", action: store.AddSavingsToGoal{GoalID: "g1"}, target: store.ErrInvalidAction},
		{name: "undo empty", action: store.UndoLast{}, target: store.ErrNothingToUndo},
		{name: "bad currency", action: store.UpdateProfile{Profile: finance.Profile{Currency: "EURO"}}, target: store.ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.s.State()

			err := f.s.Dispatch(tt.action)

			require.ErrorIs(t, err, tt.target)
			assert.Equal(t, before, f.s.State())
			assert.Zero(t, f.syncer.changes)
		})
	}
}

func TestUpdate_BumpsVersionAndKeepsUpdatedAtMonotonic(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Car", TargetAmount: 1000}})
	created := f.s.State().Goals[0]

	f.clock.Advance(time.Minute)
	f.dispatch(t, store.UpdateGoal{Goal: finance.Goal{ID: "g1", Name: "Car", TargetAmount: 20000}})

	g := f.s.State().Goals[0]
	assert.Equal(t, money.Amount(20000), g.TargetAmount)
	assert.Equal(t, 2, g.Version)
	assert.Equal(t, created.CreatedAt, g.CreatedAt)
	assert.Equal(t, created.UpdatedAt+time.Minute.Milliseconds(), g.UpdatedAt)

	// A clock that steps backwards must not move updatedAt back.
	f.clock.Advance(-time.Hour)
	f.dispatch(t, store.UpdateGoal{Goal: finance.Goal{ID: "g1", Name: "Car 2"}})
	assert.Equal(t, g.UpdatedAt, f.s.State().Goals[0].UpdatedAt)
}

func TestDelete_PushesUndoAndTombstones(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddTransaction{Transaction: finance.Transaction{ID: "t0", Amount: 100}})
	f.dispatch(t, store.AddTransaction{Transaction: finance.Transaction{ID: "t1", Amount: 5000}})
	f.dispatch(t, store.AddTransaction{Transaction: finance.Transaction{ID: "t2", Amount: 200}})
	before := f.s.State().Transactions

	f.dispatch(t, store.DeleteTransaction{Ref: store.Ref{ID: "t1"}})

	assert.Len(t, f.s.State().Transactions, 2)
	assert.Equal(t, []syncCall{{"delete", finance.TableTransactions, "t1"}}, f.syncer.calls)

	frames := f.s.UndoFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, store.TypeDeleteTransaction, frames[0].Kind)
	assert.Equal(t, 1, frames[0].Index)

	f.clock.Advance(time.Hour)
	f.dispatch(t, store.UndoLast{})

	assert.Equal(t, before, f.s.State().Transactions, "undo must restore the same record at the same position")
	assert.Equal(t, syncCall{"restore", finance.TableTransactions, "t1"}, f.syncer.calls[1])
	assert.Empty(t, f.s.UndoFrames())
}

func TestUndo_StackIsBounded(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 12; i++ {
		f.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "g"}})
	}

	for _, g := range f.s.State().Goals {
		f.dispatch(t, store.DeleteGoal{Ref: store.Ref{ID: g.ID}})
	}

	frames := f.s.UndoFrames()
	require.Len(t, frames, store.DefaultUndoDepth)
	assert.Equal(t, "id-3", frames[0].Data.EntityID())
}

func TestCompleteRoutine(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddRoutine{Routine: finance.Routine{ID: "r1", Name: "Log spending", CompletedDates: []string{"2026-10-16", "2026-10-17"}}})
	f.dispatch(t, store.CompleteRoutine{ID: "r1"})
	f.dispatch(t, store.CompleteRoutine{ID: "r1"})

	r := f.s.State().Routines[0]
	assert.Equal(t, []string{"2026-10-16", "2026-10-17", "2026-10-18"}, r.CompletedDates)
	assert.Equal(t, 3, r.Streak)
	assert.Equal(t, 3, r.Version)

	require.ErrorIs(t, f.s.Dispatch(store.CompleteRoutine{ID: "r1", Day: "yesterday"}), store.ErrInvalidAction)
}

func TestCompleteRoutine_BackfillCountsFromToday(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddRoutine{Routine: finance.Routine{ID: "r1", Name: "Log spending"}})
	f.dispatch(t, store.CompleteRoutine{ID: "r1"})
	f.dispatch(t, store.CompleteRoutine{ID: "r1", Day: "2026-10-17"})

	r := f.s.State().Routines[0]
	assert.Equal(t, []string{"2026-10-18", "2026-10-17"}, r.CompletedDates)
	assert.Equal(t, 2, r.Streak)

	f.dispatch(t, store.CompleteRoutine{ID: "r1", Day: "2026-10-15"})
	assert.Equal(t, 2, f.s.State().Routines[0].Streak, "a gap before yesterday does not extend the streak")
}

func TestToggleFixedExpense(t *testing.T) {
	f := newFixture(t)

	a, err := store.DecodeAction(store.TypeAddFixedExpense, json.RawMessage(`{"id":"f1","name":"Rent","amount":"450"}`))
	require.NoError(t, err)
	f.dispatch(t, a)
	assert.True(t, f.s.State().FixedExpenses[0].Active)

	f.dispatch(t, store.ToggleFixedExpense{Ref: store.Ref{ID: "f1"}})

	e := f.s.State().FixedExpenses[0]
	assert.False(t, e.Active)
	assert.Equal(t, money.Amount(45000), e.Amount)
	assert.Equal(t, finance.FrequencyMonthly, e.Frequency)
}

func TestAddSavingsToGoal_SignalsCompletionOnce(t *testing.T) {
	f := newFixture(t)

	var completed []string
	cancel := f.s.OnGoalCompleted(func(g finance.Goal) { completed = append(completed, g.ID) })
	defer cancel()

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "Fund", TargetAmount: 10000}})
	f.dispatch(t, store.AddSavingsToGoal{GoalID: "g1", Amount: 6000})
	assert.Empty(t, completed)

	f.dispatch(t, store.AddSavingsToGoal{GoalID: "g1", Amount: 4000})
	f.dispatch(t, store.AddSavingsToGoal{GoalID: "g1", Amount: 1000})

	assert.Equal(t, []string{"g1"}, completed)
	assert.Equal(t, money.Amount(11000), f.s.State().Goals[0].CurrentAmount)
}

func TestSyncActions_DoNotTombstoneOrUndo(t *testing.T) {
	f := newFixture(t)

	remoteGoal := finance.Goal{ID: "g1", Name: "Remote", Priority: finance.PriorityLow, Color: "#fff", Version: 3, UpdatedAt: 500}

	f.dispatch(t, store.SyncUpsert{Table: finance.TableGoals, Item: remoteGoal})
	assert.Equal(t, []finance.Goal{remoteGoal}, f.s.State().Goals)

	stale := remoteGoal
	stale.Name = "Stale"
	stale.Version = 2
	f.dispatch(t, store.SyncUpsert{Table: finance.TableGoals, Item: stale})
	assert.Equal(t, "Remote", f.s.State().Goals[0].Name, "stale inbound must not replace a newer record")

	f.dispatch(t, store.SyncRemove{Table: finance.TableGoals, ID: "g1"})
	f.dispatch(t, store.SyncRemove{Table: finance.TableGoals, ID: "missing"})

	assert.Empty(t, f.s.State().Goals)
	assert.Empty(t, f.syncer.calls)
	assert.Empty(t, f.s.UndoFrames())
	assert.Equal(t, 4, f.syncer.changes, "every accepted sync action notifies the syncer")

	err := f.s.Dispatch(store.SyncUpsert{Table: finance.TableRoutines, Item: remoteGoal})
	assert.ErrorIs(t, err, store.ErrInvalidAction)
}

func TestSyncProfile(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.UpdateProfile{Profile: finance.Profile{Name: "Local", Currency: "eur"}})
	local := f.s.State().Profile
	assert.Equal(t, "EUR", local.Currency)

	older := mapper.ProfileRecord{Profile: finance.Profile{Name: "Old", UpdatedAt: local.UpdatedAt - 1}}
	f.dispatch(t, store.SyncProfile{ProfileRecord: older})
	assert.Equal(t, "Local", f.s.State().Profile.Name)

	newer := mapper.ProfileRecord{
		Profile:      finance.Profile{Name: "Remote", UpdatedAt: local.UpdatedAt + 1},
		Gamification: finance.Gamification{TotalXP: 40},
		Envelopes:    finance.Envelopes{Enabled: true},
		HasEnvelopes: true,
	}
	f.dispatch(t, store.SyncProfile{ProfileRecord: newer})

	st := f.s.State()
	assert.Equal(t, "Remote", st.Profile.Name)
	assert.Equal(t, finance.DefaultCurrency, st.Profile.Currency)
	assert.Equal(t, 40, st.Gamification.TotalXP)
	assert.True(t, st.Envelopes.Enabled)
}

func TestAddXP_BoundsLog(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < finance.XPLogLimit+5; i++ {
		f.dispatch(t, store.AddXP{Amount: 1, Reason: "tick"})
	}

	g := f.s.State().Gamification
	assert.Equal(t, finance.XPLogLimit+5, g.TotalXP)
	assert.Len(t, g.XPLog, finance.XPLogLimit)
	assert.Positive(t, f.s.State().Profile.UpdatedAt)
}

func TestSetEnvelopes_AssignsRuleIDs(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.SetEnvelopes{Envelopes: finance.Envelopes{
		Enabled: true,
		Rules:   []finance.EnvelopeRule{{Name: "<i>Food</i>", Category: "food", Limit: 30000}},
	}})

	rules := f.s.State().Envelopes.Rules
	require.Len(t, rules, 1)
	assert.Equal(t, "id-1", rules[0].ID)
	assert.Equal(t, "Food", rules[0].Name)
}

func TestRestore_ReinsertsAndClearsTombstone(t *testing.T) {
	f := newFixture(t)

	g := finance.Goal{ID: "g9", Name: "Back", Priority: finance.PriorityHigh, Color: "#123456", Version: 4, CreatedAt: 1, UpdatedAt: 2}
	f.dispatch(t, store.RestoreGoal{Goal: g})

	assert.Equal(t, []finance.Goal{g}, f.s.State().Goals)
	assert.Equal(t, []syncCall{{"restore", finance.TableGoals, "g9"}}, f.syncer.calls)

	assert.ErrorIs(t, f.s.Dispatch(store.RestoreGoal{Goal: g}), store.ErrInvalidAction)
}

func TestLoadData_ReplacesStateAndClearsUndo(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{ID: "g1", Name: "a"}})
	f.dispatch(t, store.DeleteGoal{Ref: store.Ref{ID: "g1"}})
	require.Len(t, f.s.UndoFrames(), 1)

	f.dispatch(t, store.LoadData{State: finance.State{Goals: []finance.Goal{{ID: "g2", Name: "b"}}}})

	assert.Equal(t, "g2", f.s.State().Goals[0].ID)
	assert.Equal(t, finance.DefaultCurrency, f.s.State().Profile.Currency)
	assert.Empty(t, f.s.UndoFrames())
}

func TestSubscribe_RunsAfterUnlock(t *testing.T) {
	f := newFixture(t)

	var seen []int

	cancel := f.s.Subscribe(func(st finance.State) {
		seen = append(seen, len(st.Goals))

		if len(st.Goals) == 1 {
			require.NoError(t, f.s.Dispatch(store.AddGoal{Goal: finance.Goal{Name: "nested"}}))
		}
	})
	defer cancel()

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "first"}})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestPersistFailureDoesNotRejectAction(t *testing.T) {
	f := newFixture(t)
	f.kv.Quota = 1

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "kept in memory"}})

	assert.Len(t, f.s.State().Goals, 1)
}

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		payload string
		want    store.Action
		wantErr bool
	}{
		{
			name:    "add goal",
			typ:     store.TypeAddGoal,
			payload: `{"name":"Travel","targetAmount":1000}`,
			want:    store.AddGoal{Goal: finance.Goal{Name: "Travel", TargetAmount: 100000}},
		},
		{
			name:    "delete by bare id",
			typ:     store.TypeDeleteTransaction,
			payload: `"t1"`,
			want:    store.DeleteTransaction{Ref: store.Ref{ID: "t1"}},
		},
		{
			name:    "delete by object",
			typ:     store.TypeDeleteGoal,
			payload: `{"id":"g1"}`,
			want:    store.DeleteGoal{Ref: store.Ref{ID: "g1"}},
		},
		{
			name:    "savings with string amount",
			typ:     store.TypeAddSavingsToGoal,
			payload: `{"goalId":"g1","amount":"12.50"}`,
			want:    store.AddSavingsToGoal{GoalID: "g1", Amount: 1250},
		},
		{name: "undo without payload", typ: store.TypeUndoLast, want: store.UndoLast{}},
		{name: "sync actions are internal", typ: store.TypeSyncUpsert, payload: `{}`, wantErr: true},
		{name: "malformed", typ: store.TypeAddGoal, payload: `{"name":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.DecodeAction(tt.typ, json.RawMessage(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, store.ErrInvalidAction)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatch_SanitizesFreeText(t *testing.T) {
	inputs := map[string]string{
		"literal tag":    "Ok <img src=x onerror=alert(1)>",
		"escaped tag":    "Ok &lt;img src=x onerror=alert(1)&gt;",
		"escaped script": "Ok &lt;script&gt;alert(1)&lt;/script&gt;",
		"mixed":          "Ok <b>&lt;iframe src=x&gt;</b>",
	}

	fields := []struct {
		name   string
		action func(text string) store.Action
		read   func(st finance.State) string
	}{
		{
			name:   "goal name",
			action: func(text string) store.Action { return store.AddGoal{Goal: finance.Goal{Name: text}} },
			read:   func(st finance.State) string { return st.Goals[0].Name },
		},
		{
			name: "transaction note",
			action: func(text string) store.Action {
				return store.AddTransaction{Transaction: finance.Transaction{Amount: 100, Note: text}}
			},
			read: func(st finance.State) string { return st.Transactions[0].Note },
		},
		{
			name: "transaction category",
			action: func(text string) store.Action {
				return store.AddTransaction{Transaction: finance.Transaction{Amount: 100, Category: text}}
			},
			read: func(st finance.State) string { return st.Transactions[0].Category },
		},
		{
			name: "income source",
			action: func(text string) store.Action {
				return store.UpdateProfile{Profile: finance.Profile{Name: "Ana", IncomeSources: []finance.IncomeSource{{Name: text}}}}
			},
			read: func(st finance.State) string { return st.Profile.IncomeSources[0].Name },
		},
		{
			name: "envelope rule",
			action: func(text string) store.Action {
				return store.SetEnvelopes{Envelopes: finance.Envelopes{Rules: []finance.EnvelopeRule{{Name: text, Category: text}}}}
			},
			read: func(st finance.State) string {
				r := st.Envelopes.Rules[0]
				return r.Name + r.Category
			},
		},
		{
			name:   "xp reason",
			action: func(text string) store.Action { return store.AddXP{Amount: 5, Reason: text} },
			read:   func(st finance.State) string { return st.Gamification.XPLog[0].Reason },
		},
	}

	for _, field := range fields {
		for name, input := range inputs {
			t.Run(field.name+"/"+name, func(t *testing.T) {
				f := newFixture(t)
				f.dispatch(t, field.action(input))

				got := field.read(f.s.State())
				assert.NotContains(t, got, "<")
				assert.NotContains(t, got, ">")
				assert.Contains(t, got, "Ok")
			})
		}
	}
}

func TestDispatch_KeepsPlainEntities(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, store.AddGoal{Goal: finance.Goal{Name: "Tom &amp; Jerry"}})
	assert.Equal(t, "Tom & Jerry", f.s.State().Goals[0].Name)
}
