package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

func TestStamp_Newer(t *testing.T) {
	tests := []struct {
		name string
		a, b finance.Stamp
		want bool
	}{
		{name: "HigherVersionWins", a: finance.Stamp{Version: 2, UpdatedAt: 100}, b: finance.Stamp{Version: 1, UpdatedAt: 150}, want: true},
		{name: "LowerVersionLoses", a: finance.Stamp{Version: 1, UpdatedAt: 150}, b: finance.Stamp{Version: 2, UpdatedAt: 100}, want: false},
		{name: "SameVersionLaterWins", a: finance.Stamp{Version: 1, UpdatedAt: 200}, b: finance.Stamp{Version: 1, UpdatedAt: 100}, want: true},
		{name: "EqualIsNotNewer", a: finance.Stamp{Version: 1, UpdatedAt: 100}, b: finance.Stamp{Version: 1, UpdatedAt: 100}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Newer(tt.b))
		})
	}
}

func TestStreak(t *testing.T) {
	days := []string{"2026-10-15", "2026-10-16", "2026-10-18", "2026-10-17", "2026-10-10"}

	assert.Equal(t, 4, finance.Streak(days, "2026-10-18"))
	assert.Equal(t, 0, finance.Streak(days, "2026-10-19"))
	assert.Equal(t, 1, finance.Streak(days, "2026-10-10"))
	assert.Equal(t, 0, finance.Streak(days, "not-a-day"))
}

func TestStreak_CrossesMonthBoundary(t *testing.T) {
	days := []string{"2026-09-29", "2026-09-30", "2026-10-01"}
	assert.Equal(t, 3, finance.Streak(days, "2026-10-01"))
}

func TestRoutine_CompleteIsIdempotentPerDay(t *testing.T) {
	r := finance.Routine{ID: "r1", CompletedDates: []string{"2026-10-17"}}

	once := r.Complete("2026-10-18", "2026-10-18")
	twice := once.Complete("2026-10-18", "2026-10-18")

	assert.Equal(t, []string{"2026-10-17", "2026-10-18"}, twice.CompletedDates)
	assert.Equal(t, 2, twice.Streak)
	assert.Equal(t, []string{"2026-10-17"}, r.CompletedDates, "original must not be mutated")
}

func TestRoutine_CompleteBackfillCountsFromToday(t *testing.T) {
	r := finance.Routine{ID: "r1", CompletedDates: []string{"2026-10-18"}}

	got := r.Complete("2026-10-17", "2026-10-18")
	assert.Equal(t, 2, got.Streak)

	gap := finance.Routine{ID: "r2"}.Complete("2026-10-16", "2026-10-18")
	assert.Equal(t, 0, gap.Streak, "today not completed")
}

func TestState_HasData(t *testing.T) {
	assert.False(t, finance.State{}.HasData())
	assert.True(t, finance.State{Goals: []finance.Goal{{ID: "g1"}}}.HasData())
	assert.True(t, finance.State{Gamification: finance.Gamification{TotalXP: 5}}.HasData())
	assert.False(t, finance.State{Profile: finance.Profile{Name: "Ana"}}.HasData())
}

func TestState_Find(t *testing.T) {
	s := finance.State{
		Goals:         []finance.Goal{{ID: "g1", Name: "Travel"}},
		FixedExpenses: []finance.FixedExpense{{ID: "f1"}},
	}

	e, ok := s.Find(finance.TableGoals, "g1")
	assert.True(t, ok)
	assert.Equal(t, "Travel", e.(finance.Goal).Name)

	_, ok = s.Find(finance.TableFixedExpenses, "missing")
	assert.False(t, ok)

	assert.Len(t, s.Entities(finance.TableFixedExpenses), 1)
	assert.Equal(t, "goals:g1", finance.Key(finance.TableGoals, "g1"))
}

func TestDefaults(t *testing.T) {
	var g finance.Goal
	g.ApplyDefaults()
	assert.Equal(t, finance.PriorityMedium, g.Priority)
	assert.Equal(t, finance.DefaultGoalColor, g.Color)
	assert.Equal(t, 1, g.Version)

	var tx finance.Transaction
	tx.ApplyDefaults("2026-10-18")
	assert.Equal(t, finance.TxExpense, tx.Type)
	assert.Equal(t, "2026-10-18", tx.Date)

	var r finance.Routine
	r.ApplyDefaults()
	assert.Equal(t, "finance", r.Category)
	assert.Equal(t, 20, r.XPValue)
	assert.NotNil(t, r.CompletedDates)

	var p finance.Profile
	p.ApplyDefaults()
	assert.Equal(t, "CLP", p.Currency)
	assert.NotNil(t, p.IncomeSources)
}
