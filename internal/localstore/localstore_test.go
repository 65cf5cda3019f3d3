package localstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
)

func stores(t *testing.T) map[string]localstore.KV {
	t.Helper()

	sq, err := localstore.OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]localstore.KV{
		"Memory": localstore.NewMemory(),
		"SQLite": sq,
	}
}

func TestKV_Contract(t *testing.T) {
	for name, kv := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set("k", []byte(`{"a":1}`)))
			require.NoError(t, kv.Set("k", []byte(`{"a":2}`)))

			got, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, kv.Remove("k"))

			_, ok, err = kv.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	sq, err := localstore.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, sq.Set(localstore.KeyWriteQueue, []byte(`[]`)))
	require.NoError(t, sq.Close())

	sq, err = localstore.OpenSQLite(path)
	require.NoError(t, err)
	defer sq.Close()

	got, ok, err := sq.Get(localstore.KeyWriteQueue)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(got))
}

func TestMemory_Quota(t *testing.T) {
	m := localstore.NewMemory()
	m.Quota = 8

	require.NoError(t, m.Set("a", []byte("1234")))
	assert.ErrorIs(t, m.Set("b", []byte("123456")), localstore.ErrQuotaExceeded)
	require.NoError(t, m.Set("a", []byte("12345678")))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	kv := localstore.NewMemory()

	in := finance.State{
		Goals: []finance.Goal{{ID: "g1", Name: "Travel", TargetAmount: money.Parse(1000), Version: 1}},
		Routines: []finance.Routine{
			{ID: "r1", Name: "Log spend", CompletedDates: []string{"2026-10-18"}, Streak: 1},
		},
		Profile:      finance.Profile{Name: "Ana", Currency: "EUR", IncomeSources: []finance.IncomeSource{}},
		Gamification: finance.Gamification{TotalXP: 40},
		Onboarded:    true,
	}

	require.NoError(t, localstore.SaveState(kv, in))

	out := localstore.LoadState(kv, nil)
	assert.Equal(t, in.Goals, out.Goals)
	assert.Equal(t, in.Routines, out.Routines)
	assert.Equal(t, in.Profile, out.Profile)
	assert.Equal(t, 40, out.Gamification.TotalXP)
	assert.True(t, out.Onboarded)
	assert.Empty(t, out.Transactions)
}

func TestSnapshot_CorruptKeyIsSkipped(t *testing.T) {
	kv := localstore.NewMemory()
	require.NoError(t, kv.Set(localstore.KeyGoals, []byte(`not json`)))
	require.NoError(t, kv.Set(localstore.KeyTransactions, []byte(`[{"id":"t1","amount":5}]`)))

	out := localstore.LoadState(kv, nil)
	assert.Empty(t, out.Goals)
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, money.Amount(500), out.Transactions[0].Amount)
	assert.Equal(t, finance.DefaultCurrency, out.Profile.Currency)
}

func TestSnapshot_SaveReportsFailures(t *testing.T) {
	kv := localstore.NewMemory()
	kv.Quota = 1

	assert.ErrorIs(t, localstore.SaveState(kv, finance.State{}), localstore.ErrQuotaExceeded)
}
