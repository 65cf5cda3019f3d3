package localstore

import (
	"errors"
	"log/slog"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

// LoadState reads the full snapshot. Unreadable keys are logged and left at
// their zero value so a corrupt collection never blocks boot.
func LoadState(kv KV, logger *slog.Logger) finance.State {
	if logger == nil {
		logger = slog.Default()
	}

	var s finance.State

	load := func(key string, v any) {
		if _, err := GetJSON(kv, key, v); err != nil {
			logger.Error("failed to load local collection", "key", key, "error", err)
		}
	}

	load(KeyGoals, &s.Goals)
	load(KeyTransactions, &s.Transactions)
	load(KeyRoutines, &s.Routines)
	load(KeyFixedExpenses, &s.FixedExpenses)
	load(KeyProfile, &s.Profile)
	load(KeyGamification, &s.Gamification)
	load(KeyEnvelopes, &s.Envelopes)
	load(KeyOnboarded, &s.Onboarded)

	s.Profile.ApplyDefaults()

	return s
}

// SaveState writes every collection of s. All keys are attempted; the
// returned error joins the individual failures.
func SaveState(kv KV, s finance.State) error {
	entries := []struct {
		key string
		v   any
	}{
		{KeyGoals, nonNil(s.Goals)},
		{KeyTransactions, nonNil(s.Transactions)},
		{KeyRoutines, nonNil(s.Routines)},
		{KeyFixedExpenses, nonNil(s.FixedExpenses)},
		{KeyProfile, s.Profile},
		{KeyGamification, s.Gamification},
		{KeyEnvelopes, s.Envelopes},
		{KeyOnboarded, s.Onboarded},
	}

	var errs []error

	for _, e := range entries {
		if err := SetJSON(kv, e.key, e.v); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
