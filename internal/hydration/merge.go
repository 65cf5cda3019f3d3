package hydration

import "github.com/MrJamesThe3rd/finnysync/internal/finance"

// Merge combines both sides with per-entity last-writer-wins. Remote order is
// kept; records only present locally are appended in local order.
func Merge(local finance.State, remote Snapshot) finance.State {
	r := remote.state

	out := finance.State{
		Goals:         mergeByID(r.Goals, local.Goals),
		Transactions:  mergeByID(r.Transactions, local.Transactions),
		Routines:      mergeByID(r.Routines, local.Routines),
		FixedExpenses: mergeByID(r.FixedExpenses, local.FixedExpenses),
		Profile:       local.Profile,
		Gamification:  r.Gamification,
		Envelopes:     local.Envelopes,
		Onboarded:     true,
	}

	if r.Profile.Name != "" {
		out.Profile = r.Profile
	}

	if local.Gamification.TotalXP > r.Gamification.TotalXP {
		out.Gamification = local.Gamification
	}

	if remote.hasEnvelopes {
		out.Envelopes = r.Envelopes
	}

	return out
}

func mergeByID[T finance.Entity](remote, local []T) []T {
	byID := make(map[string]T, len(local))
	for _, l := range local {
		byID[l.EntityID()] = l
	}

	out := make([]T, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote))

	for _, rm := range remote {
		seen[rm.EntityID()] = true

		if l, ok := byID[rm.EntityID()]; ok && l.EntityStamp().Newer(rm.EntityStamp()) {
			out = append(out, l)
			continue
		}

		out = append(out, rm)
	}

	for _, l := range local {
		if !seen[l.EntityID()] {
			out = append(out, l)
		}
	}

	return out
}
