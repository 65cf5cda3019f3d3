package finance

// State is an immutable snapshot of the user's dataset. Holders must not
// mutate the slices in place; the reducer always builds new ones.
type State struct {
	Goals         []Goal         `json:"goals"`
	Transactions  []Transaction  `json:"transactions"`
	Routines      []Routine      `json:"routines"`
	FixedExpenses []FixedExpense `json:"fixedExpenses"`
	Profile       Profile        `json:"profile"`
	Gamification  Gamification   `json:"gamification"`
	Envelopes     Envelopes      `json:"envelopes"`
	Onboarded     bool           `json:"onboarded"`
}

// HasData reports whether any collection is non-empty or XP was earned.
func (s State) HasData() bool {
	return len(s.Goals) > 0 ||
		len(s.Transactions) > 0 ||
		len(s.Routines) > 0 ||
		len(s.FixedExpenses) > 0 ||
		s.Gamification.TotalXP > 0
}

// Entities returns the records of table t.
func (s State) Entities(t Table) []Entity {
	var out []Entity

	switch t {
	case TableGoals:
		for _, e := range s.Goals {
			out = append(out, e)
		}
	case TableTransactions:
		for _, e := range s.Transactions {
			out = append(out, e)
		}
	case TableRoutines:
		for _, e := range s.Routines {
			out = append(out, e)
		}
	case TableFixedExpenses:
		for _, e := range s.FixedExpenses {
			out = append(out, e)
		}
	}

	return out
}

// Find looks up a record by table and id.
func (s State) Find(t Table, id string) (Entity, bool) {
	for _, e := range s.Entities(t) {
		if e.EntityID() == id {
			return e, true
		}
	}

	return nil, false
}
