package finance

import (
	"slices"
	"time"
)

// Routine is a recurring habit whose completions are tracked per calendar day.
type Routine struct {
	ID             string   `json:"id"`
	Name           string   `json:"name" validate:"required,max=120"`
	Objective      string   `json:"objective" validate:"max=2000"`
	Category       string   `json:"category"`
	Frequency      string   `json:"frequency"`
	Difficulty     string   `json:"difficulty"`
	XPValue        int      `json:"xpValue" validate:"gte=0"`
	CompletedDates []string `json:"completedDates"`
	Streak         int      `json:"streak"`
	Version        int      `json:"version"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
}

func (r Routine) EntityID() string { return r.ID }
func (r Routine) EntityTable() Table { return TableRoutines }
func (r Routine) EntityStamp() Stamp { return Stamp{Version: r.Version, UpdatedAt: r.UpdatedAt} }
func (r Routine) Created() int64 { return r.CreatedAt }

func (r *Routine) ApplyDefaults() {
	if r.Category == "" {
		r.Category = "finance"
	}

	if r.Frequency == "" {
		r.Frequency = "daily"
	}

	if r.Difficulty == "" {
		r.Difficulty = "medium"
	}

	if r.XPValue == 0 {
		r.XPValue = 20
	}

	if r.CompletedDates == nil {
		r.CompletedDates = []string{}
	}

	if r.Version <= 0 {
		r.Version = 1
	}
}

// Complete returns a copy of r with day recorded (at most once) and the
// streak recomputed backward from today. Days are ISO calendar-day strings.
func (r Routine) Complete(day, today string) Routine {
	out := r
	out.CompletedDates = slices.Clone(r.CompletedDates)

	if !slices.Contains(out.CompletedDates, day) {
		out.CompletedDates = append(out.CompletedDates, day)
	}

	out.Streak = Streak(out.CompletedDates, today)

	return out
}

// Streak counts contiguous completed days walking backward from today.
func Streak(days []string, today string) int {
	set := make(map[string]struct{}, len(days))
	for _, d := range days {
		set[d] = struct{}{}
	}

	cur, err := time.Parse(time.DateOnly, today)
	if err != nil {
		return 0
	}

	n := 0

	for {
		if _, ok := set[cur.Format(time.DateOnly)]; !ok {
			return n
		}

		n++
		cur = cur.AddDate(0, 0, -1)
	}
}
