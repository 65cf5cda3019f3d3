package finance

import "github.com/MrJamesThe3rd/finnysync/internal/money"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

const DefaultGoalColor = "#00e5c3"

// Goal is a savings target.
type Goal struct {
	ID            string       `json:"id"`
	Name          string       `json:"name" validate:"required,max=120"`
	Description   string       `json:"description" validate:"max=2000"`
	TargetAmount  money.Amount `json:"targetAmount" validate:"gte=0"`
	CurrentAmount money.Amount `json:"currentAmount" validate:"gte=0"`
	Deadline      string       `json:"deadline"`
	Priority      Priority     `json:"priority" validate:"oneof=high medium low"`
	Color         string       `json:"color"`
	ImageURL      string       `json:"imageUrl,omitempty"`
	Version       int          `json:"version"`
	CreatedAt     int64        `json:"createdAt"`
	UpdatedAt     int64        `json:"updatedAt"`
}

func (g Goal) EntityID() string { return g.ID }
func (g Goal) EntityTable() Table { return TableGoals }
func (g Goal) EntityStamp() Stamp { return Stamp{Version: g.Version, UpdatedAt: g.UpdatedAt} }
func (g Goal) Created() int64 { return g.CreatedAt }
func (g Goal) Completed() bool { return g.TargetAmount > 0 && g.CurrentAmount >= g.TargetAmount }

// ApplyDefaults fills the fields a goal may legitimately arrive without.
func (g *Goal) ApplyDefaults() {
	if g.Priority == "" {
		g.Priority = PriorityMedium
	}

	if g.Color == "" {
		g.Color = DefaultGoalColor
	}

	if g.Version <= 0 {
		g.Version = 1
	}
}
