// Package mapper translates entities between their in-memory form and the
// snake_case rows stored remotely. Every field rename lives here.
package mapper

import (
	"fmt"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

// ProfileRecord is the profile row split into its three singletons.
type ProfileRecord struct {
	Profile      finance.Profile
	Gamification finance.Gamification
	Envelopes    finance.Envelopes
	// HasEnvelopes is false when the row carries no envelope columns.
	HasEnvelopes bool
}

// Mapper holds the only non-pure input of the translation: today's calendar
// day, used to default a transaction's date.
type Mapper struct {
	Today func() string
}

func New(today func() string) Mapper {
	return Mapper{Today: today}
}

func (m Mapper) today() string {
	if m.Today == nil {
		return ""
	}

	return m.Today()
}

// ToRemote maps an entity to its row for userID.
func (m Mapper) ToRemote(e finance.Entity, userID string) (remote.Row, error) {
	switch v := e.(type) {
	case finance.Goal:
		return GoalToRemote(v, userID), nil
	case finance.Transaction:
		return TransactionToRemote(v, userID), nil
	case finance.Routine:
		return RoutineToRemote(v, userID), nil
	case finance.FixedExpense:
		return FixedExpenseToRemote(v, userID), nil
	default:
		return nil, fmt.Errorf("mapping %T: unsupported entity", e)
	}
}

// FromRemote maps a row of an entity table back into an entity.
func (m Mapper) FromRemote(t finance.Table, r remote.Row) (finance.Entity, error) {
	switch t {
	case finance.TableGoals:
		return GoalFromRemote(r), nil
	case finance.TableTransactions:
		return m.TransactionFromRemote(r), nil
	case finance.TableRoutines:
		return RoutineFromRemote(r), nil
	case finance.TableFixedExpenses:
		return FixedExpenseFromRemote(r), nil
	default:
		return nil, fmt.Errorf("mapping table %q: not an entity table", t)
	}
}

// IsDeleted reports the legacy soft-delete flag written by older clients.
func IsDeleted(r remote.Row) bool {
	return truthy(r["is_deleted"])
}

func GoalToRemote(g finance.Goal, userID string) remote.Row {
	return remote.Row{
		"id":             g.ID,
		"user_id":        userID,
		"name":           g.Name,
		"description":    g.Description,
		"target_amount":  amountValue(g.TargetAmount),
		"current_amount": amountValue(g.CurrentAmount),
		"deadline":       nullable(g.Deadline),
		"priority":       string(g.Priority),
		"color":          g.Color,
		"image_url":      nullable(g.ImageURL),
		"version":        g.Version,
		"created_at":     timestamp(g.CreatedAt),
		"updated_at":     timestamp(g.UpdatedAt),
	}
}

func GoalFromRemote(r remote.Row) finance.Goal {
	g := finance.Goal{
		ID:            r.ID(),
		Name:          str(r, "name"),
		Description:   str(r, "description"),
		TargetAmount:  amount(r, "target_amount"),
		CurrentAmount: amount(r, "current_amount"),
		Deadline:      day(r["deadline"]),
		Priority:      finance.Priority(str(r, "priority")),
		Color:         str(r, "color"),
		ImageURL:      str(r, "image_url"),
		Version:       intOr(r, "version", 1),
		CreatedAt:     millis(r["created_at"]),
		UpdatedAt:     millis(r["updated_at"]),
	}
	g.ApplyDefaults()

	return g
}

func TransactionToRemote(t finance.Transaction, userID string) remote.Row {
	return remote.Row{
		"id":            t.ID,
		"user_id":       userID,
		"type":          string(t.Type),
		"amount":        amountValue(t.Amount),
		"category":      t.Category,
		"note":          t.Note,
		"date":          nullable(t.Date),
		"goal_id":       nullable(t.GoalID),
		"decision_type": nullable(t.DecisionType),
		"version":       t.Version,
		"created_at":    timestamp(t.CreatedAt),
		"updated_at":    timestamp(t.UpdatedAt),
	}
}

func (m Mapper) TransactionFromRemote(r remote.Row) finance.Transaction {
	t := finance.Transaction{
		ID:           r.ID(),
		Type:         finance.TxType(str(r, "type")),
		Amount:       amount(r, "amount"),
		Category:     str(r, "category"),
		Note:         str(r, "note"),
		Date:         day(r["date"]),
		GoalID:       str(r, "goal_id"),
		DecisionType: str(r, "decision_type"),
		Version:      intOr(r, "version", 1),
		CreatedAt:    millis(r["created_at"]),
		UpdatedAt:    millis(r["updated_at"]),
	}
	t.ApplyDefaults(m.today())

	return t
}

func RoutineToRemote(rt finance.Routine, userID string) remote.Row {
	dates := rt.CompletedDates
	if dates == nil {
		dates = []string{}
	}

	return remote.Row{
		"id":              rt.ID,
		"user_id":         userID,
		"name":            rt.Name,
		"objective":       rt.Objective,
		"category":        rt.Category,
		"frequency":       rt.Frequency,
		"difficulty":      rt.Difficulty,
		"xp_value":        rt.XPValue,
		"completed_dates": dates,
		"streak":          rt.Streak,
		"version":         rt.Version,
		"created_at":      timestamp(rt.CreatedAt),
		"updated_at":      timestamp(rt.UpdatedAt),
	}
}

func RoutineFromRemote(r remote.Row) finance.Routine {
	rt := finance.Routine{
		ID:             r.ID(),
		Name:           str(r, "name"),
		Objective:      str(r, "objective"),
		Category:       str(r, "category"),
		Frequency:      str(r, "frequency"),
		Difficulty:     str(r, "difficulty"),
		XPValue:        intOr(r, "xp_value", 0),
		CompletedDates: stringList(r["completed_dates"]),
		Streak:         max(intOr(r, "streak", 0), 0),
		Version:        intOr(r, "version", 1),
		CreatedAt:      millis(r["created_at"]),
		UpdatedAt:      millis(r["updated_at"]),
	}
	rt.ApplyDefaults()

	return rt
}

func FixedExpenseToRemote(e finance.FixedExpense, userID string) remote.Row {
	return remote.Row{
		"id":            e.ID,
		"user_id":       userID,
		"name":          e.Name,
		"amount":        amountValue(e.Amount),
		"category":      e.Category,
		"frequency":     string(e.Frequency),
		"next_due_date": nullable(e.NextDueDate),
		"active":        e.Active,
		"version":       e.Version,
		"created_at":    timestamp(e.CreatedAt),
		"updated_at":    timestamp(e.UpdatedAt),
	}
}

func FixedExpenseFromRemote(r remote.Row) finance.FixedExpense {
	e := finance.FixedExpense{
		ID:          r.ID(),
		Name:        str(r, "name"),
		Amount:      amount(r, "amount"),
		Category:    str(r, "category"),
		Frequency:   finance.Frequency(str(r, "frequency")),
		NextDueDate: day(r["next_due_date"]),
		Active:      boolOr(r, "active", true),
		Version:     intOr(r, "version", 1),
		CreatedAt:   millis(r["created_at"]),
		UpdatedAt:   millis(r["updated_at"]),
	}
	e.ApplyDefaults()

	return e
}

// ProfileToRemote folds the three singletons into the per-user profile row.
func ProfileToRemote(rec ProfileRecord, userID string) remote.Row {
	p := rec.Profile
	p.ApplyDefaults()

	g := rec.Gamification
	if g.XPLog == nil {
		g.XPLog = []finance.XPEntry{}
	}

	if g.EarnedBadgeIDs == nil {
		g.EarnedBadgeIDs = []string{}
	}

	rules := rec.Envelopes.Rules
	if rules == nil {
		rules = []finance.EnvelopeRule{}
	}

	return remote.Row{
		"user_id":           userID,
		"name":              p.Name,
		"currency":          p.Currency,
		"income_sources":    p.IncomeSources,
		"total_xp":          g.TotalXP,
		"xp_log":            g.XPLog,
		"earned_badge_ids":  g.EarnedBadgeIDs,
		"envelopes_enabled": rec.Envelopes.Enabled,
		"envelope_rules":    rules,
		"updated_at":        timestamp(p.UpdatedAt),
	}
}

func ProfileFromRemote(r remote.Row) ProfileRecord {
	rec := ProfileRecord{
		Profile: finance.Profile{
			Name:      str(r, "name"),
			Currency:  str(r, "currency"),
			UpdatedAt: millis(r["updated_at"]),
		},
		Gamification: finance.Gamification{
			TotalXP:        max(intOr(r, "total_xp", 0), 0),
			XPLog:          []finance.XPEntry{},
			EarnedBadgeIDs: stringList(r["earned_badge_ids"]),
		},
		Envelopes: finance.Envelopes{
			Enabled: boolOr(r, "envelopes_enabled", false),
			Rules:   []finance.EnvelopeRule{},
		},
	}

	decode(r["income_sources"], &rec.Profile.IncomeSources)
	decode(r["xp_log"], &rec.Gamification.XPLog)
	decode(r["envelope_rules"], &rec.Envelopes.Rules)

	if rec.Gamification.XPLog == nil {
		rec.Gamification.XPLog = []finance.XPEntry{}
	}

	if rec.Envelopes.Rules == nil {
		rec.Envelopes.Rules = []finance.EnvelopeRule{}
	}

	for i := range rec.Profile.IncomeSources {
		rec.Profile.IncomeSources[i].Amount = rec.Profile.IncomeSources[i].Amount.NonNegative()
	}

	_, hasEnabled := r["envelopes_enabled"]
	_, hasRules := r["envelope_rules"]
	rec.HasEnvelopes = (hasEnabled && r["envelopes_enabled"] != nil) || (hasRules && r["envelope_rules"] != nil)

	rec.Profile.ApplyDefaults()

	return rec
}
