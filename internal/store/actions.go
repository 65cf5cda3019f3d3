package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
)

// Action is an intent applied by the reducer.
type Action interface {
	Type() string
}

const (
	TypeAddGoal            = "ADD_GOAL"
	TypeUpdateGoal         = "UPDATE_GOAL"
	TypeDeleteGoal         = "DELETE_GOAL"
	TypeRestoreGoal        = "RESTORE_GOAL"
	TypeAddTransaction     = "ADD_TRANSACTION"
	TypeUpdateTransaction  = "UPDATE_TRANSACTION"
	TypeDeleteTransaction  = "DELETE_TRANSACTION"
	TypeRestoreTransaction = "RESTORE_TRANSACTION"
	TypeAddRoutine         = "ADD_ROUTINE"
	TypeUpdateRoutine      = "UPDATE_ROUTINE"
	TypeDeleteRoutine      = "DELETE_ROUTINE"
	TypeRestoreRoutine     = "RESTORE_ROUTINE"
	TypeCompleteRoutine    = "COMPLETE_ROUTINE"
	TypeAddFixedExpense    = "ADD_FIXED_EXPENSE"
	TypeUpdateFixedExpense = "UPDATE_FIXED_EXPENSE"
	TypeDeleteFixedExpense = "DELETE_FIXED_EXPENSE"
	TypeRestoreFixedExp    = "RESTORE_FIXED_EXPENSE"
	TypeToggleFixedExpense = "TOGGLE_FIXED_EXPENSE"
	TypeAddSavingsToGoal   = "ADD_SAVINGS_TO_GOAL"
	TypeUpdateProfile      = "UPDATE_PROFILE"
	TypeSetEnvelopes       = "SET_ENVELOPES"
	TypeSyncUpsert         = "SYNC_UPSERT"
	TypeSyncRemove         = "SYNC_REMOVE"
	TypeSyncProfile        = "SYNC_PROFILE"
	TypeLoadData           = "LOAD_DATA"
	TypeAddXP              = "ADD_XP"
	TypeUndoLast           = "UNDO_LAST"
)

// Ref addresses a record by id. It decodes from either "id" or {"id": "id"}.
type Ref struct {
	ID string `json:"id"`
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}

	var obj struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}

	r.ID = obj.ID

	return nil
}

type (
	AddGoal     struct{ finance.Goal }
	UpdateGoal  struct{ finance.Goal }
	DeleteGoal  struct{ Ref }
	RestoreGoal struct{ finance.Goal }

	AddTransaction     struct{ finance.Transaction }
	UpdateTransaction  struct{ finance.Transaction }
	DeleteTransaction  struct{ Ref }
	RestoreTransaction struct{ finance.Transaction }

	AddRoutine     struct{ finance.Routine }
	UpdateRoutine  struct{ finance.Routine }
	DeleteRoutine  struct{ Ref }
	RestoreRoutine struct{ finance.Routine }

	AddFixedExpense     struct{ finance.FixedExpense }
	UpdateFixedExpense  struct{ finance.FixedExpense }
	DeleteFixedExpense  struct{ Ref }
	RestoreFixedExpense struct{ finance.FixedExpense }
	ToggleFixedExpense  struct{ Ref }
)

// CompleteRoutine records a completion; an empty Day means today.
type CompleteRoutine struct {
	ID  string `json:"id"`
	Day string `json:"day,omitempty"`
}

type AddSavingsToGoal struct {
	GoalID string       `json:"goalId"`
	Amount money.Amount `json:"amount"`
}

type UpdateProfile struct{ finance.Profile }

type SetEnvelopes struct{ finance.Envelopes }

// SyncUpsert replaces a record with its remote version unless the local copy
// is newer.
type SyncUpsert struct {
	Table finance.Table
	Item  finance.Entity
}

type SyncRemove struct {
	Table finance.Table
	ID    string
}

type SyncProfile struct {
	mapper.ProfileRecord
}

type LoadData struct {
	State finance.State `json:"state"`
}

type AddXP struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type UndoLast struct{}

func (AddGoal) Type() string { return TypeAddGoal }
func (UpdateGoal) Type() string { return TypeUpdateGoal }
func (DeleteGoal) Type() string { return TypeDeleteGoal }
func (RestoreGoal) Type() string { return TypeRestoreGoal }
func (AddTransaction) Type() string { return TypeAddTransaction }
func (UpdateTransaction) Type() string { return TypeUpdateTransaction }
func (DeleteTransaction) Type() string { return TypeDeleteTransaction }
func (RestoreTransaction) Type() string { return TypeRestoreTransaction }
func (AddRoutine) Type() string { return TypeAddRoutine }
func (UpdateRoutine) Type() string { return TypeUpdateRoutine }
func (DeleteRoutine) Type() string { return TypeDeleteRoutine }
func (RestoreRoutine) Type() string { return TypeRestoreRoutine }
func (CompleteRoutine) Type() string { return TypeCompleteRoutine }
func (AddFixedExpense) Type() string { return TypeAddFixedExpense }
func (UpdateFixedExpense) Type() string { return TypeUpdateFixedExpense }
func (DeleteFixedExpense) Type() string { return TypeDeleteFixedExpense }
func (RestoreFixedExpense) Type() string { return TypeRestoreFixedExp }
func (ToggleFixedExpense) Type() string { return TypeToggleFixedExpense }
func (AddSavingsToGoal) Type() string { return TypeAddSavingsToGoal }
func (UpdateProfile) Type() string { return TypeUpdateProfile }
func (SetEnvelopes) Type() string { return TypeSetEnvelopes }
func (SyncUpsert) Type() string { return TypeSyncUpsert }
func (SyncRemove) Type() string { return TypeSyncRemove }
func (SyncProfile) Type() string { return TypeSyncProfile }
func (LoadData) Type() string { return TypeLoadData }
func (AddXP) Type() string { return TypeAddXP }
func (UndoLast) Type() string { return TypeUndoLast }

var decoders = map[string]func(json.RawMessage) (Action, error){
	TypeAddGoal:            decodeAs[AddGoal],
	TypeUpdateGoal:         decodeAs[UpdateGoal],
	TypeDeleteGoal:         decodeAs[DeleteGoal],
	TypeRestoreGoal:        decodeAs[RestoreGoal],
	TypeAddTransaction:     decodeAs[AddTransaction],
	TypeUpdateTransaction:  decodeAs[UpdateTransaction],
	TypeDeleteTransaction:  decodeAs[DeleteTransaction],
	TypeRestoreTransaction: decodeAs[RestoreTransaction],
	TypeAddRoutine:         decodeAs[AddRoutine],
	TypeUpdateRoutine:      decodeAs[UpdateRoutine],
	TypeDeleteRoutine:      decodeAs[DeleteRoutine],
	TypeRestoreRoutine:     decodeAs[RestoreRoutine],
	TypeCompleteRoutine:    decodeAs[CompleteRoutine],
	TypeAddFixedExpense:    decodeAs[AddFixedExpense],
	TypeUpdateFixedExpense: decodeAs[UpdateFixedExpense],
	TypeDeleteFixedExpense: decodeAs[DeleteFixedExpense],
	TypeRestoreFixedExp:    decodeAs[RestoreFixedExpense],
	TypeToggleFixedExpense: decodeAs[ToggleFixedExpense],
	TypeAddSavingsToGoal:   decodeAs[AddSavingsToGoal],
	TypeUpdateProfile:      decodeAs[UpdateProfile],
	TypeSetEnvelopes:       decodeAs[SetEnvelopes],
	TypeLoadData:           decodeAs[LoadData],
	TypeAddXP:              decodeAs[AddXP],
	TypeUndoLast:           decodeAs[UndoLast],
}

// DecodeAction builds a user action from its wire form. Sync actions are
// internal to the sync pipeline and cannot be decoded.
func DecodeAction(typ string, payload json.RawMessage) (Action, error) {
	dec, ok := decoders[typ]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, typ)
	}

	return dec(payload)
}

func decodeAs[A Action](payload json.RawMessage) (Action, error) {
	var a A

	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %w", ErrInvalidAction, a.Type(), err)
		}
	}

	return a, nil
}

// UnmarshalJSON defaults Active to true: a new bill is active unless the
// payload says otherwise.
func (a *AddFixedExpense) UnmarshalJSON(b []byte) error {
	e := finance.FixedExpense{Active: true}
	if err := json.Unmarshal(b, &e); err != nil {
		return err
	}

	a.FixedExpense = e

	return nil
}
