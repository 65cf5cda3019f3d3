package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

type Handler struct {
	store *store.Store
}

func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/state", h.state)
	r.Post("/actions", h.dispatch)
	r.Post("/undo", h.undo)
	r.Get("/undo", h.undoFrames)
}

// updates maps UPDATE_* actions to the collection their patch applies to.
var updates = map[string]finance.Table{
	store.TypeUpdateGoal:         finance.TableGoals,
	store.TypeUpdateTransaction:  finance.TableTransactions,
	store.TypeUpdateRoutine:      finance.TableRoutines,
	store.TypeUpdateFixedExpense: finance.TableFixedExpenses,
}

type actionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.State())
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := h.patch(req)
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := store.DecodeAction(req.Type, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.Dispatch(a); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.store.State())
}

// patch merges a partial UPDATE_* payload over the current record so callers
// only send the fields they change.
func (h *Handler) patch(req actionRequest) (json.RawMessage, error) {
	var current any

	if req.Type == store.TypeUpdateProfile {
		current = h.store.State().Profile
	} else if table, ok := updates[req.Type]; ok {
		var ref store.Ref
		if err := json.Unmarshal(req.Payload, &ref); err != nil || ref.ID == "" {
			return nil, fmt.Errorf("%w: %s needs an id", store.ErrInvalidAction, req.Type)
		}

		e, found := h.store.State().Find(table, ref.ID)
		if !found {
			return nil, fmt.Errorf("%w: %s %q", store.ErrNotFound, table, ref.ID)
		}

		current = e
	} else {
		return req.Payload, nil
	}

	var changes map[string]json.RawMessage
	if err := json.Unmarshal(req.Payload, &changes); err != nil {
		return nil, fmt.Errorf("%w: patch must be an object: %w", store.ErrInvalidAction, err)
	}

	base, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encoding current record: %w", err)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("decoding current record: %w", err)
	}

	maps.Copy(merged, changes)

	return json.Marshal(merged)
}

func (h *Handler) undo(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Dispatch(store.UndoLast{}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.store.State())
}

type frameResponse struct {
	Kind      string        `json:"kind"`
	Table     finance.Table `json:"table"`
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"`
}

func (h *Handler) undoFrames(w http.ResponseWriter, _ *http.Request) {
	frames := h.store.UndoFrames()
	resp := make([]frameResponse, len(frames))

	for i, f := range frames {
		resp[i] = frameResponse{Kind: f.Kind, Table: f.Table, ID: f.Data.EntityID(), Timestamp: f.Timestamp}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrNothingToUndo):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrInvalidAction):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("action failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
