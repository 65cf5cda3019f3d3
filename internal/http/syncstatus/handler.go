package syncstatus

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/finnysync/internal/queue"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

type Handler struct {
	mgr   *syncmgr.Manager
	queue *queue.Queue
}

func NewHandler(mgr *syncmgr.Manager, q *queue.Queue) *Handler {
	return &Handler{mgr: mgr, queue: q}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.status)
	r.Get("/queue", h.entries)
	r.Post("/flush", h.flush)
	r.Put("/online", h.online)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.mgr.Status())
}

func (h *Handler) entries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.queue.Entries())
}

type flushResponse struct {
	Result queue.FlushResult `json:"result"`
	Status syncmgr.Status    `json:"status"`
}

func (h *Handler) flush(w http.ResponseWriter, _ *http.Request) {
	res := h.mgr.FlushNow()
	writeJSON(w, flushResponse{Result: res, Status: h.mgr.Status()})
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

// online overrides the connectivity signal until the next watch tick.
func (h *Handler) online(w http.ResponseWriter, r *http.Request) {
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		http.Error(w, `expected {"online": bool}`, http.StatusBadRequest)
		return
	}

	h.queue.SetOnline(*req.Online)
	writeJSON(w, h.mgr.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
