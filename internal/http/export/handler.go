package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/finnysync/internal/export"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

const dayLayout = "2006-01-02"

type Handler struct {
	svc *export.Service
	now func() time.Time
}

func NewHandler(svc *export.Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.metadata)
	r.Post("/download", h.download)
}

type exportRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type exportMetadataResponse struct {
	Transactions []finance.Transaction `json:"transactions"`
	EmailBody    string                `json:"email_body"`
}

// decodeFilter reads an optional date range; an empty body exports everything.
func decodeFilter(r *http.Request) (export.Filter, error) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return export.Filter{}, err
	}

	for _, d := range []string{req.StartDate, req.EndDate} {
		if d == "" {
			continue
		}

		if _, err := time.Parse(dayLayout, d); err != nil {
			return export.Filter{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", d)
		}
	}

	return export.Filter{StartDate: req.StartDate, EndDate: req.EndDate}, nil
}

func (h *Handler) metadata(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txs := h.svc.Transactions(filter)
	if txs == nil {
		txs = []finance.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(exportMetadataResponse{
		Transactions: txs,
		EmailBody:    h.svc.Summary(txs),
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"export_%s.zip\"", h.now().Format("20060102")))

	if err := h.svc.WriteZip(w, filter); err != nil {
		slog.Error("failed to create zip", "error", err)
	}
}
