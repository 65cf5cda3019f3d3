package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
)

// StateReader exposes the current store snapshot.
type StateReader interface {
	State() finance.State
}

// Filter bounds an export by ISO calendar day. Empty bounds are open.
type Filter struct {
	StartDate string
	EndDate   string
}

func (f Filter) match(day string) bool {
	if f.StartDate != "" && day < f.StartDate {
		return false
	}

	if f.EndDate != "" && day > f.EndDate {
		return false
	}

	return true
}

// Service exports transactions from the local store.
type Service struct {
	state StateReader
}

func NewService(state StateReader) *Service {
	return &Service{state: state}
}

// Transactions returns the transactions inside the filter, oldest first.
func (s *Service) Transactions(filter Filter) []finance.Transaction {
	var out []finance.Transaction

	for _, tx := range s.state.State().Transactions {
		if filter.match(tx.Date) {
			out = append(out, tx)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}

		return out[i].CreatedAt < out[j].CreatedAt
	})

	return out
}

// Summary renders one line per transaction, suitable for pasting into an email.
func (s *Service) Summary(txs []finance.Transaction) string {
	var sb strings.Builder

	for _, tx := range txs {
		sign := "-"
		if tx.Type == finance.TxIncome {
			sign = "+"
		}

		category := tx.Category
		if category == "" {
			category = "Sem Categoria"
		}

		fmt.Fprintf(&sb, "* %s | %s | %s%s € | %s\n", tx.Date, tx.Note, sign, tx.Amount, category)
	}

	return sb.String()
}

var csvHeader = []string{"id", "date", "type", "amount", "category", "note", "goal_id"}

// WriteCSV writes txs as a CSV table with a header row.
func (s *Service) WriteCSV(w io.Writer, txs []finance.Transaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, tx := range txs {
		record := []string{tx.ID, tx.Date, string(tx.Type), tx.Amount.String(), tx.Category, tx.Note, tx.GoalID}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing transaction %s: %w", tx.ID, err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteZip bundles transactions.csv and summary.txt for the filter.
func (s *Service) WriteZip(w io.Writer, filter Filter) error {
	txs := s.Transactions(filter)
	zw := zip.NewWriter(w)

	f, err := zw.Create("transactions.csv")
	if err != nil {
		return fmt.Errorf("creating csv entry: %w", err)
	}

	if err := s.WriteCSV(f, txs); err != nil {
		return err
	}

	f, err = zw.Create("summary.txt")
	if err != nil {
		return fmt.Errorf("creating summary entry: %w", err)
	}

	if _, err := io.WriteString(f, s.Summary(txs)); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return zw.Close()
}
