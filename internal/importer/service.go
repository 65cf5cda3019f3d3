package importer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/importer/cgd"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

var ErrUnknownBank = errors.New("unknown bank")

type Service struct {
	parsers    map[Bank]Parser
	dispatcher Dispatcher
	suggester  Suggester
	ids        func() string
	logger     *slog.Logger
}

// NewService builds an importer dispatching into d. newID assigns transaction
// ids up front so the caller can report them.
func NewService(d Dispatcher, newID func() string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		parsers:    map[Bank]Parser{BankCGD: cgd.NewParser(logger)},
		dispatcher: d,
		ids:        newID,
		logger:     logger.With("component", "importer"),
	}
}

// WithSuggester makes Import fill empty categories from learned rules before
// falling back to the bank name.
func (s *Service) WithSuggester(sg Suggester) *Service {
	s.suggester = sg
	return s
}

func (s *Service) category(tx finance.Transaction, bank Bank) string {
	if s.suggester != nil {
		c, err := s.suggester.Suggest(tx.Note)
		if err != nil {
			s.logger.Warn("category suggestion failed", "error", err)
		} else if c != "" {
			return c
		}
	}

	return string(bank)
}

// Import parses the statement and dispatches one ADD_TRANSACTION per movement.
// Rows the reducer rejects are counted and skipped.
func (s *Service) Import(bank Bank, r io.Reader) (Result, error) {
	parser, ok := s.parsers[bank]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownBank, bank)
	}

	txs, err := parser.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parsing %s statement: %w", bank, err)
	}

	res := Result{Parsed: len(txs)}

	for _, tx := range txs {
		if tx.Category == "" {
			tx.Category = s.category(tx, bank)
		}

		if s.ids != nil {
			tx.ID = s.ids()
		}

		if err := s.dispatcher.Dispatch(store.AddTransaction{Transaction: tx}); err != nil {
			s.logger.Warn("skipping imported movement", "date", tx.Date, "error", err)
			res.Rejected++

			continue
		}

		res.Imported++

		if tx.ID != "" {
			res.IDs = append(res.IDs, tx.ID)
		}
	}

	s.logger.Info("statement imported", "bank", bank, "parsed", res.Parsed, "imported", res.Imported, "rejected", res.Rejected)

	return res, nil
}
