// Package cgd reads Caixa Geral de Depósitos CSV exports. Each supported
// export has its own header layout, detected from the first matching row.
package cgd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	enc "github.com/MrJamesThe3rd/finnysync/internal/encoding"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
)

const dateLayout = "02-01-2006"

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}

	return &Parser{logger: logger}
}

// Parse returns one income or expense transaction per movement row. Amounts
// are unsigned; the sign picks the type.
func (p *Parser) Parse(r io.Reader) ([]finance.Transaction, error) {
	utf8r, charset, err := enc.NewUTF8Reader(r)
	if err != nil {
		return nil, fmt.Errorf("detect encoding: %w", err)
	}

	reader := csv.NewReader(utf8r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	layout, cols, header, ok := detect(rows)
	if !ok {
		return nil, fmt.Errorf("no matching CGD format found: expected columns for conta, extrato, or cartão")
	}

	p.logger.Debug("statement layout detected", "layout", layout.Name, "charset", charset, "rows", len(rows)-header-1)

	return movements(layout, cols, rows[header+1:], header+1)
}

type columnIndex map[string]int

func detect(rows [][]string) (Layout, columnIndex, int, bool) {
	for n, row := range rows {
		cols := make(columnIndex, len(row))

		for i, cell := range row {
			if name := strings.TrimSpace(cell); name != "" {
				cols[name] = i
			}
		}

		for _, l := range layouts {
			if cols.has(l.columns()...) {
				return l, cols, n, true
			}
		}
	}

	return Layout{}, nil, 0, false
}

func (c columnIndex) has(names ...string) bool {
	for _, name := range names {
		if _, ok := c[name]; !ok {
			return false
		}
	}

	return true
}

func movements(l Layout, cols columnIndex, rows [][]string, offset int) ([]finance.Transaction, error) {
	var txs []finance.Transaction

	for i, row := range rows {
		line := offset + i + 1

		date, err := time.Parse(dateLayout, cell(row, cols[l.Date]))
		if err != nil {
			// Blank lines, page markers and totals.
			continue
		}

		desc := cell(row, cols[l.Desc])
		if desc == "" {
			return nil, fmt.Errorf("row %d: missing description", line)
		}

		amount, kind, ok := l.amount(cols, row)
		if !ok {
			continue
		}

		txs = append(txs, finance.Transaction{
			Type:   kind,
			Amount: amount,
			Note:   desc,
			Date:   date.Format(time.DateOnly),
		})
	}

	return txs, nil
}

func (l Layout) amount(cols columnIndex, row []string) (money.Amount, finance.TxType, bool) {
	if l.Mode == signed {
		a, ok := parse(cell(row, cols[l.Amount]))
		if !ok {
			return 0, "", false
		}

		if a < 0 {
			return -a, finance.TxExpense, true
		}

		return a, finance.TxIncome, true
	}

	if a, ok := parse(cell(row, cols[l.Debit])); ok {
		return abs(a), finance.TxExpense, true
	}

	if a, ok := parse(cell(row, cols[l.Credit])); ok {
		return abs(a), finance.TxIncome, true
	}

	return 0, "", false
}

// parse reads a non-zero European-formatted amount.
func parse(s string) (money.Amount, bool) {
	if s == "" {
		return 0, false
	}

	a, err := money.ParseEuropean(s)
	if err != nil || a == 0 {
		return 0, false
	}

	return a, true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}

func abs(a money.Amount) money.Amount {
	if a < 0 {
		return -a
	}

	return a
}
