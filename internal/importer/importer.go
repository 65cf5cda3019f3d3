// Package importer turns bank statements into ADD_TRANSACTION dispatches.
package importer

import (
	"io"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

type Bank string

const (
	BankCGD Bank = "cgd"
)

type Parser interface {
	Parse(r io.Reader) ([]finance.Transaction, error)
}

// Dispatcher applies actions to the local store.
type Dispatcher interface {
	Dispatch(a store.Action) error
}

// Suggester proposes a category for a movement description.
type Suggester interface {
	Suggest(description string) (string, error)
}

// Result summarizes one import.
type Result struct {
	Parsed   int      `json:"parsed"`
	Imported int      `json:"imported"`
	Rejected int      `json:"rejected"`
	IDs      []string `json:"ids,omitempty"`
}
