package importer_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/importer"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

type recorder struct {
	actions []store.Action
	reject  func(store.Action) bool
}

func (r *recorder) Dispatch(a store.Action) error {
	if r.reject != nil && r.reject(a) {
		return store.ErrInvalidAction
	}

	r.actions = append(r.actions, a)

	return nil
}

const statement = `Data mov.;Descrição;Montante
30-01-2026;RENDA;-650,00
31-01-2026;SALARIO;2.100,00
`

func sequence() func() string {
	n := 0

	return func() string {
		n++
		return []string{"a", "b", "c"}[n-1]
	}
}

func TestImport_DispatchesTransactions(t *testing.T) {
	rec := &recorder{}
	svc := importer.NewService(rec, sequence(), nil)

	res, err := svc.Import(importer.BankCGD, strings.NewReader(statement))
	require.NoError(t, err)

	assert.Equal(t, importer.Result{Parsed: 2, Imported: 2, IDs: []string{"a", "b"}}, res)
	require.Len(t, rec.actions, 2)

	add, ok := rec.actions[0].(store.AddTransaction)
	require.True(t, ok)
	assert.Equal(t, finance.Transaction{
		ID:       "a",
		Type:     finance.TxExpense,
		Amount:   money.Amount(65000),
		Category: "cgd",
		Note:     "RENDA",
		Date:     "2026-01-30",
	}, add.Transaction)
}

func TestImport_CountsRejections(t *testing.T) {
	rec := &recorder{reject: func(a store.Action) bool {
		return a.(store.AddTransaction).Note == "RENDA"
	}}
	svc := importer.NewService(rec, nil, nil)

	res, err := svc.Import(importer.BankCGD, strings.NewReader(statement))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Imported)
	assert.Empty(t, res.IDs)
}

func TestImport_Errors(t *testing.T) {
	svc := importer.NewService(&recorder{}, nil, nil)

	_, err := svc.Import("bpi", strings.NewReader(statement))
	assert.True(t, errors.Is(err, importer.ErrUnknownBank))

	_, err = svc.Import(importer.BankCGD, strings.NewReader("nothing;here\n"))
	assert.Error(t, err)
}

type rules map[string]string

func (r rules) Suggest(description string) (string, error) {
	if description == "BROKEN" {
		return "", errors.New("rules unavailable")
	}

	return r[description], nil
}

func TestImport_SuggestsCategories(t *testing.T) {
	rec := &recorder{}
	svc := importer.NewService(rec, nil, nil).WithSuggester(rules{"SALARIO": "Work"})

	_, err := svc.Import(importer.BankCGD, strings.NewReader(statement))
	require.NoError(t, err)
	require.Len(t, rec.actions, 2)

	assert.Equal(t, "cgd", rec.actions[0].(store.AddTransaction).Category, "no rule falls back to the bank")
	assert.Equal(t, "Work", rec.actions[1].(store.AddTransaction).Category)
}
