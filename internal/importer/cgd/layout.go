package cgd

// signMode says how a layout encodes the direction of a movement.
type signMode int

const (
	// signed is one column holding a signed amount ("-10,00").
	signed signMode = iota
	// debitCredit is a pair of unsigned columns, one per direction.
	debitCredit
)

// Layout is the header set of one CGD export. Layouts are tried in order, so
// the more specific ones come first.
type Layout struct {
	Name   string
	Date   string
	Desc   string
	Mode   signMode
	Amount string
	Debit  string
	Credit string
}

func (l Layout) columns() []string {
	if l.Mode == debitCredit {
		return []string{l.Date, l.Desc, l.Debit, l.Credit}
	}

	return []string{l.Date, l.Desc, l.Amount}
}

var layouts = []Layout{
	{Name: "cartão", Date: "Data", Desc: "Descrição", Mode: debitCredit, Debit: "Débito", Credit: "Crédito"},
	{Name: "extrato", Date: "Data mov.", Desc: "Descrição", Mode: signed, Amount: "Movimento"},
	{Name: "conta", Date: "Data mov.", Desc: "Descrição", Mode: signed, Amount: "Montante"},
}
