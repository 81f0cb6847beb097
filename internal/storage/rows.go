package storage

import "chongmu/internal/core"

// ExpenseRow is the flat expenses-table form of an expense, shared by the
// SQL backends. Nullable columns map to pointers.
type ExpenseRow struct {
	ID             string
	Title          string
	Amount         int64
	PayerID        string
	SplitMode      string
	OriginalAmount *int64
	Currency       *string
	ExchangeRate   *float64
}

// ExpenseRowOf flattens an expense for storage.
func ExpenseRowOf(e core.Expense) ExpenseRow {
	row := ExpenseRow{
		ID:        e.ID,
		Title:     e.Title,
		Amount:    e.Amount,
		PayerID:   e.PayerID,
		SplitMode: string(e.SplitMode()),
	}
	if e.Original != nil {
		amount, currency, rate := e.Original.Amount, e.Original.Currency, e.Original.ExchangeRate
		row.OriginalAmount = &amount
		row.Currency = &currency
		row.ExchangeRate = &rate
	}
	return row
}

// Expense rebuilds the expense from its row plus the child-table data.
// shares is only consulted for custom splits.
func (r ExpenseRow) Expense(beneficiaries []string, shares map[string]int64) core.Expense {
	e := core.Expense{
		ID:            r.ID,
		Title:         r.Title,
		Amount:        r.Amount,
		PayerID:       r.PayerID,
		Beneficiaries: beneficiaries,
		Split:         core.EqualSplit{},
	}
	if core.SplitMode(r.SplitMode) == core.SplitCustom {
		if shares == nil {
			shares = map[string]int64{}
		}
		e.Split = core.CustomSplit{Shares: shares}
	}
	if r.OriginalAmount != nil {
		orig := &core.OriginalAmount{Amount: *r.OriginalAmount, ExchangeRate: 1}
		if r.Currency != nil {
			orig.Currency = *r.Currency
		}
		if r.ExchangeRate != nil {
			orig.ExchangeRate = *r.ExchangeRate
		}
		e.Original = orig
	}
	return e
}
