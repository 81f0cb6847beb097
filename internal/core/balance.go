package core

// BalanceRecord is one participant's position across all expenses.
// Owed keeps the unrounded sum of equal-split fractions; Net is rounded.
type BalanceRecord struct {
	Paid int64   `json:"paid"`
	Owed float64 `json:"owed"`
	Net  int64   `json:"net"`
}

// Aggregate folds expenses into a balance record per participant.
//
// Only ids present in participants appear in the result. Payers and
// beneficiaries that reference unknown ids are ignored, zero-amount
// expenses are skipped and expenses without beneficiaries only credit the
// payer. Inputs are not modified.
func Aggregate(participants []Participant, expenses []Expense) map[string]BalanceRecord {
	acc := make(map[string]*BalanceRecord, len(participants))
	for _, p := range participants {
		acc[p.ID] = &BalanceRecord{}
	}

	for _, e := range expenses {
		amount := e.Amount
		if amount == 0 {
			continue
		}
		if b, ok := acc[e.PayerID]; ok {
			b.Paid = addSaturating(b.Paid, amount)
		}

		n := len(e.Beneficiaries)
		if n == 0 {
			continue
		}
		switch split := e.Split.(type) {
		case CustomSplit:
			for _, id := range e.Beneficiaries {
				if b, ok := acc[id]; ok {
					b.Owed += float64(ClampShare(split.Shares[id]))
				}
			}
		default:
			share := float64(amount) / float64(n)
			for _, id := range e.Beneficiaries {
				if b, ok := acc[id]; ok {
					b.Owed += share
				}
			}
		}
	}

	out := make(map[string]BalanceRecord, len(acc))
	for id, b := range acc {
		b.Net = Round(float64(b.Paid) - b.Owed)
		out[id] = *b
	}
	return out
}
