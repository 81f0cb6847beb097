package core

// Summary is the result handed back to callers: balances keyed by
// participant id and the settlements that clear them.
type Summary struct {
	Balances    map[string]BalanceRecord `json:"balances"`
	Settlements []Settlement             `json:"settlements"`
}

// Compute aggregates balances and derives settlements for a snapshot of
// participants and expenses. It never fails and holds no state, so equal
// inputs always produce equal summaries.
func Compute(participants []Participant, expenses []Expense) Summary {
	balances := Aggregate(participants, expenses)
	order := make([]string, len(participants))
	for i, p := range participants {
		order[i] = p.ID
	}
	return Summary{
		Balances:    balances,
		Settlements: SettleOrdered(order, balances),
	}
}

// Clone returns a copy that shares no maps or slices with s.
func (s Summary) Clone() Summary {
	out := Summary{
		Balances:    make(map[string]BalanceRecord, len(s.Balances)),
		Settlements: append(make([]Settlement, 0, len(s.Settlements)), s.Settlements...),
	}
	for id, b := range s.Balances {
		out.Balances[id] = b
	}
	return out
}
