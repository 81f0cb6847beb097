package core

import "sort"

// Settlement is a suggested transfer from a net debtor to a net creditor.
type Settlement struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type position struct {
	id     string
	amount int64
}

// Settle matches debtors with creditors greedily, largest first, and
// returns the transfers that bring every net balance to zero. Ids are
// visited in sorted order so ties resolve the same way on every call.
func Settle(balances map[string]BalanceRecord) []Settlement {
	return SettleOrdered(nil, balances)
}

// SettleOrdered is Settle with ties broken by the position of each id in
// order. Ids missing from order follow in sorted order.
func SettleOrdered(order []string, balances map[string]BalanceRecord) []Settlement {
	var creditors, debtors []position
	for _, id := range visitOrder(order, balances) {
		net := balances[id].Net
		switch {
		case net > 0:
			creditors = append(creditors, position{id: id, amount: net})
		case net < 0:
			debtors = append(debtors, position{id: id, amount: -net})
		}
	}
	sort.SliceStable(creditors, func(i, j int) bool { return creditors[i].amount > creditors[j].amount })
	sort.SliceStable(debtors, func(i, j int) bool { return debtors[i].amount > debtors[j].amount })

	settlements := make([]Settlement, 0, len(creditors)+len(debtors))
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		pay := min(d.amount, c.amount)
		if pay > 0 {
			settlements = append(settlements, Settlement{From: d.id, To: c.id, Amount: pay})
		}
		d.amount -= pay
		c.amount -= pay
		if d.amount == 0 {
			i++
		}
		if c.amount == 0 {
			j++
		}
	}
	return settlements
}

func visitOrder(order []string, balances map[string]BalanceRecord) []string {
	ids := make([]string, 0, len(balances))
	seen := make(map[string]struct{}, len(balances))
	for _, id := range order {
		if _, ok := balances[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	var rest []string
	for id := range balances {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}
