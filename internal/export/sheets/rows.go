package sheets

import (
	"strings"
	"time"

	"chongmu/internal/core"
)

// maxSheetTitle keeps generated tab names well under the Sheets limit.
const maxSheetTitle = 90

// SheetName returns the tab name used for a session. It depends only on
// the session id so renaming a session keeps writing to the same tab.
func SheetName(prefix, sessionID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "Chongmu"
	}
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':', '\'':
			return '_'
		}
		return r
	}, prefix+" "+id)
	if len(name) > maxSheetTitle {
		name = name[:maxSheetTitle]
	}
	return name
}

// BuildRows lays out a session summary as sheet rows: a header block, a
// balances table in participant order and a settlements table.
func BuildRows(snap core.Snapshot, sum core.Summary) [][]any {
	rows := [][]any{
		{"Session", snap.Title},
		{"Session ID", snap.SessionID},
		{"Revision", snap.Revision},
		{"Updated", snap.UpdatedAt.UTC().Format(time.RFC3339)},
		{},
		{"Balances"},
		{"Participant", "Paid", "Owed", "Net"},
	}
	for _, p := range snap.Participants {
		b := sum.Balances[p.ID]
		rows = append(rows, []any{p.Name, b.Paid, core.Round(b.Owed), b.Net})
	}

	rows = append(rows,
		[]any{},
		[]any{"Settlements"},
		[]any{"From", "To", "Amount"},
	)
	if len(sum.Settlements) == 0 {
		rows = append(rows, []any{"All settled"})
	}
	for _, s := range sum.Settlements {
		rows = append(rows, []any{snap.NameOf(s.From), snap.NameOf(s.To), s.Amount})
	}
	return rows
}
