package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chongmu/internal/core"
)

const legacyDoc = `{
  "participants": [{"id": "a", "name": "Ana"}, {"id": "b", "name": "Bo"}],
  "expenses": [
    {"id": "e1", "title": "Dinner", "amount": 30000, "payerId": "a",
     "beneficiaries": ["a", "b"], "splitMode": "equal",
     "originalAmount": 30000, "currency": "KRW", "exchangeRate": 1},
    {"id": "e2", "title": "Taxi", "amount": 10000, "payerId": "b",
     "beneficiaries": ["a", "b"], "splitMode": "custom",
     "shares": {"a": 7000.4, "b": 3000}},
    {"id": "e3", "title": "Snacks", "amount": 900, "payerId": "a",
     "beneficiaries": ["b"], "splitMode": "custom"},
    {"id": "e4", "title": "Museum", "amount": 100, "payerId": "a",
     "beneficiaries": ["b"], "splitMode": "weighted"}
  ]
}`

func TestDecode_LegacyDocument(t *testing.T) {
	s, err := Decode([]byte(legacyDoc))
	require.NoError(t, err)

	assert.Empty(t, s.SessionID)
	assert.Equal(t, []core.Participant{{ID: "a", Name: "Ana"}, {ID: "b", Name: "Bo"}}, s.Participants)
	require.Len(t, s.Expenses, 4)

	dinner := s.Expenses[0]
	assert.Equal(t, int64(30000), dinner.Amount)
	assert.Equal(t, core.SplitEqual, dinner.SplitMode())
	require.NotNil(t, dinner.Original)
	assert.Equal(t, "KRW", dinner.Original.Currency)

	taxi := s.Expenses[1]
	assert.Equal(t, core.SplitCustom, taxi.SplitMode())
	assert.Equal(t, map[string]int64{"a": 7000, "b": 3000}, taxi.Shares())

	assert.Equal(t, core.SplitEqual, s.Expenses[2].SplitMode(), "custom without shares decodes as equal")
	assert.Equal(t, core.SplitEqual, s.Expenses[3].SplitMode(), "unknown mode decodes as equal")
}

func TestEncodeDecode_PreservesSession(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := core.Snapshot{
		SessionID:    "s1",
		Title:        "Jeju",
		Owner:        "u1",
		Revision:     7,
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Hour),
		Participants: []core.Participant{{ID: "a", Name: "Ana"}, {ID: "b", Name: "Bo"}},
		Expenses: []core.Expense{{
			ID: "e1", Title: "Hotel", Amount: 34513, PayerID: "b",
			Beneficiaries: []string{"a", "b"},
			Split:         core.CustomSplit{Shares: map[string]int64{"a": 20000, "b": 14513}},
			Original:      &core.OriginalAmount{Amount: 25, Currency: "USD", ExchangeRate: 1380.5},
		}},
	}

	data, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, in.Summary(), out.Summary())
}

func TestEncode_EmptySnapshotUsesArrays(t *testing.T) {
	data, err := Encode(core.Snapshot{SessionID: "s"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"participants": []`)
	assert.Contains(t, string(data), `"expenses": []`)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `{`, ErrMalformed},
		{"wrong type", `{"participants": "x"}`, ErrMalformed},
		{"future version", `{"version": 2, "participants": [], "expenses": []}`, ErrUnsupportedVersion},
		{"participant without id", `{"participants": [{"name": "x"}]}`, ErrMalformed},
		{"duplicate participant", `{"participants": [{"id": "a"}, {"id": "a"}]}`, ErrMalformed},
		{"duplicate expense", `{"expenses": [{"id": "e"}, {"id": "e"}]}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
