package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chongmu/internal/core"
)

type fakeAPI struct {
	sheets   map[string]int64
	nextID   int64
	cleared  []string
	written  map[string][][]any
	deleted  []int64
	failList error
	failAdd  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{sheets: map[string]int64{}, nextID: 10, written: map[string][][]any{}}
}

func (f *fakeAPI) SheetIDs(context.Context) (map[string]int64, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	out := make(map[string]int64, len(f.sheets))
	for k, v := range f.sheets {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAPI) AddSheet(_ context.Context, title string) error {
	if f.failAdd != nil {
		return f.failAdd
	}
	f.nextID++
	f.sheets[title] = f.nextID
	return nil
}

func (f *fakeAPI) DeleteSheet(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	for k, v := range f.sheets {
		if v == id {
			delete(f.sheets, k)
		}
	}
	return nil
}

func (f *fakeAPI) Clear(_ context.Context, rng string) error {
	f.cleared = append(f.cleared, rng)
	return nil
}

func (f *fakeAPI) Update(_ context.Context, rng string, rows [][]any) error {
	f.written[rng] = rows
	return nil
}

func tripSnapshot() core.Snapshot {
	return core.Snapshot{
		SessionID: "0b9c2f6e-aaaa-bbbb-cccc-000000000001",
		Title:     "Jeju",
		Revision:  4,
		UpdatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Participants: []core.Participant{
			{ID: "a", Name: "Minji"},
			{ID: "b", Name: "Joon"},
			{ID: "c", Name: "Sora"},
		},
		Expenses: []core.Expense{
			{ID: "e1", Title: "hotel", Amount: 90000, PayerID: "a", Beneficiaries: []string{"a", "b", "c"}},
		},
	}
}

func TestSheetName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		id     string
		want   string
	}{
		{"default prefix", "", "0b9c2f6e-aaaa", "Chongmu 0b9c2f6e"},
		{"short id kept", "Trip", "abc", "Trip abc"},
		{"forbidden characters replaced", "a/b:c", "12345678", "a_b_c 12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SheetName(tt.prefix, tt.id))
		})
	}
}

func TestBuildRows(t *testing.T) {
	snap := tripSnapshot()
	rows := BuildRows(snap, snap.Summary())

	assert.Equal(t, []any{"Session", "Jeju"}, rows[0])
	assert.Equal(t, []any{"Revision", int64(4)}, rows[2])
	assert.Equal(t, []any{"Updated", "2026-03-01T09:00:00Z"}, rows[3])
	assert.Equal(t, []any{"Participant", "Paid", "Owed", "Net"}, rows[6])
	assert.Equal(t, []any{"Minji", int64(90000), int64(30000), int64(60000)}, rows[7])
	assert.Equal(t, []any{"Joon", int64(0), int64(30000), int64(-30000)}, rows[8])

	tail := rows[len(rows)-2:]
	assert.Equal(t, []any{"Joon", "Minji", int64(30000)}, tail[0])
	assert.Equal(t, []any{"Sora", "Minji", int64(30000)}, tail[1])
}

func TestBuildRows_AllSettled(t *testing.T) {
	snap := tripSnapshot()
	snap.Expenses = nil
	rows := BuildRows(snap, snap.Summary())
	assert.Equal(t, []any{"All settled"}, rows[len(rows)-1])
}

func TestExporter_ExportSummary(t *testing.T) {
	api := newFakeAPI()
	exp := newExporter(api, "Trip")
	snap := tripSnapshot()
	name := SheetName("Trip", snap.SessionID)

	require.NoError(t, exp.ExportSummary(context.Background(), snap, snap.Summary()))
	require.Contains(t, api.sheets, name)
	assert.Equal(t, []string{"'" + name + "'!" + clearRange}, api.cleared)
	assert.Len(t, api.written["'"+name+"'!A1"], len(BuildRows(snap, snap.Summary())))

	// a second export reuses the tab
	require.NoError(t, exp.ExportSummary(context.Background(), snap, snap.Summary()))
	assert.Len(t, api.sheets, 1)
	assert.Len(t, api.cleared, 2)
}

func TestExporter_ExportSummaryErrors(t *testing.T) {
	snap := tripSnapshot()

	api := newFakeAPI()
	api.failList = errors.New("quota")
	err := newExporter(api, "").ExportSummary(context.Background(), snap, snap.Summary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list sheets")

	api = newFakeAPI()
	api.failAdd = errors.New("forbidden")
	err = newExporter(api, "").ExportSummary(context.Background(), snap, snap.Summary())
	require.Error(t, err)
	assert.Empty(t, api.written)
}

func TestExporter_RemoveSession(t *testing.T) {
	api := newFakeAPI()
	exp := newExporter(api, "")
	snap := tripSnapshot()

	require.NoError(t, exp.RemoveSession(context.Background(), snap.SessionID))
	assert.Empty(t, api.deleted)

	require.NoError(t, exp.ExportSummary(context.Background(), snap, snap.Summary()))
	require.NoError(t, exp.RemoveSession(context.Background(), snap.SessionID))
	assert.Len(t, api.deleted, 1)
	assert.Empty(t, api.sheets)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'it''s'", quote("it's"))
}
