package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chongmu/internal/amqp"
	"chongmu/internal/core"
	"chongmu/internal/log"
	"chongmu/internal/store"
	"chongmu/internal/store/memory"
)

type exportCall struct {
	sessionID string
	revision  int64
}

type fakeExporter struct {
	mu      sync.Mutex
	exports []exportCall
	removed []string
	fail    error
}

func (f *fakeExporter) ExportSummary(_ context.Context, snap core.Snapshot, _ core.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.exports = append(f.exports, exportCall{snap.SessionID, snap.Revision})
	return nil
}

func (f *fakeExporter) RemoveSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeExporter) exportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exports)
}

func seed(t *testing.T, st *memory.Store, id string) core.Snapshot {
	t.Helper()
	snap := core.Snapshot{
		SessionID:    id,
		Title:        "trip " + id,
		Revision:     1,
		Participants: []core.Participant{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}},
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, st.Create(context.Background(), snap))
	return snap
}

func bump(t *testing.T, st *memory.Store, snap core.Snapshot) core.Snapshot {
	t.Helper()
	snap.Revision++
	snap.Expenses = append(snap.Expenses, core.Expense{
		ID: "e", Title: "taxi", Amount: 10000, PayerID: "a", Beneficiaries: []string{"a", "b"},
	})
	require.NoError(t, st.Save(context.Background(), snap))
	return snap
}

func newTestWorker(st *memory.Store, exp *fakeExporter) *SummaryWorker {
	return NewSummaryWorker(st, exp, log.Discard().Logger)
}

func TestHandleSessionChanged_ExportsLatestRevision(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	exp := &fakeExporter{}
	w := newTestWorker(st, exp)

	snap := seed(t, st, "s1")
	snap = bump(t, st, snap)

	// the notification for revision 1 arrives after revision 2 was saved
	require.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 1)))
	assert.Equal(t, []exportCall{{"s1", 2}}, exp.exports)

	require.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 2)))
	assert.Len(t, exp.exports, 1, "duplicate notification must not re-export")

	bump(t, st, snap)
	require.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 3)))
	assert.Equal(t, []exportCall{{"s1", 2}, {"s1", 3}}, exp.exports)
}

func TestHandleSessionChanged_MissingSession(t *testing.T) {
	exp := &fakeExporter{}
	w := newTestWorker(memory.New(), exp)

	require.NoError(t, w.HandleSessionChanged(context.Background(), amqp.NewSessionChangedMessage("gone", 4)))
	assert.Empty(t, exp.exports)
}

func TestHandleSessionChanged_Deleted(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	exp := &fakeExporter{}
	w := newTestWorker(st, exp)

	seed(t, st, "s1")
	require.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 1)))
	require.NoError(t, st.Delete(ctx, "s1"))

	msg := amqp.NewSessionChangedMessage("s1", 2)
	msg.Deleted = true
	require.NoError(t, w.HandleSessionChanged(ctx, msg))
	assert.Equal(t, []string{"s1"}, exp.removed)

	_, tracked := w.lastExported("s1")
	assert.False(t, tracked)
}

func TestHandleSessionChanged_ExportFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	exp := &fakeExporter{fail: errors.New("sheets down")}
	w := newTestWorker(st, exp)
	seed(t, st, "s1")

	err := w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheets down")

	// nothing was recorded so the redelivery exports
	exp.fail = nil
	require.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 1)))
	assert.Len(t, exp.exports, 1)
}

func TestResync(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	exp := &fakeExporter{}
	w := newTestWorker(st, exp)

	seed(t, st, "s1")
	s2 := seed(t, st, "s2")

	require.NoError(t, w.Resync(ctx))
	assert.ElementsMatch(t, []exportCall{{"s1", 1}, {"s2", 1}}, exp.exports)

	// unchanged sessions are skipped
	require.NoError(t, w.Resync(ctx))
	assert.Len(t, exp.exports, 2)

	bump(t, st, s2)
	require.NoError(t, st.Delete(ctx, "s1"))
	require.NoError(t, w.Resync(ctx))
	assert.Contains(t, exp.exports, exportCall{"s2", 2})
	assert.Equal(t, []string{"s1"}, exp.removed)
}

func TestResync_ReportsFailures(t *testing.T) {
	st := memory.New()
	seed(t, st, "s1")
	w := newTestWorker(st, &fakeExporter{fail: errors.New("quota")})

	err := w.Resync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sessions failed")
}

func TestRunResync_StopsOnCancel(t *testing.T) {
	st := memory.New()
	seed(t, st, "s1")
	exp := &fakeExporter{}
	w := newTestWorker(st, exp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunResync(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return exp.exportCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("resync loop did not stop")
	}

	assert.Error(t, w.RunResync(context.Background(), 0))
}

// scriptedReader returns the queued snapshots from Get in call order.
type scriptedReader struct {
	mu    sync.Mutex
	gets  []core.Snapshot
	infos []store.SessionInfo
}

func (r *scriptedReader) Get(_ context.Context, id string) (core.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.gets) == 0 {
		return core.Snapshot{}, store.ErrNotFound
	}
	snap := r.gets[0]
	r.gets = r.gets[1:]
	return snap, nil
}

func (r *scriptedReader) List(context.Context, string) ([]store.SessionInfo, error) {
	return r.infos, nil
}

// slowExporter blocks its first export until release is closed.
type slowExporter struct {
	fakeExporter
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowExporter) ExportSummary(ctx context.Context, snap core.Snapshot, sum core.Summary) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		<-s.release
	}
	return s.fakeExporter.ExportSummary(ctx, snap, sum)
}

func TestConcurrentConsumerAndResyncKeepNewestExport(t *testing.T) {
	ctx := context.Background()
	rev := func(r int64) core.Snapshot {
		return core.Snapshot{SessionID: "s1", Revision: r, Participants: []core.Participant{{ID: "a", Name: "A"}}}
	}
	reader := &scriptedReader{
		gets:  []core.Snapshot{rev(6), rev(5)},
		infos: []store.SessionInfo{{ID: "s1", Revision: 5}},
	}
	exp := &slowExporter{started: make(chan struct{}), release: make(chan struct{})}
	w := NewSummaryWorker(reader, exp, log.Discard().Logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, w.HandleSessionChanged(ctx, amqp.NewSessionChangedMessage("s1", 6)))
	}()
	<-exp.started

	go func() {
		defer wg.Done()
		assert.NoError(t, w.Resync(ctx))
	}()
	time.Sleep(50 * time.Millisecond)
	close(exp.release)
	wg.Wait()

	assert.Equal(t, []exportCall{{"s1", 6}}, exp.exports)
	last, ok := w.lastExported("s1")
	require.True(t, ok)
	assert.Equal(t, int64(6), last)
}
