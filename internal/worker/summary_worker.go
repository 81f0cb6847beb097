// Package worker keeps exported session summaries in step with the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chongmu/internal/amqp"
	"chongmu/internal/core"
	"chongmu/internal/export"
	applog "chongmu/internal/log"
	"chongmu/internal/store"
)

// SessionReader is the read side of store.SessionStore.
type SessionReader interface {
	Get(ctx context.Context, id string) (core.Snapshot, error)
	List(ctx context.Context, owner string) ([]store.SessionInfo, error)
}

// SummaryWorker exports a session's summary whenever it changes. It
// remembers the last exported revision per session so duplicate or
// reordered notifications do not rewrite older state. Exports of one
// session are serialized, so the consumer and a resync pass cannot
// overwrite a newer export with an older one.
type SummaryWorker struct {
	sessions SessionReader
	exporter export.SummaryExporter
	logger   *slog.Logger

	mu       sync.Mutex
	exported map[string]int64
	locks    map[string]*sync.Mutex
}

func NewSummaryWorker(sessions SessionReader, exporter export.SummaryExporter, logger *slog.Logger) *SummaryWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryWorker{
		sessions: sessions,
		exporter: exporter,
		logger:   logger.With(applog.FieldComponent, applog.ComponentWorker),
		exported: make(map[string]int64),
		locks:    make(map[string]*sync.Mutex),
	}
}

// HandleSessionChanged processes one change notification. A returned
// error asks the consumer to redeliver the message.
func (w *SummaryWorker) HandleSessionChanged(ctx context.Context, msg *amqp.SessionChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing session change",
		applog.FieldSessionID, msg.SessionID,
		applog.FieldRevision, msg.Revision,
		"deleted", msg.Deleted)

	if msg.Deleted {
		return w.remove(ctx, msg.SessionID)
	}

	if last, ok := w.lastExported(msg.SessionID); ok && msg.Revision <= last {
		w.logger.DebugContext(ctx, "Skipping stale notification",
			applog.FieldSessionID, msg.SessionID,
			applog.FieldRevision, msg.Revision,
			"exported_revision", last)
		return nil
	}

	snap, err := w.sessions.Get(ctx, msg.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.InfoContext(ctx, "Session no longer exists, skipping", applog.FieldSessionID, msg.SessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", msg.SessionID, err)
	}
	return w.exportIfNewer(ctx, snap)
}

// Resync exports every session whose stored revision is ahead of the
// last export and drops sheets of sessions that disappeared. It recovers
// from notifications lost while the worker was down.
func (w *SummaryWorker) Resync(ctx context.Context) error {
	infos, err := w.sessions.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	live := make(map[string]struct{}, len(infos))
	synced, failed := 0, 0
	for _, info := range infos {
		live[info.ID] = struct{}{}
		if last, ok := w.lastExported(info.ID); ok && info.Revision <= last {
			continue
		}
		snap, err := w.sessions.Get(ctx, info.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err == nil {
			err = w.exportIfNewer(ctx, snap)
		}
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to resync session", applog.FieldSessionID, info.ID, applog.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	for _, id := range w.trackedIDs() {
		if _, ok := live[id]; ok {
			continue
		}
		if err := w.remove(ctx, id); err != nil {
			w.logger.ErrorContext(ctx, "Failed to remove vanished session", applog.FieldSessionID, id, applog.FieldError, err)
			failed++
		}
	}

	w.logger.InfoContext(ctx, "Resync completed",
		"total", len(infos),
		"synced", synced,
		"errors", failed)
	if failed > 0 {
		return fmt.Errorf("resync: %d sessions failed", failed)
	}
	return nil
}

// RunResync calls Resync immediately and then every interval until ctx
// is cancelled. Failed passes are logged and retried on the next tick.
func (w *SummaryWorker) RunResync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid resync interval %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Resync(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "Resync pass incomplete", applog.FieldError, err)
		}
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Resync loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// exportIfNewer holds the session lock across the revision check, the
// export and the record of the exported revision.
func (w *SummaryWorker) exportIfNewer(ctx context.Context, snap core.Snapshot) error {
	lock := w.sessionLock(snap.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if last, ok := w.lastExported(snap.SessionID); ok && snap.Revision <= last {
		return nil
	}
	sum := snap.Summary()
	if err := w.exporter.ExportSummary(ctx, snap, sum); err != nil {
		return fmt.Errorf("export session %s: %w", snap.SessionID, err)
	}

	w.mu.Lock()
	if snap.Revision > w.exported[snap.SessionID] {
		w.exported[snap.SessionID] = snap.Revision
	}
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Exported session summary",
		applog.FieldSessionID, snap.SessionID,
		applog.FieldRevision, snap.Revision,
		"settlements", len(sum.Settlements))
	return nil
}

func (w *SummaryWorker) remove(ctx context.Context, id string) error {
	lock := w.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := w.exporter.RemoveSession(ctx, id); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	w.mu.Lock()
	delete(w.exported, id)
	w.mu.Unlock()
	return nil
}

func (w *SummaryWorker) sessionLock(id string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[id] = lock
	}
	return lock
}

func (w *SummaryWorker) lastExported(id string) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rev, ok := w.exported[id]
	return rev, ok
}

func (w *SummaryWorker) trackedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.exported))
	for id := range w.exported {
		ids = append(ids, id)
	}
	return ids
}
