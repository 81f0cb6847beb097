// Package export publishes computed session summaries to external targets.
package export

import (
	"context"
	"log/slog"

	"chongmu/internal/core"
	applog "chongmu/internal/log"
)

// SummaryExporter writes the balances and settlements of a session
// somewhere outside the service and removes them when the session goes.
type SummaryExporter interface {
	ExportSummary(ctx context.Context, snap core.Snapshot, sum core.Summary) error
	RemoveSession(ctx context.Context, sessionID string) error
}

// LogExporter only logs what it would export. The worker falls back to it
// when no spreadsheet is configured.
type LogExporter struct {
	Logger *slog.Logger
}

func (l LogExporter) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogExporter) ExportSummary(ctx context.Context, snap core.Snapshot, sum core.Summary) error {
	l.logger().InfoContext(ctx, "Session summary",
		applog.FieldSessionID, snap.SessionID,
		applog.FieldRevision, snap.Revision,
		"participants", len(snap.Participants),
		"settlements", len(sum.Settlements))
	for _, s := range sum.Settlements {
		l.logger().DebugContext(ctx, "Settlement",
			applog.FieldSessionID, snap.SessionID,
			"from", snap.NameOf(s.From),
			"to", snap.NameOf(s.To),
			"amount", s.Amount)
	}
	return nil
}

func (l LogExporter) RemoveSession(ctx context.Context, sessionID string) error {
	l.logger().InfoContext(ctx, "Session removed", applog.FieldSessionID, sessionID)
	return nil
}
