// Package sheets exports session summaries to a Google spreadsheet, one
// tab per session.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"chongmu/internal/core"
	"chongmu/internal/export"
	applog "chongmu/internal/log"
)

const clearRange = "A1:Z1000"

// Config selects the spreadsheet and service-account credentials.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	SheetPrefix     string
}

// sheetAPI is the slice of the Sheets API the exporter needs.
type sheetAPI interface {
	SheetIDs(ctx context.Context) (map[string]int64, error)
	AddSheet(ctx context.Context, title string) error
	DeleteSheet(ctx context.Context, sheetID int64) error
	Clear(ctx context.Context, rng string) error
	Update(ctx context.Context, rng string, rows [][]any) error
}

type Exporter struct {
	api    sheetAPI
	prefix string
	logger *slog.Logger
}

var _ export.SummaryExporter = (*Exporter)(nil)

// New builds an exporter backed by the Google Sheets API.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newExporter(&googleAPI{svc: svc, spreadsheetID: cfg.SpreadsheetID}, cfg.SheetPrefix), nil
}

func newExporter(api sheetAPI, prefix string) *Exporter {
	return &Exporter{
		api:    api,
		prefix: prefix,
		logger: slog.Default().With(applog.FieldComponent, applog.ComponentExport),
	}
}

// ExportSummary rewrites the session's tab with the current summary,
// creating the tab on first use.
func (e *Exporter) ExportSummary(ctx context.Context, snap core.Snapshot, sum core.Summary) error {
	name := SheetName(e.prefix, snap.SessionID)

	ids, err := e.api.SheetIDs(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	if _, ok := ids[name]; !ok {
		if err := e.api.AddSheet(ctx, name); err != nil {
			return fmt.Errorf("add sheet %s: %w", name, err)
		}
		e.logger.InfoContext(ctx, "Created session sheet", applog.FieldSessionID, snap.SessionID, "sheet", name)
	}

	if err := e.api.Clear(ctx, quote(name)+"!"+clearRange); err != nil {
		return fmt.Errorf("clear sheet %s: %w", name, err)
	}
	rows := BuildRows(snap, sum)
	if err := e.api.Update(ctx, quote(name)+"!A1", rows); err != nil {
		return fmt.Errorf("write sheet %s: %w", name, err)
	}

	e.logger.InfoContext(ctx, "Exported session summary",
		applog.FieldSessionID, snap.SessionID,
		applog.FieldRevision, snap.Revision,
		"sheet", name,
		"rows", len(rows))
	return nil
}

// RemoveSession deletes the session's tab if it exists.
func (e *Exporter) RemoveSession(ctx context.Context, sessionID string) error {
	name := SheetName(e.prefix, sessionID)
	ids, err := e.api.SheetIDs(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	id, ok := ids[name]
	if !ok {
		return nil
	}
	if err := e.api.DeleteSheet(ctx, id); err != nil {
		return fmt.Errorf("delete sheet %s: %w", name, err)
	}
	e.logger.InfoContext(ctx, "Removed session sheet", applog.FieldSessionID, sessionID, "sheet", name)
	return nil
}

func quote(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

type googleAPI struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (g *googleAPI) SheetIDs(ctx context.Context) (map[string]int64, error) {
	resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			out[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	return out, nil
}

func (g *googleAPI) AddSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
	}}}
	_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *googleAPI) DeleteSheet(ctx context.Context, sheetID int64) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: sheetID},
	}}}
	_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *googleAPI) Clear(ctx context.Context, rng string) error {
	_, err := g.svc.Spreadsheets.Values.Clear(g.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (g *googleAPI) Update(ctx context.Context, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// newSheetsService authenticates with service-account credentials, given
// inline or as a file, over a pooled HTTP transport.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	if len(credentialsJSON) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
		}
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	}

	jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	// the oauth2 client reuses the pooled client from the context as its base
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(jwtCfg.Client(authCtx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "client_email", jwtCfg.Email)
	return service, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
