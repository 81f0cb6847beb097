package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONFormatIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentSession, Output: &buf})

	logger.Info("participant added", FieldSessionID, "s1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if record[FieldComponent] != ComponentSession {
		t.Errorf("component = %v, want %v", record[FieldComponent], ComponentSession)
	}
	if record[FieldSessionID] != "s1" {
		t.Errorf("session_id = %v, want s1", record[FieldSessionID])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestWithComponent(t *testing.T) {
	base := New(Config{Component: ComponentApp, Output: &bytes.Buffer{}})
	child := base.WithComponent(ComponentWorker)

	if child.Component() != ComponentWorker {
		t.Errorf("Component() = %v, want %v", child.Component(), ComponentWorker)
	}
	if base.Component() != ComponentApp {
		t.Errorf("base component changed to %v", base.Component())
	}
}

func TestSlogCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Component: ComponentHTTP, Output: &buf}).Slog().Info("request")

	if !strings.Contains(buf.String(), FieldComponent+"="+ComponentHTTP) {
		t.Errorf("component missing from plain slog record: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got == nil || got.Component() != "unknown" {
		t.Fatalf("FromContext without logger should return fallback, got %+v", got)
	}

	logger := Discard().WithComponent(ComponentHTTP)
	ctx := NewContext(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Errorf("FromContext returned a different logger")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	handler := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("inside")
		}),
	))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"request_id":"req_1"`) {
		t.Errorf("request id not propagated: %s", buf.String())
	}
}

func TestLogFields(t *testing.T) {
	fields := NewFields().
		WithSession("s1", 3).
		WithExpense("e1", 500).
		WithRequestID("").
		WithError(nil).
		WithOperation(OpUpdate)

	if _, ok := fields[FieldRequestID]; ok {
		t.Error("empty request id should be omitted")
	}
	if _, ok := fields[FieldError]; ok {
		t.Error("nil error should be omitted")
	}
	if fields[FieldRevision] != int64(3) {
		t.Errorf("revision = %v", fields[FieldRevision])
	}
	if len(fields.ToSlice()) != 2*len(fields) {
		t.Errorf("ToSlice length mismatch")
	}
}
