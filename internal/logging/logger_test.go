package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slidereel/internal/services"
)

func TestFormatSubject(t *testing.T) {
	cases := []struct {
		component string
		jobID     string
		stage     string
		want      string
	}{
		{"workflow-manager", "12", "render", "workflow-manager · job #12 (render)"},
		{"workflow-manager", "12", "", "workflow-manager · job #12"},
		{"workflow-manager", "", "render", "workflow-manager · render"},
		{"workflow-manager", "", "", "workflow-manager"},
		{"", "12", "", "job #12"},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		if got := FormatSubject(tc.component, tc.jobID, tc.stage); got != tc.want {
			t.Errorf("FormatSubject(%q, %q, %q) = %q, want %q", tc.component, tc.jobID, tc.stage, got, tc.want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestJSONOutputToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "slidereel.log")
	logger, err := New(Options{
		Level:            "debug",
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("stage started",
		String(FieldComponent, "workflow-manager"),
		Int64(FieldJobID, 7),
		String(FieldStage, "extract"))

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("log file is empty")
	}

	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "stage started" || entry["level"] != "info" {
		t.Fatalf("entry = %v", entry)
	}
	if entry[FieldComponent] != "workflow-manager" || entry[FieldStage] != "extract" {
		t.Fatalf("entry missing fields: %v", entry)
	}
	if entry[FieldJobID] != float64(7) {
		t.Fatalf("job id = %v", entry[FieldJobID])
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for value, want := range cases {
		if got := parseLevel(value); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestNewComponentLoggerHandlesNilBase(t *testing.T) {
	logger := NewComponentLogger(nil, "test")
	if logger == nil {
		t.Fatal("nil logger returned")
	}
	// Must not panic.
	logger.Info("noop")
}

func TestContextFields(t *testing.T) {
	ctx := services.WithJobID(context.Background(), 42)
	ctx = services.WithStage(ctx, "render")

	fields := ContextFields(ctx)
	var haveJob, haveStage bool
	for _, attr := range fields {
		switch attr.Key {
		case FieldJobID:
			haveJob = attr.Value.Int64() == 42
		case FieldStage:
			haveStage = attr.Value.String() == "render"
		}
	}
	if !haveJob || !haveStage {
		t.Fatalf("fields = %v", fields)
	}

	if got := ContextFields(context.Background()); len(got) != 0 {
		t.Fatalf("empty context produced fields: %v", got)
	}
}

func TestFormatSubjectTrimsWhitespace(t *testing.T) {
	if got := FormatSubject("  daemon  ", " 3 ", ""); !strings.Contains(got, "daemon") || !strings.Contains(got, "job #3") {
		t.Fatalf("got %q", got)
	}
}
