package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", "json", &buf)
	logger.With("component", "queue").Info("enqueued", "count", 3)
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if rec["component"] != "queue" || rec["msg"] != "enqueued" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_Console(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := NewLogger("debug", "console", &buf)
	logger.With("component", "gateway").WithGroup("db").Warn("slow", "ms", 12)

	out := buf.String()
	for _, want := range []string{"WRN ", "slow", "component=gateway", "db.ms=12"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestErrorAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", "json", &buf)

	storeErr := qerrors.NewStorageError(qerrors.CodeUpdateFailed, "insert failed", errors.New("disk I/O error"))
	logger.Error("failed", ErrorAttrs(fmt.Errorf("enqueue: %w", storeErr))...)
	logger.Error("failed", ErrorAttrs(errors.New("plain"))...)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if rec["code"] != qerrors.CodeUpdateFailed || rec["category"] != string(qerrors.ErrCategoryStorage) || rec["retryable"] != true {
		t.Errorf("unexpected store error attributes: %v", rec)
	}

	rec = nil
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if _, ok := rec["code"]; ok || rec["error"] != "plain" {
		t.Errorf("plain errors carry only the error: %v", rec)
	}
}
