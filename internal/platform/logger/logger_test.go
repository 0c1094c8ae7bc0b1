package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLog(t *testing.T, path string) string {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestNew_DualOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	var console bytes.Buffer

	logger := New(Options{
		Env:          "prod",
		ConsoleLevel: "info",
		FileLevel:    "debug",
		File:         logFile,
		App:          "jobdemo",
		Console:      &console,
	})
	defer func() {
		if err := Close(logger); err != nil {
			t.Errorf("Error closing logger: %v", err)
		}
	}()

	logger.Debug("debug message")
	logger.Info("info message")

	fileContent := readLog(t, logFile)
	if !strings.Contains(fileContent, "debug message") {
		t.Error("File should contain debug message")
	}
	if !strings.Contains(fileContent, `"level":"DEBUG"`) {
		t.Error("File should contain JSON formatted debug level")
	}
	if !strings.Contains(fileContent, `"app":"jobdemo"`) {
		t.Error("File should contain app field")
	}

	if strings.Contains(console.String(), "debug message") {
		t.Error("Console should not contain debug message at info level")
	}
	if !strings.Contains(console.String(), "info message") {
		t.Error("Console should contain info message")
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger := New(Options{Env: "dev", App: "jobdemo", Console: &console})

	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	logger.Info("console only message")

	if !strings.Contains(console.String(), "console only message") {
		t.Error("Console should contain message")
	}
	if err := Close(logger); err != nil {
		t.Errorf("Close without file should be a no-op: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelWarn,
		"trace": slog.LevelWarn,
	}
	for in, want := range tests {
		if got := ParseLevel(in, slog.LevelWarn); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), sensitiveKeys))

	logger.Info("storage opened",
		slog.String("password", "hunter2"),
		slog.String("target", "postgres://jobs:s3cret@db:5432/jobs?sslmode=disable"),
		slog.String("driver", "postgres"),
		slog.String("dsn", "host=db user=jobs"),
		slog.String("postgres_dsn", "host=db user=jobs"),
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Error("password should be redacted")
	}
	if strings.Contains(out, "s3cret") {
		t.Error("DSN password should be masked")
	}
	if !strings.Contains(out, "jobs:xxxxx@db:5432") {
		t.Errorf("DSN should keep user and host, got %s", out)
	}
	if strings.Contains(out, "host=db") {
		t.Errorf("dsn keys should be redacted, got %s", out)
	}
	if !strings.Contains(out, `"driver":"postgres"`) {
		t.Error("Non-sensitive data should not be redacted")
	}
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), sensitiveKeys)).
		With(slog.String("token", "abc"))

	logger.Info("hello")

	if strings.Contains(buf.String(), `"token":"abc"`) {
		t.Error("token attached via With should be redacted")
	}
}

func TestMultiHandler(t *testing.T) {
	var info, warn bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)

	ctx := context.Background()
	if !multi.Enabled(ctx, slog.LevelInfo) {
		t.Error("Should be enabled for info level")
	}
	if multi.Enabled(ctx, slog.LevelDebug) {
		t.Error("Should not be enabled for debug level")
	}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "test", 0)
	if err := multi.Handle(ctx, record); err != nil {
		t.Errorf("Handle should not return error: %v", err)
	}
	if !strings.Contains(info.String(), "test") {
		t.Error("info handler should receive the record")
	}
	if warn.Len() != 0 {
		t.Error("warn handler should skip info records")
	}

	if multi.WithAttrs([]slog.Attr{slog.String("key", "value")}) == nil {
		t.Error("WithAttrs should not return nil")
	}
	if multi.WithGroup("group") == nil {
		t.Error("WithGroup should not return nil")
	}
}

func TestRedactingHandler_KeyValueDSN(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), sensitiveKeys))

	logger.Warn("database not ready", slog.String("error", "connect host=db user=jobs password=s3cret"))

	if strings.Contains(buf.String(), "s3cret") {
		t.Errorf("key=value password should be redacted, got %s", buf.String())
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandler_FailingSink(t *testing.T) {
	var console bytes.Buffer
	multi := NewMultiHandler(
		failingHandler{slog.NewTextHandler(io.Discard, nil)},
		slog.NewTextHandler(&console, nil),
	)

	err := multi.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "still here", 0))
	if err == nil {
		t.Error("sink error should be reported")
	}
	if !strings.Contains(console.String(), "still here") {
		t.Error("healthy sink should still receive the record")
	}
}
