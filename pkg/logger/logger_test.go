package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	Named("stream").Info(context.Background(), "reconnecting", String("provider", "render"))

	out := buf.String()
	if !strings.Contains(out, "reconnecting") || !strings.Contains(out, "provider=render") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "component=stream") {
		t.Fatalf("missing component: %q", out)
	}
}

func TestLoggerFanoutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spyro.log")
	var console bytes.Buffer
	if err := Init(WithWriter(&console), WithFile(path)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	Get().Warn(context.Background(), "mapping failed", String("kind", "model_meta"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if !strings.Contains(console.String(), "mapping failed") {
		t.Fatalf("console missing record: %q", console.String())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v (%q)", err, raw)
	}
	if rec["msg"] != "mapping failed" || rec["kind"] != "model_meta" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestSetLevelString(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(WithWriter(&buf)); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Get().Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %q", buf.String())
	}

	if err := SetLevelString("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	SetLevel(slog.LevelInfo)
}

func TestLevelFromVerbosity(t *testing.T) {
	if LevelFromVerbosity(0) != "info" || LevelFromVerbosity(2) != "debug" {
		t.Fatal("unexpected verbosity mapping")
	}
}
