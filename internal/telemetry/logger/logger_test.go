package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newJSONLogger(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default config", DefaultConfig()},
		{"json format", Config{Level: "debug", Format: "json"}},
		{"unknown format falls back to text", Config{Level: "info", Format: "logfmt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if l == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newJSONLogger(t, "debug")

	tests := []struct {
		level   string
		logFunc func(string, ...any)
	}{
		{"DEBUG", l.Debug},
		{"INFO", l.Info},
		{"WARN", l.Warn},
		{"ERROR", l.Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("test message", "component", "session")

			entry := decode(t, buf)
			if entry["msg"] != "test message" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["component"] != "session" {
				t.Errorf("component = %v", entry["component"])
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newJSONLogger(t, "info")

	l.With("component", "refresh").Info("scheduled")

	entry := decode(t, buf)
	if entry["component"] != "refresh" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newJSONLogger(t, "warn")

	l.Debug("debug")
	l.Info("info")
	if buf.Len() != 0 {
		t.Errorf("debug/info should be filtered at warn, got %q", buf.String())
	}
	l.Warn("warn")
	if buf.Len() == 0 {
		t.Error("warn should be logged at warn level")
	}
}

func TestSetLevel(t *testing.T) {
	l, buf := newJSONLogger(t, "error")
	defer SetLevel("warn")

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatal("info should be filtered at error level")
	}

	SetLevel("debug")
	if GetLevel() != "debug" {
		t.Errorf("GetLevel() = %s, want debug", GetLevel())
	}
	l.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("info should be logged after SetLevel(debug)")
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if !ValidLevel(lvl) {
			t.Errorf("ValidLevel(%q) = false", lvl)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true")
	}
}

func TestLogger_WithContext(t *testing.T) {
	l, buf := newJSONLogger(t, "info")
	ctx := WithRequestID(context.Background(), "01HZX")

	L(WithLogger(ctx, l)).Info("request")

	entry := decode(t, buf)
	if entry["request_id"] != "01HZX" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
}

func TestSlogAndNop(t *testing.T) {
	l, buf := newJSONLogger(t, "info")
	Slog(l).Info("through slog")
	if !strings.Contains(buf.String(), "through slog") {
		t.Error("Slog() should share the handler")
	}

	Nop().Error("discarded")
	if Slog(Nop()) == nil {
		t.Error("Slog(Nop()) should not be nil")
	}
}
