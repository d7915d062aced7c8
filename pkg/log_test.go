package pkg

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// captureLog routes the package logger into a buffer at the given level and
// restores the previous logger and level when the test ends.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	savedLogger, savedLevel := logger(), GetLogLevel()
	t.Cleanup(func() {
		SetLogger(savedLogger)
		SetLogLevel(savedLevel)
	})

	var buf bytes.Buffer
	SetLogLevel(level)
	SetLogger(NewLogger(&buf, nil))
	return &buf
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewLogger_FollowsLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	var buf bytes.Buffer
	l := NewLogger(&buf, nil)

	SetLogLevel(slog.LevelWarn)
	l.Info("channel acquired", "channel", 3)
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}

	SetLogLevel(slog.LevelInfo)
	l.Info("channel acquired", "channel", 3)
	if out := buf.String(); !strings.Contains(out, "channel=3") {
		t.Errorf("log output missing attribute after level change: %s", out)
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	l.Debug("descriptor built", "component", string(ComponentBuilder), "major", 4)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v: %s", err, buf.String())
	}
	if rec["msg"] != "descriptor built" {
		t.Errorf("msg = %v, want %q", rec["msg"], "descriptor built")
	}
	if rec["component"] != "builder" {
		t.Errorf("component = %v, want %q", rec["component"], "builder")
	}
	if rec["major"] != float64(4) {
		t.Errorf("major = %v, want 4", rec["major"])
	}
}

func TestLogComponents(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		level     string
	}{
		{"debug", LogDebug, ComponentBuilder, "DEBUG"},
		{"info", LogInfo, ComponentRouter, "INFO"},
		{"warn", LogWarn, ComponentDispatcher, "WARN"},
		{"error", LogError, ComponentHAL, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t, slog.LevelDebug)
			tt.log(tt.component, "transfer event", "channel", 7)

			out := buf.String()
			for _, want := range []string{
				"level=" + tt.level,
				`msg="transfer event"`,
				"component=" + string(tt.component),
				"channel=7",
			} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q: %s", want, out)
				}
			}
		})
	}
}

func TestLogFiltering(t *testing.T) {
	buf := captureLog(t, slog.LevelWarn)

	LogDebug(ComponentEngine, "submitted")
	LogInfo(ComponentEngine, "completed")
	LogWarn(ComponentEngine, "cancel slow")
	LogError(ComponentEngine, "bus error")

	out := buf.String()
	for _, dropped := range []string{"submitted", "completed"} {
		if strings.Contains(out, dropped) {
			t.Errorf("%q logged below the warn threshold: %s", dropped, out)
		}
	}
	for _, kept := range []string{"cancel slow", "bus error"} {
		if !strings.Contains(out, kept) {
			t.Errorf("%q missing: %s", kept, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"chatty", slog.LevelWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLogLevel(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLogLevel(%q) = %v, %v, want %v, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSetLogger(t *testing.T) {
	captureLog(t, slog.LevelWarn)

	var buf bytes.Buffer
	SetLogger(NewJSONLogger(&buf, nil))
	LogError(ComponentSPI, "frame timed out")
	if !strings.Contains(buf.String(), `"component":"spi"`) {
		t.Errorf("replacement logger not used: %s", buf.String())
	}
}
