package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	l := NewLogger(nil)
	if l == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}

	l = NewLogger(&Config{Level: LevelDebug, Output: nil})
	if l == nil {
		t.Fatal("NewLogger with nil output returned nil")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below LevelWarn should be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error messages missing, got %q", out)
	}
}

func TestLevelPrefixes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	out := buf.String()
	for _, prefix := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"} {
		if !strings.Contains(out, prefix) {
			t.Errorf("missing %s prefix in %q", prefix, out)
		}
	}
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	l.Info("mirror started", "name", "mirror0", "bases", 3)

	out := buf.String()
	if !strings.Contains(out, "name=mirror0") || !strings.Contains(out, "bases=3") {
		t.Errorf("key-value args not formatted, got %q", out)
	}
}

func TestFormattedLogging(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	l.Debugf("base %d of %d", 1, 3)
	l.Printf("resized to %d blocks", 2048)

	out := buf.String()
	if !strings.Contains(out, "base 1 of 3") {
		t.Errorf("Debugf output missing, got %q", out)
	}
	if !strings.Contains(out, "resized to 2048 blocks") {
		t.Errorf("Printf output missing, got %q", out)
	}
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelInfo, Output: &buf}))

	Info("through the default logger")
	if !strings.Contains(buf.String(), "through the default logger") {
		t.Errorf("default logger did not receive the message, got %q", buf.String())
	}
}
