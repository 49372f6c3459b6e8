package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"  ERROR ", LevelError},
		{"garbage", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Colored: false, ShowTime: false})
	l.SetOutput(&buf)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message missing from output")
	}
	if !strings.Contains(out, "error message") {
		t.Error("error message missing from output")
	}
}

func TestLogger_ComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelInfo, Colored: false, ShowTime: false})
	l.SetOutput(&buf)

	driver := l.WithComponent("Driver")
	driver.Info("turn started")

	if !strings.Contains(buf.String(), "[Driver] turn started") {
		t.Errorf("expected component prefix, got %q", buf.String())
	}
}

func TestStripANSI(t *testing.T) {
	in := "\033[32mINFO\033[0m hello"
	if got := stripANSI(in); got != "INFO hello" {
		t.Errorf("stripANSI() = %q, want %q", got, "INFO hello")
	}
}
