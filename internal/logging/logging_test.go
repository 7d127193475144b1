package logging

import (
	"log/slog"
	"testing"
)

func TestOpReturnsNonNilLogger(t *testing.T) {
	if Op() == nil {
		t.Fatal("expected a default operational logger from init()")
	}
}

func TestSetLevelFromStringRecognizesAllLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range cases {
		SetLevelFromString(input)
		if got := logLevel.Level(); got != want {
			t.Fatalf("SetLevelFromString(%q): got %v, want %v", input, got, want)
		}
	}
}

func TestSetLevelFromStringIgnoresUnknownValue(t *testing.T) {
	SetLevel(slog.LevelWarn)
	SetLevelFromString("not-a-level")
	if got := logLevel.Level(); got != slog.LevelWarn {
		t.Fatalf("expected unknown level string to leave level unchanged, got %v", got)
	}
}

func TestInitStructuredSwitchesHandlerAndLevel(t *testing.T) {
	InitStructured("json", "error")
	if logLevel.Level() != slog.LevelError {
		t.Fatalf("got level %v, want error", logLevel.Level())
	}
	if Op() == nil {
		t.Fatal("expected a logger to be installed after InitStructured")
	}

	// Restore defaults so other tests in this package observe a stable level.
	InitStructured("text", "info")
}

func TestOpWithTraceAddsFieldsOnlyWhenTraceIDPresent(t *testing.T) {
	base := Op()
	if got := OpWithTrace("", ""); got != base {
		t.Fatal("expected no trace fields when traceID is empty")
	}
	if got := OpWithTrace("trace-1", "span-1"); got == base {
		t.Fatal("expected a derived logger when traceID is set")
	}
}
