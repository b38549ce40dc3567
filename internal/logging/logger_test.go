package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(testContext *testing.T) {
	expectations := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range expectations {
		if actual := ParseLevel(input); actual != expected {
			testContext.Fatalf("level %q: expected %s, got %s", input, expected, actual)
		}
	}
}

func TestNewLoggerHonoursLevel(testContext *testing.T) {
	logger, err := NewLogger("error")
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		testContext.Fatalf("expected warn to be disabled at error level")
	}
}
