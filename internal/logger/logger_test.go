package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelsAreFiltered(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	Use(zap.New(core, zap.AddCallerSkip(1)))
	t.Cleanup(func() { defaultLogger.Store(nil) })

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "warn 3" {
		t.Errorf("entries[0].Message = %q, want %q", entries[0].Message, "warn 3")
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("entries[1].Level = %v, want error", entries[1].Level)
	}
}

func TestCallsBeforeInitAreDiscarded(t *testing.T) {
	defaultLogger.Store(nil)
	Info("dropped %s", "silently")
	Sync()
	if Zap() == nil {
		t.Error("Zap() returned nil before Init")
	}
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { defaultLogger.Store(nil) })
	for _, format := range []string{"json", "text"} {
		if err := Init("debug", format); err != nil {
			t.Fatalf("Init(debug, %s) error = %v", format, err)
		}
		if !Zap().Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("Init(debug, %s) did not enable debug", format)
		}
	}
}
