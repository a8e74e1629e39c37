package logger

import "testing"

func TestLoggerUsableBeforeInitialize(t *testing.T) {
	// The package-level logger must be a safe nop before Initialize
	if Logger == nil {
		t.Fatal("Logger should never be nil")
	}
	Logger.Infow("this must not panic", "key", "value")
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(true) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("JSONOutput flag should be set")
	}
	Logger.Infow("structured output ready", "mode", "json")
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(false) failed: %v", err)
	}
	if JSONOutput {
		t.Error("JSONOutput flag should be cleared")
	}
	Named("test").Infow("console output ready")
}
