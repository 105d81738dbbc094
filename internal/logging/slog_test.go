package logging

import (
	"log/slog"
	"testing"
)

func TestOpAttachesComponent(t *testing.T) {
	if Op("pipeline.object") == nil {
		t.Fatal("nil logger")
	}
}

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	SetLevelFromString("debug")
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", logLevel.Level())
	}
	SetLevelFromString("WARN")
	if logLevel.Level() != slog.LevelWarn {
		t.Fatalf("level = %v", logLevel.Level())
	}
	// Unknown strings leave the level unchanged.
	SetLevelFromString("shout")
	if logLevel.Level() != slog.LevelWarn {
		t.Fatalf("level = %v", logLevel.Level())
	}
}
