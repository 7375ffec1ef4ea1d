package logger

import "testing"

func TestSetLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{" Debug ", LevelDebug},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			SetLevelFromString(tt.in)
			if got := Level(currentLevel.Load()); got != tt.want {
				t.Errorf("level = %d, want %d", got, tt.want)
			}
		})
	}
	SetLevel(LevelInfo)
}

func TestEnabled(t *testing.T) {
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	if enabled(LevelDebug) || enabled(LevelInfo) {
		t.Error("debug/info should be suppressed at warn level")
	}
	if !enabled(LevelWarn) || !enabled(LevelError) {
		t.Error("warn/error should be emitted at warn level")
	}
}
