package logging

import (
	"testing"

	logs "github.com/danmuck/smplog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logs.Level{
		"trace":   logs.TraceLevel,
		" DEBUG ": logs.DebugLevel,
		"warning": logs.WarnLevel,
		"off":     logs.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("expected empty level to be rejected")
	}
}

func TestInteractiveProfileWritesWarnings(t *testing.T) {
	cfg := defaultConfig(ProfileInteractive)
	if cfg.Level != logs.WarnLevel {
		t.Fatalf("unexpected interactive level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected interactive timestamps disabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogTimestamp, "nope")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != logs.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if !cfg.NoColor {
		t.Fatalf("expected no color")
	}
	if !cfg.Timestamp {
		t.Fatalf("invalid bool should keep runtime timestamp default")
	}
}
