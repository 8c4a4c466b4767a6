package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnvOverridesApplyOnTopOfProfile(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "true")

	cfg := defaultConfig(ProfileTest)
	if cfg.Timestamp {
		t.Fatalf("test profile should default to no timestamp")
	}
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if !cfg.Timestamp {
		t.Fatalf("expected timestamp override")
	}
}
