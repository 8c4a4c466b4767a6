package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestParseFloats(t *testing.T) {
	got, err := parseFloats([]string{"1", " -0.5 ", "2.25", "90"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []float32{1, -0.5, 2.25, 90}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
	if _, err := parseFloats([]string{"x"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFlyDefaultsAreIndependent(t *testing.T) {
	root := rootCmd()
	takeoff, _, err := root.Find([]string{"fly", "takeoff"})
	if err != nil {
		t.Fatalf("find takeoff: %v", err)
	}
	land, _, err := root.Find([]string{"fly", "land"})
	if err != nil {
		t.Fatalf("find land: %v", err)
	}
	if v := takeoff.Flags().Lookup("height").DefValue; v != "0.2" {
		t.Fatalf("unexpected takeoff height default %q", v)
	}
	if v := land.Flags().Lookup("height").DefValue; v != "0" {
		t.Fatalf("unexpected land height default %q", v)
	}
}

func TestPersistentFlagsOverrideConfig(t *testing.T) {
	a := &app{}
	root := newRootCmd(a)
	param, _, err := root.Find([]string{"param"})
	if err != nil {
		t.Fatalf("find param: %v", err)
	}
	param.RunE = func(cmd *cobra.Command, args []string) error { return nil }

	root.SetArgs([]string{"--config", "ex.config.toml", "--device", "/dev/ttyACM3", "param"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if a.cfg.Serial.Device != "/dev/ttyACM3" {
		t.Fatalf("flag should override config device, got %q", a.cfg.Serial.Device)
	}
	if a.cfg.Serial.Baud != 230400 {
		t.Fatalf("config baud should survive, got %d", a.cfg.Serial.Baud)
	}
}
