package config_test

import (
	"testing"

	"github.com/grinuri/ib-benchmark/bench"
	"github.com/grinuri/ib-benchmark/config"
)

func TestParseMinimalArgs(t *testing.T) {
	cfg, err := config.Parse([]string{"0", "100"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TestNum != 0 || cfg.Iterations != 100 {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.PacketSize != cfg.Entry.Defaults.PacketSize {
		t.Fatalf("expected default packet size to carry through, got %d", cfg.PacketSize)
	}
}

func TestParseWithRoutingTableAndOverrides(t *testing.T) {
	cfg, err := config.Parse([]string{"0", "100", "routes.txt", "2000", "5", "8", "4096"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoutingTablePath != "routes.txt" {
		t.Fatalf("expected routing table path, got %q", cfg.RoutingTablePath)
	}
	if cfg.FlushSize != 2000 || cfg.SyncIters != 5 || cfg.MaxGap != 8 || cfg.PacketSize != 4096 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestParseRejectsBadTestNum(t *testing.T) {
	if _, err := config.Parse([]string{"99", "10"}); err == nil {
		t.Fatal("expected error for out-of-range test_num")
	}
}

func TestParseRejectsTooFewArgs(t *testing.T) {
	if _, err := config.Parse([]string{"0"}); err == nil {
		t.Fatal("expected error for missing iterations")
	}
}

func TestValidateWorldSizeRejectsWrongSizeForPointToPoint(t *testing.T) {
	cfg, err := config.Parse([]string{"21", "10"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Entry.Mode != bench.ModePointToPoint {
		t.Fatalf("expected test_num 21 to be point-to-point, got %v", cfg.Entry.Mode)
	}
	if err := cfg.ValidateWorldSize(3); err == nil {
		t.Fatal("expected world-size error")
	}
	if err := cfg.ValidateWorldSize(2); err != nil {
		t.Fatalf("expected world size 2 to validate, got %v", err)
	}
}
