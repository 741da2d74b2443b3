package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quangdv/optionsbot/internal/exec"
	"github.com/quangdv/optionsbot/internal/types"
)

const validYAML = `
gateway:
  type: deribit
  base_url: https://test.deribit.com
  ws_url: wss://test.deribit.com/ws
  api_key: key
  api_secret: secret
execution:
  chunk_count: 3
  time_per_chunk_sec: 300
  quote_strategy: mid
  min_order_qty: 0.1
persistence:
  enabled: true
  path: /tmp/optionsbot.db
metrics:
  enabled: true
  port: 9091
`

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Gateway.Type != "deribit" || cfg.Gateway.BaseURL != "https://test.deribit.com" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Execution.ChunkCount != 3 {
		t.Errorf("ChunkCount = %d, want 3", cfg.Execution.ChunkCount)
	}
	// Unset fields keep their defaults.
	if cfg.Execution.AggressiveAttempts != 10 {
		t.Errorf("AggressiveAttempts = %d, want default 10", cfg.Execution.AggressiveAttempts)
	}
	if cfg.Metrics.Port != 9091 {
		t.Errorf("Metrics.Port = %d, want 9091", cfg.Metrics.Port)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "expanded-key")
	t.Setenv("TEST_API_SECRET", "expanded-secret")

	yaml := strings.ReplaceAll(validYAML, "api_key: key", "api_key: ${TEST_API_KEY}")
	yaml = strings.ReplaceAll(yaml, "api_secret: secret", "api_secret: ${TEST_API_SECRET}")

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Gateway.APIKey != "expanded-key" || cfg.Gateway.APISecret != "expanded-secret" {
		t.Errorf("credentials not expanded: %+v", cfg.Gateway)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Type = "binance"
	cfg.Execution.ChunkCount = 0
	cfg.Execution.MinOrderQty = 0

	err := cfg.Validate()
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"gateway.type", "chunk_count", "min_order_qty"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateDeribitRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Type = "deribit"
	cfg.Gateway.BaseURL = "https://deribit.com"

	err := cfg.Validate()
	if !errors.Is(err, types.ErrInvalidConfig) || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("got %v, want credential error", err)
	}
}

func TestToExecConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	ec := cfg.ToExecConfig()
	if ec.ChunkCount != 3 || ec.TimePerChunk != 5*time.Minute {
		t.Errorf("exec config = %+v", ec)
	}
	if ec.Strategy != exec.QuoteMid {
		t.Errorf("Strategy = %s, want mid", ec.Strategy)
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("converted config invalid: %v", err)
	}
}

func TestLoadStructureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structure.yaml")
	content := `
label: dec butterfly
legs:
  - instrument: BTC-26DEC25-90000-C
    side: buy
    qty: 0.2
  - instrument: BTC-26DEC25-100000-C
    side: sell
    qty: 0.4
  - instrument: BTC-26DEC25-110000-C
    side: buy
    qty: 0.2
exits:
  profit_target_pct: 50
  max_hold_hours: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadStructure(path)
	if err != nil {
		t.Fatalf("LoadStructure: %v", err)
	}
	if s.Label != "dec butterfly" {
		t.Errorf("Label = %s", s.Label)
	}

	legs, err := s.ToLegs()
	if err != nil {
		t.Fatalf("ToLegs: %v", err)
	}
	if len(legs) != 3 {
		t.Fatalf("got %d legs, want 3", len(legs))
	}
	if legs[1].Side != types.SideSell {
		t.Errorf("leg 1 side = %s, want SELL", legs[1].Side)
	}
	if got := legs[1].Qty.InexactFloat64(); got != 0.4 {
		t.Errorf("leg 1 qty = %v, want 0.4", got)
	}

	exits := s.ToExitConditions()
	if len(exits) != 2 {
		t.Fatalf("got %d exit conditions, want 2", len(exits))
	}
	if exits[0].Name != "profit_target" || exits[1].Name != "max_hold" {
		t.Errorf("exits = %s/%s", exits[0].Name, exits[1].Name)
	}
}

func TestLoadStructureRejectsBadSide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structure.yaml")
	content := `
legs:
  - instrument: BTC-26DEC25-90000-C
    side: long
    qty: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStructure(path); !errors.Is(err, types.ErrInvalidSide) {
		t.Errorf("got %v, want ErrInvalidSide", err)
	}
}
