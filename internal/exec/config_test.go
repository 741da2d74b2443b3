package exec

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"single chunk", func(c *Config) { c.ChunkCount = 1 }, true},
		{"zero chunks", func(c *Config) { c.ChunkCount = 0 }, false},
		{"zero time per chunk", func(c *Config) { c.TimePerChunk = 0 }, false},
		{"zero aggressive wait", func(c *Config) { c.AggressiveWait = 0 }, false},
		{"negative aggressive pause", func(c *Config) { c.AggressivePause = -time.Second }, false},
		{"zero aggressive pause", func(c *Config) { c.AggressivePause = 0 }, true},
		{"zero min order qty", func(c *Config) { c.MinOrderQty = decimal.Zero }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.wantOK {
				if !errors.Is(err, types.ErrInvalidConfig) {
					t.Errorf("got %v, want ErrInvalidConfig", err)
				}
			}
		})
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "vwap" // not a thing
	cfg.RepriceInterval = time.Second
	cfg.RepriceThreshold = decimal.Zero
	cfg.AggressiveAttempts = 0
	cfg.PollInterval = 0

	got := cfg.normalized(testLogger())

	if got.Strategy != QuoteTopOfBook {
		t.Errorf("Strategy = %s, want %s", got.Strategy, QuoteTopOfBook)
	}
	if got.RepriceInterval != minRepriceInterval {
		t.Errorf("RepriceInterval = %s, want %s", got.RepriceInterval, minRepriceInterval)
	}
	if !got.RepriceThreshold.Equal(d("0.1")) {
		t.Errorf("RepriceThreshold = %s, want 0.1", got.RepriceThreshold)
	}
	if got.AggressiveAttempts != 1 {
		t.Errorf("AggressiveAttempts = %d, want 1", got.AggressiveAttempts)
	}
	if got.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %s, want 500ms", got.PollInterval)
	}
}

func TestConfigNormalizedKeepsValidValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = QuoteMark
	cfg.RepriceInterval = time.Minute

	got := cfg.normalized(testLogger())
	if got.Strategy != QuoteMark {
		t.Errorf("Strategy = %s, want %s", got.Strategy, QuoteMark)
	}
	if got.RepriceInterval != time.Minute {
		t.Errorf("RepriceInterval = %s, want 1m", got.RepriceInterval)
	}
}
