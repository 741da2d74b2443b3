package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/lifecycle"
	"github.com/quangdv/optionsbot/internal/types"
	"gopkg.in/yaml.v3"
)

// Structure describes a multi-leg option structure to execute, loaded from a
// YAML file.
type Structure struct {
	Label string         `yaml:"label"`
	Legs  []StructureLeg `yaml:"legs"`
	Exits ExitsConfig    `yaml:"exits"`
}

// StructureLeg is one leg of a structure file.
type StructureLeg struct {
	Instrument string  `yaml:"instrument"`
	Side       string  `yaml:"side"` // buy | sell
	Qty        float64 `yaml:"qty"`
}

// ExitsConfig holds the optional exit conditions for a lifecycle trade.
type ExitsConfig struct {
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	MaxLossPct      float64 `yaml:"max_loss_pct"`
	MaxHoldHours    float64 `yaml:"max_hold_hours"`
}

// LoadStructure loads and validates a structure file.
func LoadStructure(path string) (*Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structure file: %w", err)
	}

	var s Structure
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("parse structure: %w", err)
	}

	if _, err := s.ToLegs(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ToLegs converts the structure file legs to execution legs.
func (s *Structure) ToLegs() ([]types.Leg, error) {
	if len(s.Legs) == 0 {
		return nil, types.ErrNoLegs
	}

	legs := make([]types.Leg, 0, len(s.Legs))
	for i, sl := range s.Legs {
		side, err := types.ParseSide(sl.Side)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		leg := types.Leg{
			Instrument: sl.Instrument,
			Side:       side,
			Qty:        decimal.NewFromFloat(sl.Qty),
		}
		if err := leg.Validate(); err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

// ToExitConditions converts the exits section to lifecycle exit conditions.
// Zero-valued settings are omitted.
func (s *Structure) ToExitConditions() []lifecycle.ExitCondition {
	var exits []lifecycle.ExitCondition
	if s.Exits.ProfitTargetPct > 0 {
		exits = append(exits, lifecycle.ProfitTarget(decimal.NewFromFloat(s.Exits.ProfitTargetPct)))
	}
	if s.Exits.MaxLossPct > 0 {
		exits = append(exits, lifecycle.MaxLoss(decimal.NewFromFloat(s.Exits.MaxLossPct)))
	}
	if s.Exits.MaxHoldHours > 0 {
		exits = append(exits, lifecycle.MaxHold(time.Duration(s.Exits.MaxHoldHours*float64(time.Hour))))
	}
	return exits
}
