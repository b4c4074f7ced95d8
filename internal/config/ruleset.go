package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Stake struct {
	Amount int64  `toml:"amount"`
	Name   string `toml:"name"`
}

type Ruleset struct {
	Stakes   []Stake  `toml:"stakes"`
	Patterns []string `toml:"patterns"`
}

func DefaultRuleset() Ruleset {
	return Ruleset{
		Stakes: []Stake{
			{Amount: 10, Name: "bronze"},
			{Amount: 20, Name: "silver"},
			{Amount: 50, Name: "gold"},
			{Amount: 100, Name: "platinum"},
		},
		Patterns: []string{"horizontal", "vertical", "diagonal", "corners", "cross", "full_house"},
	}
}

// LoadRuleset reads a TOML ruleset. An empty path yields the defaults.
func LoadRuleset(path string) (Ruleset, error) {
	if path == "" {
		return DefaultRuleset(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Ruleset{}, fmt.Errorf("read ruleset: %w", err)
	}
	return ParseRuleset(b)
}

func ParseRuleset(b []byte) (Ruleset, error) {
	var rs Ruleset
	if err := toml.Unmarshal(b, &rs); err != nil {
		return Ruleset{}, fmt.Errorf("parse ruleset: %w", err)
	}
	def := DefaultRuleset()
	if len(rs.Stakes) == 0 {
		rs.Stakes = def.Stakes
	}
	if len(rs.Patterns) == 0 {
		rs.Patterns = def.Patterns
	}
	seen := map[int64]bool{}
	for _, s := range rs.Stakes {
		if s.Amount < 0 {
			return Ruleset{}, errors.New("stake amount must not be negative")
		}
		if seen[s.Amount] {
			return Ruleset{}, fmt.Errorf("duplicate stake %d", s.Amount)
		}
		seen[s.Amount] = true
	}
	return rs, nil
}

func (r Ruleset) HasStake(amount int64) bool {
	for _, s := range r.Stakes {
		if s.Amount == amount {
			return true
		}
	}
	return false
}
