// Package config translates CLI flags and profiles into engine
// configuration.
package config

import (
	"fmt"

	"facture-reconciliation-service/internal/matcher"

	"github.com/shopspring/decimal"
)

// Matching profiles selectable from the CLI
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// MatchingOverrides carries per-flag overrides on top of a profile.
// Nil fields keep the profile's value.
type MatchingOverrides struct {
	AmountTolerancePercent *float64
	DateWindowDays         *int
	SuggestionThreshold    *float64
	AutoThreshold          *float64
	AnomalyAmountThreshold *float64
}

// CreateMatchingConfig builds a validated matching configuration from a
// profile name plus optional flag overrides.
func CreateMatchingConfig(profile string, overrides MatchingOverrides) (*matcher.MatchingConfig, error) {
	cfg, err := profileConfig(profile)
	if err != nil {
		return nil, err
	}

	if overrides.AmountTolerancePercent != nil {
		cfg.AmountTolerancePercent = *overrides.AmountTolerancePercent
	}
	if overrides.DateWindowDays != nil {
		cfg.DateWindowDays = *overrides.DateWindowDays
	}
	if overrides.SuggestionThreshold != nil {
		cfg.SuggestionThreshold = *overrides.SuggestionThreshold
	}
	if overrides.AutoThreshold != nil {
		cfg.AutoThreshold = *overrides.AutoThreshold
	}
	if overrides.AnomalyAmountThreshold != nil {
		cfg.AnomalyAmountThreshold = decimal.NewFromFloat(*overrides.AnomalyAmountThreshold)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func profileConfig(profile string) (*matcher.MatchingConfig, error) {
	switch profile {
	case "", ProfileDefault:
		return matcher.DefaultMatchingConfig(), nil
	case ProfileStrict:
		return matcher.StrictMatchingConfig(), nil
	case ProfileRelaxed:
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}
}
