// Package matcher implements the facture/transaction matching engine.
//
// The engine scores every unmatched facture against the tenant's expense
// transactions using the scoring package, keeps the best candidate per
// facture above a suggestion threshold, and classifies each chosen pair
// as an automatic match or a suggestion requiring human confirmation.
// Assignment is greedy in facture order with one-to-one exclusivity:
// once a transaction is claimed it is unavailable to later factures.
//
// Example usage:
//
//	engine := matcher.NewEngine(matcher.DefaultMatchingConfig())
//	result := engine.Match(factures, transactions)
package matcher

import (
	"fmt"

	"facture-reconciliation-service/internal/scoring"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds all tunable parameters of the matching and
// anomaly-detection pipeline. Thresholds are consolidated here so tests
// and deployments can vary them without code changes.
type MatchingConfig struct {
	// AmountTolerancePercent is the maximum relative amount difference
	// still considered a candidate match (percentage, 0-100)
	AmountTolerancePercent float64 `json:"amount_tolerance_percent"`

	// DateWindowDays is the maximum date distance still considered a
	// candidate match
	DateWindowDays int `json:"date_window_days"`

	// SuggestionThreshold is the minimum total score for a pair to be
	// retained at all
	SuggestionThreshold float64 `json:"suggestion_threshold"`

	// AutoThreshold is the minimum total score for a pair to be
	// confirmed without human review
	AutoThreshold float64 `json:"auto_threshold"`

	// AnomalyAmountThreshold is the minimum absolute amount for an
	// unmatched expense transaction to be flagged as an anomaly
	AnomalyAmountThreshold decimal.Decimal `json:"anomaly_amount_threshold"`
}

// DefaultMatchingConfig returns a configuration with documented defaults:
// 2% amount tolerance, 7-day window, suggestions from 65, automatic
// confirmation from 90, anomalies on unmatched expenses from 500.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent: 2.0,
		DateWindowDays:         7,
		SuggestionThreshold:    65,
		AutoThreshold:          90,
		AnomalyAmountThreshold: decimal.NewFromInt(500),
	}
}

// StrictMatchingConfig returns a configuration for cautious matching:
// tighter tolerances and a higher bar for automatic confirmation.
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent: 0.5,
		DateWindowDays:         3,
		SuggestionThreshold:    75,
		AutoThreshold:          95,
		AnomalyAmountThreshold: decimal.NewFromInt(250),
	}
}

// RelaxedMatchingConfig returns a configuration for exploratory matching
// on poor-quality data.
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerancePercent: 5.0,
		DateWindowDays:         15,
		SuggestionThreshold:    55,
		AutoThreshold:          90,
		AnomalyAmountThreshold: decimal.NewFromInt(1000),
	}
}

// Validate checks if the matching configuration is consistent
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerancePercent < 0 || mc.AmountTolerancePercent > 100 {
		return fmt.Errorf("amount tolerance percent must be between 0 and 100: %f", mc.AmountTolerancePercent)
	}

	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.SuggestionThreshold < 0 || mc.SuggestionThreshold > 100 {
		return fmt.Errorf("suggestion threshold must be between 0 and 100: %f", mc.SuggestionThreshold)
	}

	if mc.AutoThreshold < 0 || mc.AutoThreshold > 100 {
		return fmt.Errorf("auto threshold must be between 0 and 100: %f", mc.AutoThreshold)
	}

	if mc.AutoThreshold < mc.SuggestionThreshold {
		return fmt.Errorf("auto threshold (%f) cannot be below suggestion threshold (%f)",
			mc.AutoThreshold, mc.SuggestionThreshold)
	}

	if mc.AnomalyAmountThreshold.IsNegative() {
		return fmt.Errorf("anomaly amount threshold cannot be negative: %s", mc.AnomalyAmountThreshold)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	return &clone
}

// ScoringOptions derives the tolerance options the scoring package needs
func (mc *MatchingConfig) ScoringOptions() scoring.Options {
	return scoring.Options{
		AmountTolerancePct: mc.AmountTolerancePercent,
		DateWindowDays:     mc.DateWindowDays,
	}
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: %.2f%%, Window: %d days, Suggestion: %.0f, Auto: %.0f}",
		mc.AmountTolerancePercent, mc.DateWindowDays, mc.SuggestionThreshold, mc.AutoThreshold)
}
