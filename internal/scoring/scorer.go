package scoring

import (
	"math"
	"strings"

	"facture-reconciliation-service/internal/models"
)

// Criterion weights for the combined score. Amount equality is the
// strongest and least ambiguous signal, date is a secondary temporal
// constraint, and the free-text description is the least reliable input.
const (
	AmountWeight      = 0.5
	DateWeight        = 0.3
	DescriptionWeight = 0.2

	// NeutralDescriptionScore is used when the facture has no supplier
	// name to compare against.
	NeutralDescriptionScore = 50

	// MaxHistoryBonus caps the supplier-history boost so learned
	// patterns can promote a borderline pair but never fabricate one.
	MaxHistoryBonus = 10
)

// Options carries the tolerances the scorer needs. The matcher derives
// them from its MatchingConfig.
type Options struct {
	AmountTolerancePct float64
	DateWindowDays     int
}

// ScoreMatch evaluates one facture against one transaction and returns
// the per-criterion scores plus the weighted total. Inputs are never
// mutated.
func ScoreMatch(facture *models.Facture, tx *models.Transaction, opts Options) models.MatchScore {
	score := models.MatchScore{
		DateScore:        DateProximityScore(facture.EffectiveDate(), tx.Date, opts.DateWindowDays),
		DescriptionScore: descriptionScore(facture, tx),
	}

	if facture.MontantTTC != nil {
		score.AmountScore = AmountProximityScore(*facture.MontantTTC, tx.Amount, opts.AmountTolerancePct)
	}

	score.Total = weightedTotal(score)
	return score
}

// ScoreMatchWithHistory evaluates a pair like ScoreMatch and then applies
// a bonus when the supplier's learned history corroborates the pairing.
// Passing a nil history is equivalent to ScoreMatch.
func ScoreMatchWithHistory(facture *models.Facture, tx *models.Transaction, opts Options, history *models.SupplierHistory) models.MatchScore {
	score := ScoreMatch(facture, tx, opts)

	if history == nil || history.MatchCount == 0 {
		return score
	}

	score.HistoryBonus = historyBonus(tx, opts, history)
	score.Total = math.Min(100, score.Total+score.HistoryBonus)
	return score
}

// descriptionScore compares the supplier name against the transaction
// description. No supplier name yields a neutral score; containment in
// either direction is a full match; otherwise fall back to edit-distance
// similarity.
func descriptionScore(facture *models.Facture, tx *models.Transaction) float64 {
	supplier := fold(facture.SupplierName())
	if supplier == "" {
		return NeutralDescriptionScore
	}

	description := fold(tx.Description)
	if description != "" &&
		(strings.Contains(description, supplier) || strings.Contains(supplier, description)) {
		return 100
	}

	return StringSimilarity(tx.Description, facture.SupplierName())
}

// historyBonus grants up to MaxHistoryBonus points when the transaction
// resembles previously confirmed matches for the supplier: a full bonus
// when a learned description pattern reappears, a half bonus when the
// amount is close to the supplier's running average.
func historyBonus(tx *models.Transaction, opts Options, history *models.SupplierHistory) float64 {
	description := fold(tx.Description)

	for _, pattern := range history.TransactionPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(description, fold(pattern)) {
			return MaxHistoryBonus
		}
	}

	for _, pattern := range history.IbanPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(description, fold(pattern)) {
			return MaxHistoryBonus
		}
	}

	if !history.AvgAmount.IsZero() &&
		AmountProximityScore(history.AvgAmount, tx.Amount, opts.AmountTolerancePct) > 0 {
		return MaxHistoryBonus / 2
	}

	return 0
}

// weightedTotal combines the criterion scores into the rounded total
func weightedTotal(score models.MatchScore) float64 {
	return math.Round(score.AmountScore*AmountWeight +
		score.DateScore*DateWeight +
		score.DescriptionScore*DescriptionWeight)
}
