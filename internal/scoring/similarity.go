// Package scoring provides the pure similarity primitives and the
// weighted match scorer used to evaluate facture/transaction pairs.
//
// All functions are deterministic and side-effect free. Scores are on a
// 0-100 scale; missing data degrades the score instead of failing, since
// upstream OCR output is inherently noisy.
package scoring

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// fold normalizes a string for comparison: trimmed, lower-cased,
// whitespace collapsed.
func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// StringSimilarity returns the Levenshtein similarity of two strings as
// a 0-100 percentage. Either side being empty yields 0: scoring blank
// OCR output as identical to blank descriptions would produce false
// positives.
func StringSimilarity(a, b string) float64 {
	a = fold(a)
	b = fold(b)

	if a == "" || b == "" {
		return 0
	}

	if a == b {
		return 100
	}

	distance := levenshtein.ComputeDistance(a, b)

	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}

	similarity := 100 * (1 - float64(distance)/float64(maxLen))
	if similarity < 0 {
		return 0
	}
	return similarity
}

// DateProximityScore scores the proximity of two dates within a window
// of windowDays. The bands are deliberately coarse so that near-identical
// dates cluster at near-identical scores and the combined score stays
// stable under OCR date noise.
func DateProximityScore(a, b time.Time, windowDays int) float64 {
	days := dayDifference(a, b)

	switch {
	case days == 0:
		return 100
	case days <= 1:
		return 95
	case days <= 3:
		return 80
	case days <= 5:
		return 70
	case days <= windowDays:
		return 60
	default:
		return 0
	}
}

// dayDifference returns the absolute calendar-day distance between two dates
func dayDifference(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// AmountProximityScore scores the proximity of two amounts, compared by
// absolute value, within a relative tolerance expressed as a percentage.
// Both amounts being zero is a perfect match (two free documents);
// exactly one side being zero never matches.
func AmountProximityScore(a, b decimal.Decimal, tolerancePct float64) float64 {
	absA := a.Abs()
	absB := b.Abs()

	if absA.IsZero() && absB.IsZero() {
		return 100
	}
	if absA.IsZero() || absB.IsZero() {
		return 0
	}

	if absA.Equal(absB) {
		return 100
	}

	reference := absA
	if absB.GreaterThan(reference) {
		reference = absB
	}

	diffPct := absA.Sub(absB).Abs().
		Div(reference).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()

	switch {
	case diffPct <= 0.5:
		return 98
	case diffPct <= 1.0:
		return 95
	case diffPct <= tolerancePct:
		return 85
	default:
		return 0
	}
}
