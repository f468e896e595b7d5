// Package history implements the supplier-learning engine.
//
// For every confirmed match, the engine records which transaction
// description fragments and bank references were seen paired with a
// supplier, plus a running average of the matched amounts. The scorer
// uses these records to boost future candidates for recurring suppliers,
// so matching quality improves over time without manual retraining.
//
// Updates are pure snapshot functions: the orchestrator loads the
// current record, applies the new observation, and writes the result
// back. Nothing here mutates shared state.
package history

import (
	"regexp"
	"strings"
	"time"

	"facture-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// maxPatterns bounds the pattern collections so a very active supplier
// does not grow its record without limit.
const maxPatterns = 20

// legal-form suffixes stripped during supplier normalization
var legalForms = map[string]bool{
	"sarl": true,
	"sas":  true,
	"sasu": true,
	"sa":   true,
	"eurl": true,
	"sci":  true,
	"snc":  true,
}

// bank wire-label noise tokens never kept as description patterns
var noiseTokens = map[string]bool{
	"vir":         true,
	"virement":    true,
	"prlv":        true,
	"prelevement": true,
	"paiement":    true,
	"fact":        true,
	"facture":     true,
	"carte":       true,
	"achat":       true,
}

var ibanPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)

// NormalizeSupplier produces the canonical key for a supplier name:
// lower-cased, whitespace collapsed, legal-form suffix removed.
func NormalizeSupplier(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(fields) == 0 {
		return ""
	}

	if len(fields) > 1 && legalForms[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}

	return strings.Join(fields, " ")
}

// ExtractDescriptionPatterns returns the significant tokens of a
// transaction description, skipping wire-label noise and short fragments.
func ExtractDescriptionPatterns(description string) []string {
	var patterns []string
	for _, token := range strings.Fields(strings.ToLower(description)) {
		token = strings.Trim(token, ".,;:-_/")
		if len([]rune(token)) < 4 {
			continue
		}
		if noiseTokens[token] {
			continue
		}
		if isNumeric(token) {
			continue
		}
		patterns = append(patterns, token)
	}
	return patterns
}

// ExtractIbanPatterns returns the IBAN-like bank references present in a
// transaction description.
func ExtractIbanPatterns(description string) []string {
	return ibanPattern.FindAllString(strings.ToUpper(description), -1)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Apply folds one confirmed match into a supplier-history snapshot and
// returns the updated record. A nil existing record means this is the
// supplier's first confirmed match and a fresh record is created.
// The running average is recomputed incrementally:
// newAvg = (oldAvg*oldCount + amount) / (oldCount + 1).
func Apply(existing *models.SupplierHistory, userID, supplierName string, tx *models.Transaction, amount decimal.Decimal, now time.Time) *models.SupplierHistory {
	normalized := NormalizeSupplier(supplierName)

	updated := &models.SupplierHistory{
		UserID:             userID,
		SupplierNormalized: normalized,
		AvgAmount:          amount.Abs(),
		MatchCount:         1,
		UpdatedAt:          now,
	}

	if existing != nil {
		count := decimal.NewFromInt(int64(existing.MatchCount))
		updated.AvgAmount = existing.AvgAmount.Mul(count).
			Add(amount.Abs()).
			Div(count.Add(decimal.NewFromInt(1)))
		updated.MatchCount = existing.MatchCount + 1
		updated.TransactionPatterns = append(updated.TransactionPatterns, existing.TransactionPatterns...)
		updated.IbanPatterns = append(updated.IbanPatterns, existing.IbanPatterns...)
	}

	updated.TransactionPatterns = appendUnseen(updated.TransactionPatterns, ExtractDescriptionPatterns(tx.Description))
	updated.IbanPatterns = appendUnseen(updated.IbanPatterns, ExtractIbanPatterns(tx.Description))

	return updated
}

// appendUnseen adds new patterns not already present, respecting the
// collection bound.
func appendUnseen(existing, candidates []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}

	for _, candidate := range candidates {
		if len(existing) >= maxPatterns {
			break
		}
		if candidate == "" || seen[candidate] {
			continue
		}
		existing = append(existing, candidate)
		seen[candidate] = true
	}

	return existing
}
