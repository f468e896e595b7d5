// Package anomaly implements the irregularity detector that runs after
// matching: duplicates, orphaned records, VAT inconsistencies and
// statistical amount outliers.
//
// Detection is a pure function of the transaction/facture universe plus
// the matcher's pairing output. Results are recomputed wholesale on
// every run; persistence of the snapshot belongs to the orchestrator.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"facture-reconciliation-service/internal/history"
	"facture-reconciliation-service/internal/matcher"
	"facture-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// Detection boundaries. The configurable part (the minimum amount for an
// unmatched expense to be reported at all) lives in MatchingConfig;
// these fixed boundaries grade the severity of what was found.
var (
	// criticalOrphanAmount upgrades an unmatched expense to critical
	criticalOrphanAmount = decimal.NewFromInt(1000)

	// vatTolerance is the rounding slack allowed on HT + TVA vs TTC
	vatTolerance = decimal.NewFromFloat(0.01)

	// criticalVatEcart upgrades a VAT discrepancy to critical
	criticalVatEcart = decimal.NewFromInt(10)

	// outlierFloor is the absolute minimum for the statistical pass
	outlierFloor = decimal.NewFromInt(5000)
)

// minSampleForOutliers is the minimum population size for the
// statistical pass to be meaningful at all.
const minSampleForOutliers = 5

// Detector runs the anomaly passes with a given configuration
type Detector struct {
	config *matcher.MatchingConfig
}

// NewDetector creates a detector; a nil config selects the defaults
func NewDetector(config *matcher.MatchingConfig) *Detector {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	return &Detector{config: config}
}

// Detect runs the six detection passes over the tenant's records and the
// matcher's pairing result, deduplicates and sorts by severity.
func (d *Detector) Detect(transactions []*models.Transaction, factures []*models.Facture, pairs []*models.Rapprochement) *models.AnomalyDetectionResult {
	var anomalies []*models.DetectedAnomaly

	anomalies = append(anomalies, d.detectDuplicateTransactions(transactions)...)
	anomalies = append(anomalies, d.detectDuplicateFactures(factures)...)
	anomalies = append(anomalies, d.detectTransactionsSansFacture(transactions, pairs)...)
	anomalies = append(anomalies, d.detectFacturesSansTransaction(factures, pairs)...)
	anomalies = append(anomalies, d.detectVATDiscrepancies(factures)...)
	anomalies = append(anomalies, d.detectMontantsEleves(transactions)...)

	anomalies = dedupe(anomalies)

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Severity.Rank() < anomalies[j].Severity.Rank()
	})

	result := &models.AnomalyDetectionResult{Anomalies: anomalies}
	for _, a := range anomalies {
		result.Stats.Total++
		switch a.Severity {
		case models.SeverityCritical:
			result.Stats.Critical++
		case models.SeverityWarning:
			result.Stats.Warning++
		case models.SeverityInfo:
			result.Stats.Info++
		}
	}

	return result
}

// detectDuplicateTransactions flags pairs sharing the same date and
// absolute amount whose descriptions are identical or contain each other.
func (d *Detector) detectDuplicateTransactions(transactions []*models.Transaction) []*models.DetectedAnomaly {
	var anomalies []*models.DetectedAnomaly

	for i := 0; i < len(transactions); i++ {
		for j := i + 1; j < len(transactions); j++ {
			a, b := transactions[i], transactions[j]

			if !sameDay(a.Date, b.Date) {
				continue
			}
			if !a.AbsoluteAmount().Equal(b.AbsoluteAmount()) {
				continue
			}
			if !descriptionsAlike(a.Description, b.Description) {
				continue
			}

			anomalies = append(anomalies, &models.DetectedAnomaly{
				UserID:   a.UserID,
				Type:     models.AnomalyDuplicateTransaction,
				Severity: models.SeverityWarning,
				Description: fmt.Sprintf("Transactions %s et %s : même date, même montant (%s) et libellé similaire",
					a.ID, b.ID, a.AbsoluteAmount()),
				TransactionID: &b.ID,
				MontantReel:   amountPtr(a.AbsoluteAmount()),
			})
		}
	}

	return anomalies
}

// detectDuplicateFactures flags factures sharing an invoice number
// (critical) or the same supplier and TTC amount (warning).
func (d *Detector) detectDuplicateFactures(factures []*models.Facture) []*models.DetectedAnomaly {
	var anomalies []*models.DetectedAnomaly

	byNumero := make(map[string]*models.Facture)
	for _, f := range factures {
		if f.NumeroFacture == nil || strings.TrimSpace(*f.NumeroFacture) == "" {
			continue
		}
		numero := strings.TrimSpace(*f.NumeroFacture)

		first, seen := byNumero[numero]
		if !seen {
			byNumero[numero] = f
			continue
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   f.UserID,
			Type:     models.AnomalyDuplicateFacture,
			Severity: models.SeverityCritical,
			Description: fmt.Sprintf("Factures %s et %s portent le même numéro %q",
				first.ID, f.ID, numero),
			FactureID: &f.ID,
		})
	}

	bySupplierAmount := make(map[string]*models.Facture)
	for _, f := range factures {
		supplier := history.NormalizeSupplier(f.SupplierName())
		if supplier == "" || f.MontantTTC == nil {
			continue
		}
		key := supplier + "|" + f.MontantTTC.String()

		first, seen := bySupplierAmount[key]
		if !seen {
			bySupplierAmount[key] = f
			continue
		}

		// Already reported via the invoice-number pass
		if sameNumero(first, f) {
			continue
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   f.UserID,
			Type:     models.AnomalyDuplicateFacture,
			Severity: models.SeverityWarning,
			Description: fmt.Sprintf("Factures %s et %s : même fournisseur %q et même montant TTC %s",
				first.ID, f.ID, f.SupplierName(), f.MontantTTC),
			FactureID:   &f.ID,
			MontantReel: f.MontantTTC,
		})
	}

	return anomalies
}

// detectTransactionsSansFacture flags expense transactions above the
// configured threshold that no pairing accounts for.
func (d *Detector) detectTransactionsSansFacture(transactions []*models.Transaction, pairs []*models.Rapprochement) []*models.DetectedAnomaly {
	matched := matchedTransactionIDs(pairs)

	var anomalies []*models.DetectedAnomaly
	for _, tx := range transactions {
		if !tx.IsExpense() || matched[tx.ID] {
			continue
		}

		amount := tx.AbsoluteAmount()
		if amount.LessThanOrEqual(d.config.AnomalyAmountThreshold) {
			continue
		}

		severity := models.SeverityWarning
		if amount.GreaterThanOrEqual(criticalOrphanAmount) {
			severity = models.SeverityCritical
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   tx.UserID,
			Type:     models.AnomalyTransactionSansFacture,
			Severity: severity,
			Description: fmt.Sprintf("Dépense de %s sans facture associée (%s)",
				amount, tx.Description),
			TransactionID: &tx.ID,
			MontantReel:   amountPtr(amount),
		})
	}

	return anomalies
}

// detectFacturesSansTransaction flags validated factures that no pairing
// accounts for.
func (d *Detector) detectFacturesSansTransaction(factures []*models.Facture, pairs []*models.Rapprochement) []*models.DetectedAnomaly {
	matched := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		matched[pair.Facture.ID] = true
	}

	var anomalies []*models.DetectedAnomaly
	for _, f := range factures {
		if f.ValidationStatus != models.StatusValidated || matched[f.ID] {
			continue
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   f.UserID,
			Type:     models.AnomalyFactureSansTransaction,
			Severity: models.SeverityWarning,
			Description: fmt.Sprintf("Facture validée %s sans transaction bancaire correspondante",
				f.ID),
			FactureID:   &f.ID,
			MontantReel: f.MontantTTC,
		})
	}

	return anomalies
}

// detectVATDiscrepancies checks HT + TVA against the stated TTC for
// every facture that carries all three amounts.
func (d *Detector) detectVATDiscrepancies(factures []*models.Facture) []*models.DetectedAnomaly {
	var anomalies []*models.DetectedAnomaly

	for _, f := range factures {
		if f.MontantHT == nil || f.TVA == nil || f.MontantTTC == nil {
			continue
		}

		expected := f.MontantHT.Add(*f.TVA)
		ecart := expected.Sub(*f.MontantTTC).Abs()
		if ecart.LessThanOrEqual(vatTolerance) {
			continue
		}

		severity := models.SeverityInfo
		if ecart.GreaterThan(criticalVatEcart) {
			severity = models.SeverityCritical
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   f.UserID,
			Type:     models.AnomalyTVAIncoherente,
			Severity: severity,
			Description: fmt.Sprintf("Facture %s : HT %s + TVA %s = %s, mais TTC déclaré %s (écart %s)",
				f.ID, f.MontantHT, f.TVA, expected, f.MontantTTC, ecart),
			FactureID:      &f.ID,
			MontantAttendu: amountPtr(expected),
			MontantReel:    f.MontantTTC,
			Ecart:          amountPtr(ecart),
		})
	}

	return anomalies
}

// detectMontantsEleves flags statistical outliers: amounts beyond three
// population standard deviations from the mean, above an absolute floor.
// Mean and deviation exclude the candidate itself: with small samples an
// extreme amount drags the statistics far enough that it could never
// exceed its own three-sigma limit. The pass only runs with a minimally
// useful sample size.
func (d *Detector) detectMontantsEleves(transactions []*models.Transaction) []*models.DetectedAnomaly {
	n := len(transactions)
	if n < minSampleForOutliers {
		return nil
	}

	amounts := make([]float64, n)
	var sum, sumSquares float64
	for i, tx := range transactions {
		amounts[i] = tx.AbsoluteAmount().InexactFloat64()
		sum += amounts[i]
		sumSquares += amounts[i] * amounts[i]
	}

	floor := outlierFloor.InexactFloat64()
	rest := float64(n - 1)

	var anomalies []*models.DetectedAnomaly
	for i, tx := range transactions {
		a := amounts[i]
		mean := (sum - a) / rest
		variance := (sumSquares-a*a)/rest - mean*mean
		if variance < 0 {
			variance = 0
		}
		stddev := math.Sqrt(variance)

		if a <= mean+3*stddev || a < floor {
			continue
		}

		anomalies = append(anomalies, &models.DetectedAnomaly{
			UserID:   tx.UserID,
			Type:     models.AnomalyMontantEleve,
			Severity: models.SeverityInfo,
			Description: fmt.Sprintf("Montant inhabituel %s (moyenne %.2f, écart-type %.2f)",
				tx.AbsoluteAmount(), mean, stddev),
			TransactionID: &tx.ID,
			MontantReel:   amountPtr(tx.AbsoluteAmount()),
		})
	}

	return anomalies
}

// dedupe keeps the first anomaly per (type, transaction, facture) key
func dedupe(anomalies []*models.DetectedAnomaly) []*models.DetectedAnomaly {
	seen := make(map[string]bool, len(anomalies))
	var out []*models.DetectedAnomaly

	for _, a := range anomalies {
		key := string(a.Type) + "|" + strPtr(a.TransactionID) + "|" + strPtr(a.FactureID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}

	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// descriptionsAlike reports identical or containment descriptions after
// folding. Fuzzy near-duplicate detection was considered and left out:
// containment is what the duplicate-import failure mode produces.
func descriptionsAlike(a, b string) bool {
	fa := strings.Join(strings.Fields(strings.ToLower(a)), " ")
	fb := strings.Join(strings.Fields(strings.ToLower(b)), " ")
	if fa == "" || fb == "" {
		return false
	}
	return fa == fb || strings.Contains(fa, fb) || strings.Contains(fb, fa)
}

func sameNumero(a, b *models.Facture) bool {
	if a.NumeroFacture == nil || b.NumeroFacture == nil {
		return false
	}
	return strings.TrimSpace(*a.NumeroFacture) == strings.TrimSpace(*b.NumeroFacture)
}

func matchedTransactionIDs(pairs []*models.Rapprochement) map[string]bool {
	matched := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		matched[pair.Transaction.ID] = true
	}
	return matched
}

func amountPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
