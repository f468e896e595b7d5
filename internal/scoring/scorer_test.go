package scoring

import (
	"testing"
	"time"

	"facture-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

var testOpts = Options{
	AmountTolerancePct: 2.0,
	DateWindowDays:     7,
}

func testFacture(supplier string, ttc float64, date time.Time) *models.Facture {
	amount := decimal.NewFromFloat(ttc)
	return &models.Facture{
		ID:               "F001",
		UserID:           "user-1",
		NomFournisseur:   &supplier,
		MontantTTC:       &amount,
		DateFacture:      &date,
		ValidationStatus: models.StatusValidated,
		CreatedAt:        date,
	}
}

func testTransaction(description string, amount float64, date time.Time) *models.Transaction {
	return &models.Transaction{
		ID:          "T001",
		UserID:      "user-1",
		Amount:      decimal.NewFromFloat(amount),
		Type:        models.TransactionTypeExpense,
		Description: description,
		Date:        date,
	}
}

func TestScoreMatchPerfectPair(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("EDF", 118.50, date)
	tx := testTransaction("PRLV EDF PARIS", -118.50, date)

	score := ScoreMatch(facture, tx, testOpts)

	if score.AmountScore != 100 {
		t.Errorf("Expected amount score 100, got %v", score.AmountScore)
	}
	if score.DateScore != 100 {
		t.Errorf("Expected date score 100, got %v", score.DateScore)
	}
	if score.DescriptionScore != 100 {
		t.Errorf("Expected description score 100 (supplier contained in description), got %v", score.DescriptionScore)
	}
	if score.Total != 100 {
		t.Errorf("Expected total 100, got %v", score.Total)
	}
}

func TestScoreMatchMidConfidencePair(t *testing.T) {
	// Exact amount, three days apart, unrelated description: lands in
	// the suggestion band, well below auto confirmation.
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("abcd", 118.50, date)
	tx := testTransaction("wxyz", -118.50, date.AddDate(0, 0, 3))

	score := ScoreMatch(facture, tx, testOpts)

	// 0.5*100 + 0.3*80 + 0.2*0
	if score.Total != 74 {
		t.Errorf("Expected total 74, got %v", score.Total)
	}
}

func TestScoreMatchMissingAmount(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("EDF", 0, date)
	facture.MontantTTC = nil
	tx := testTransaction("PRLV EDF PARIS", -118.50, date)

	score := ScoreMatch(facture, tx, testOpts)

	if score.AmountScore != 0 {
		t.Errorf("Expected zero amount score for a facture without TTC, got %v", score.AmountScore)
	}
	// 0.3*100 + 0.2*100
	if score.Total != 50 {
		t.Errorf("Expected total 50, got %v", score.Total)
	}
}

func TestScoreMatchMissingSupplier(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("", 118.50, date)
	tx := testTransaction("PRLV EDF PARIS", -118.50, date)

	score := ScoreMatch(facture, tx, testOpts)

	if score.DescriptionScore != NeutralDescriptionScore {
		t.Errorf("Expected neutral description score %v, got %v", NeutralDescriptionScore, score.DescriptionScore)
	}
	// 0.5*100 + 0.3*100 + 0.2*50
	if score.Total != 90 {
		t.Errorf("Expected total 90, got %v", score.Total)
	}
}

func TestScoreMatchWithHistory(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("abcd", 118.50, date)
	tx := testTransaction("wxyz mensuel", -118.50, date.AddDate(0, 0, 3))

	supplierHistory := &models.SupplierHistory{
		UserID:              "user-1",
		SupplierNormalized:  "abcd",
		TransactionPatterns: []string{"wxyz"},
		AvgAmount:           decimal.NewFromFloat(118.50),
		MatchCount:          4,
	}

	base := ScoreMatch(facture, tx, testOpts)
	boosted := ScoreMatchWithHistory(facture, tx, testOpts, supplierHistory)

	if boosted.HistoryBonus != MaxHistoryBonus {
		t.Errorf("Expected full history bonus %v, got %v", MaxHistoryBonus, boosted.HistoryBonus)
	}
	if boosted.Total != base.Total+MaxHistoryBonus {
		t.Errorf("Expected total %v, got %v", base.Total+MaxHistoryBonus, boosted.Total)
	}
}

func TestScoreMatchWithHistoryNilEqualsPlain(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("EDF", 118.50, date)
	tx := testTransaction("PRLV EDF", -118.50, date)

	plain := ScoreMatch(facture, tx, testOpts)
	withNil := ScoreMatchWithHistory(facture, tx, testOpts, nil)

	if plain != withNil {
		t.Errorf("Expected identical scores, got %+v vs %+v", plain, withNil)
	}
}

func TestScoreMatchWithHistoryCappedAtHundred(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("EDF", 118.50, date)
	tx := testTransaction("PRLV EDF PARIS", -118.50, date)

	supplierHistory := &models.SupplierHistory{
		SupplierNormalized:  "edf",
		TransactionPatterns: []string{"paris"},
		MatchCount:          10,
	}

	score := ScoreMatchWithHistory(facture, tx, testOpts, supplierHistory)
	if score.Total != 100 {
		t.Errorf("Expected total capped at 100, got %v", score.Total)
	}
}

func TestScoreMatchWithHistoryAverageAmountBonus(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	facture := testFacture("abcd", 118.50, date)
	tx := testTransaction("wxyz", -118.50, date.AddDate(0, 0, 3))

	supplierHistory := &models.SupplierHistory{
		SupplierNormalized: "abcd",
		AvgAmount:          decimal.NewFromFloat(118.50),
		MatchCount:         3,
	}

	score := ScoreMatchWithHistory(facture, tx, testOpts, supplierHistory)
	if score.HistoryBonus != MaxHistoryBonus/2 {
		t.Errorf("Expected half bonus %v for amount proximity only, got %v", MaxHistoryBonus/2, score.HistoryBonus)
	}
}

func TestWeightedTotalMonotonicInAmount(t *testing.T) {
	previous := -1.0
	for _, amountScore := range []float64{0, 85, 95, 98, 100} {
		total := weightedTotal(models.MatchScore{
			AmountScore:      amountScore,
			DateScore:        80,
			DescriptionScore: 50,
		})
		if total <= previous {
			t.Errorf("Expected total to grow with amount score, got %v after %v", total, previous)
		}
		previous = total
	}
}
