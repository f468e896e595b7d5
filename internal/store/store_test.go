package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"facture-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

var testDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func seedTransaction(id, userID string, amount float64) *models.Transaction {
	category := "energie"
	return &models.Transaction{
		ID:          id,
		UserID:      userID,
		Amount:      decimal.NewFromFloat(amount),
		Type:        models.TransactionTypeExpense,
		Description: "PRLV EDF PARIS",
		Date:        testDate,
		Category:    &category,
	}
}

func seedFacture(id, userID string, status models.ValidationStatus) *models.Facture {
	numero := "FAC-" + id
	supplier := "EDF"
	ht := decimal.NewFromInt(100)
	tva := decimal.NewFromInt(20)
	ttc := decimal.NewFromInt(120)

	return &models.Facture{
		ID:               id,
		UserID:           userID,
		NumeroFacture:    &numero,
		NomFournisseur:   &supplier,
		MontantHT:        &ht,
		TVA:              &tva,
		MontantTTC:       &ttc,
		DateFacture:      &testDate,
		ValidationStatus: status,
		CreatedAt:        testDate,
	}
}

func TestInsertAndListTransactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	transactions := []*models.Transaction{
		seedTransaction("T001", "user-1", -118.50),
		seedTransaction("T002", "user-1", -42.00),
		seedTransaction("T003", "user-2", -10.00),
	}

	if err := s.InsertTransactions(ctx, transactions); err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}

	got, err := s.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 transactions for user-1, got %d", len(got))
	}

	first := got[0]
	if !first.Amount.Equal(decimal.NewFromFloat(-118.50)) {
		t.Errorf("Expected amount -118.50, got %s", first.Amount)
	}
	if first.Type != models.TransactionTypeExpense {
		t.Errorf("Expected expense type, got %s", first.Type)
	}
	if first.Category == nil || *first.Category != "energie" {
		t.Error("Expected the category to round-trip")
	}
	if !first.Date.Equal(testDate) {
		t.Errorf("Expected date %v, got %v", testDate, first.Date)
	}
}

func TestListFacturesByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	factures := []*models.Facture{
		seedFacture("F001", "user-1", models.StatusPending),
		seedFacture("F002", "user-1", models.StatusValidated),
		seedFacture("F003", "user-1", models.StatusRejected),
		seedFacture("F004", "user-2", models.StatusValidated),
	}

	if err := s.InsertFactures(ctx, factures); err != nil {
		t.Fatalf("InsertFactures failed: %v", err)
	}

	got, err := s.ListFacturesByStatus(ctx, "user-1",
		models.StatusPending, models.StatusValidated)
	if err != nil {
		t.Fatalf("ListFacturesByStatus failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 matchable factures, got %d", len(got))
	}

	first := got[0]
	if first.MontantTTC == nil || !first.MontantTTC.Equal(decimal.NewFromInt(120)) {
		t.Error("Expected TTC amount to round-trip")
	}
	if first.NomFournisseur == nil || *first.NomFournisseur != "EDF" {
		t.Error("Expected supplier name to round-trip")
	}
	if first.DateFacture == nil || !first.DateFacture.Equal(testDate) {
		t.Error("Expected invoice date to round-trip")
	}
}

func TestFactureNullableFieldsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sparse := &models.Facture{
		ID:               "F001",
		UserID:           "user-1",
		ValidationStatus: models.StatusPending,
		CreatedAt:        testDate,
	}

	if err := s.InsertFactures(ctx, []*models.Facture{sparse}); err != nil {
		t.Fatalf("InsertFactures failed: %v", err)
	}

	got, err := s.ListFacturesByStatus(ctx, "user-1", models.StatusPending)
	if err != nil {
		t.Fatalf("ListFacturesByStatus failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 facture, got %d", len(got))
	}

	f := got[0]
	if f.NumeroFacture != nil || f.NomFournisseur != nil ||
		f.MontantHT != nil || f.TVA != nil || f.MontantTTC != nil || f.DateFacture != nil {
		t.Error("Expected all optional fields to stay nil")
	}
}

func makeRapprochement(id, userID string, facture *models.Facture, tx *models.Transaction, confirmed bool) *models.Rapprochement {
	statut := models.StatutAuto
	if confirmed {
		statut = models.StatutValide
	}
	return &models.Rapprochement{
		ID:              id,
		UserID:          userID,
		Facture:         facture,
		Transaction:     tx,
		Score:           models.MatchScore{AmountScore: 100, DateScore: 100, DescriptionScore: 100, Total: 100},
		Type:            models.MatchTypeAuto,
		Statut:          statut,
		ValidatedByUser: confirmed,
		CreatedAt:       testDate,
	}
}

func TestReplaceUnconfirmedRapprochements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	facture := seedFacture("F001", "user-1", models.StatusValidated)
	otherFacture := seedFacture("F002", "user-1", models.StatusValidated)
	tx := seedTransaction("T001", "user-1", -120)
	otherTx := seedTransaction("T002", "user-1", -120)

	if err := s.InsertFactures(ctx, []*models.Facture{facture, otherFacture}); err != nil {
		t.Fatalf("InsertFactures failed: %v", err)
	}
	if err := s.InsertTransactions(ctx, []*models.Transaction{tx, otherTx}); err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}

	confirmed := makeRapprochement("R001", "user-1", facture, tx, true)
	machine := makeRapprochement("R002", "user-1", otherFacture, otherTx, false)

	if err := s.ReplaceUnconfirmedRapprochements(ctx, "user-1",
		[]*models.Rapprochement{confirmed, machine}); err != nil {
		t.Fatalf("First replace failed: %v", err)
	}

	// A re-run replaces R002 but must keep the user-confirmed R001
	replacement := makeRapprochement("R003", "user-1", otherFacture, otherTx, false)
	if err := s.ReplaceUnconfirmedRapprochements(ctx, "user-1",
		[]*models.Rapprochement{replacement}); err != nil {
		t.Fatalf("Second replace failed: %v", err)
	}

	counts, err := s.CountRapprochements(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountRapprochements failed: %v", err)
	}

	if counts[models.StatutValide] != 1 {
		t.Errorf("Expected the confirmed rapprochement to survive, got %d", counts[models.StatutValide])
	}
	if counts[models.StatutAuto] != 1 {
		t.Errorf("Expected exactly 1 machine rapprochement after replace, got %d", counts[models.StatutAuto])
	}
}

func TestSupplierHistoryUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := &models.SupplierHistory{
		UserID:              "user-1",
		SupplierNormalized:  "edf",
		TransactionPatterns: []string{"paris", "electricite"},
		IbanPatterns:        []string{"FR7630006000011234567890189"},
		AvgAmount:           decimal.NewFromFloat(118.50),
		MatchCount:          1,
		UpdatedAt:           testDate,
	}

	if err := s.UpsertSupplierHistory(ctx, record); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	record.AvgAmount = decimal.NewFromFloat(120.00)
	record.MatchCount = 2
	if err := s.UpsertSupplierHistory(ctx, record); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	records, err := s.ListSupplierHistory(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSupplierHistory failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 history record after upsert, got %d", len(records))
	}

	got := records[0]
	if got.MatchCount != 2 {
		t.Errorf("Expected match count 2, got %d", got.MatchCount)
	}
	if !got.AvgAmount.Equal(decimal.NewFromFloat(120.00)) {
		t.Errorf("Expected average 120, got %s", got.AvgAmount)
	}
	if len(got.TransactionPatterns) != 2 || got.TransactionPatterns[0] != "paris" {
		t.Errorf("Expected patterns to round-trip, got %v", got.TransactionPatterns)
	}
	if len(got.IbanPatterns) != 1 {
		t.Errorf("Expected IBAN patterns to round-trip, got %v", got.IbanPatterns)
	}
}

func TestReplaceOpenAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txID := "T001"
	first := []*models.DetectedAnomaly{
		{
			ID:            "A001",
			UserID:        "user-1",
			Type:          models.AnomalyTransactionSansFacture,
			Severity:      models.SeverityWarning,
			Description:   "Dépense sans facture",
			TransactionID: &txID,
			Statut:        models.AnomalyStatutOpen,
			CreatedAt:     testDate,
		},
		{
			ID:          "A002",
			UserID:      "user-1",
			Type:        models.AnomalyDuplicateFacture,
			Severity:    models.SeverityCritical,
			Description: "Doublon",
			Statut:      models.AnomalyStatutOpen,
			CreatedAt:   testDate,
		},
	}

	if err := s.ReplaceOpenAnomalies(ctx, "user-1", first); err != nil {
		t.Fatalf("First replace failed: %v", err)
	}

	second := []*models.DetectedAnomaly{
		{
			ID:          "A003",
			UserID:      "user-1",
			Type:        models.AnomalyMontantEleve,
			Severity:    models.SeverityInfo,
			Description: "Montant inhabituel",
			Statut:      models.AnomalyStatutOpen,
			CreatedAt:   testDate,
		},
	}

	if err := s.ReplaceOpenAnomalies(ctx, "user-1", second); err != nil {
		t.Fatalf("Second replace failed: %v", err)
	}

	count, err := s.CountOpenAnomalies(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountOpenAnomalies failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 open anomaly after replace, got %d", count)
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.InsertTransactions(ctx, []*models.Transaction{
			seedTransaction("T001", "user-1", -10),
		}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatal("Expected the transaction error to propagate")
	}

	got, err := s.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected the insert to be rolled back, found %d transactions", len(got))
	}
}

func TestWithTransactionCommits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.InsertTransactions(ctx, []*models.Transaction{
			seedTransaction("T001", "user-1", -10),
		})
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	got, err := s.ListTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected the committed transaction to be visible, found %d", len(got))
	}
}

func TestAppendAuditEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*models.AuditEntry{
		{
			ID:              "AU001",
			UserID:          "user-1",
			RapprochementID: "R001",
			Action:          "auto_match",
			Reversible:      true,
			Detail:          "Rapprochement{Facture: F001, Transaction: T001, Score: 100, Type: auto}",
			CreatedAt:       testDate,
		},
	}

	if err := s.AppendAuditEntries(ctx, entries); err != nil {
		t.Fatalf("AppendAuditEntries failed: %v", err)
	}
}
