package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"facture-reconciliation-service/internal/models"
)

const timeLayout = time.RFC3339

// InsertTransactions stores imported bank transactions
func (s *Store) InsertTransactions(ctx context.Context, transactions []*models.Transaction) error {
	const query = `
		INSERT INTO transactions (id, user_id, amount, type, description, date, category)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, tx := range transactions {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("invalid transaction %s: %w", tx.ID, err)
		}

		_, err := s.getExecutor(ctx).ExecContext(ctx, query,
			tx.ID, tx.UserID, tx.Amount.String(), string(tx.Type),
			tx.Description, tx.Date.Format(timeLayout), tx.Category,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
	}

	return nil
}

// ListTransactions returns all transactions of a tenant
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	const query = `
		SELECT id, user_id, amount, type, description, date, category
		FROM transactions
		WHERE user_id = ?
		ORDER BY date, id
	`

	rows, err := s.getExecutor(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var (
			tx       models.Transaction
			amount   string
			txType   string
			date     string
			category sql.NullString
		)

		if err := rows.Scan(&tx.ID, &tx.UserID, &amount, &txType, &tx.Description, &date, &category); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
		}
		if tx.Date, err = time.Parse(timeLayout, date); err != nil {
			return nil, fmt.Errorf("corrupt date for transaction %s: %w", tx.ID, err)
		}
		tx.Type = models.TransactionType(txType)
		if category.Valid {
			tx.Category = &category.String
		}

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// InsertFactures stores factures produced by OCR or manual entry
func (s *Store) InsertFactures(ctx context.Context, factures []*models.Facture) error {
	const query = `
		INSERT INTO factures (id, user_id, numero_facture, nom_fournisseur,
			montant_ht, tva, montant_ttc, date_facture, validation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, f := range factures {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid facture %s: %w", f.ID, err)
		}

		_, err := s.getExecutor(ctx).ExecContext(ctx, query,
			f.ID, f.UserID, f.NumeroFacture, f.NomFournisseur,
			decimalOrNil(f.MontantHT), decimalOrNil(f.TVA), decimalOrNil(f.MontantTTC),
			timeOrNil(f.DateFacture), string(f.ValidationStatus), f.CreatedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to insert facture %s: %w", f.ID, err)
		}
	}

	return nil
}

// ListFacturesByStatus returns a tenant's factures in any of the given
// statuses, in creation order.
func (s *Store) ListFacturesByStatus(ctx context.Context, userID string, statuses ...models.ValidationStatus) ([]*models.Facture, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := fmt.Sprintf(`
		SELECT id, user_id, numero_facture, nom_fournisseur,
			montant_ht, tva, montant_ttc, date_facture, validation_status, created_at
		FROM factures
		WHERE user_id = ? AND validation_status IN (%s)
		ORDER BY created_at, id
	`, placeholders)

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, userID)
	for _, status := range statuses {
		args = append(args, string(status))
	}

	rows, err := s.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list factures: %w", err)
	}
	defer rows.Close()

	var factures []*models.Facture
	for rows.Next() {
		var (
			f            models.Facture
			ht, tva, ttc sql.NullString
			dateFacture  sql.NullString
			status       string
			createdAt    string
		)

		if err := rows.Scan(&f.ID, &f.UserID, &f.NumeroFacture, &f.NomFournisseur,
			&ht, &tva, &ttc, &dateFacture, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan facture: %w", err)
		}

		if f.MontantHT, err = nullableDecimal(ht); err != nil {
			return nil, fmt.Errorf("corrupt montant_ht for facture %s: %w", f.ID, err)
		}
		if f.TVA, err = nullableDecimal(tva); err != nil {
			return nil, fmt.Errorf("corrupt tva for facture %s: %w", f.ID, err)
		}
		if f.MontantTTC, err = nullableDecimal(ttc); err != nil {
			return nil, fmt.Errorf("corrupt montant_ttc for facture %s: %w", f.ID, err)
		}
		if f.DateFacture, err = nullableTime(dateFacture); err != nil {
			return nil, fmt.Errorf("corrupt date_facture for facture %s: %w", f.ID, err)
		}
		if f.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at for facture %s: %w", f.ID, err)
		}
		f.ValidationStatus = models.ValidationStatus(status)

		factures = append(factures, &f)
	}

	return factures, rows.Err()
}

// ReplaceUnconfirmedRapprochements deletes every rapprochement of the
// tenant that a user has not confirmed and inserts the fresh pairings.
// Confirmed and rejected records from prior runs are preserved.
func (s *Store) ReplaceUnconfirmedRapprochements(ctx context.Context, userID string, pairs []*models.Rapprochement) error {
	exec := s.getExecutor(ctx)

	if _, err := exec.ExecContext(ctx,
		`DELETE FROM rapprochements WHERE user_id = ? AND validated_by_user = 0`, userID); err != nil {
		return fmt.Errorf("failed to clear unconfirmed rapprochements: %w", err)
	}

	const query = `
		INSERT INTO rapprochements (id, user_id, facture_id, transaction_id,
			amount_score, date_score, description_score, history_bonus, total_score,
			type, statut, validated_by_user, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, pair := range pairs {
		_, err := exec.ExecContext(ctx, query,
			pair.ID, pair.UserID, pair.Facture.ID, pair.Transaction.ID,
			pair.Score.AmountScore, pair.Score.DateScore, pair.Score.DescriptionScore,
			pair.Score.HistoryBonus, pair.Score.Total,
			string(pair.Type), string(pair.Statut), boolToInt(pair.ValidatedByUser),
			pair.CreatedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to insert rapprochement %s: %w", pair.ID, err)
		}
	}

	return nil
}

// CountRapprochements returns the tenant's rapprochement counts by statut
func (s *Store) CountRapprochements(ctx context.Context, userID string) (map[models.RapprochementStatut]int, error) {
	const query = `
		SELECT statut, COUNT(*) FROM rapprochements WHERE user_id = ? GROUP BY statut
	`

	rows, err := s.getExecutor(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rapprochements: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RapprochementStatut]int)
	for rows.Next() {
		var statut string
		var count int
		if err := rows.Scan(&statut, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.RapprochementStatut(statut)] = count
	}

	return counts, rows.Err()
}

// ListSupplierHistory returns all supplier-history records of a tenant
func (s *Store) ListSupplierHistory(ctx context.Context, userID string) ([]*models.SupplierHistory, error) {
	const query = `
		SELECT user_id, supplier_normalized, transaction_patterns, iban_patterns,
			avg_amount, match_count, updated_at
		FROM supplier_history
		WHERE user_id = ?
		ORDER BY supplier_normalized
	`

	rows, err := s.getExecutor(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplier history: %w", err)
	}
	defer rows.Close()

	var records []*models.SupplierHistory
	for rows.Next() {
		var (
			record            models.SupplierHistory
			txPatterns, ibans string
			avgAmount         string
			updatedAt         string
		)

		if err := rows.Scan(&record.UserID, &record.SupplierNormalized,
			&txPatterns, &ibans, &avgAmount, &record.MatchCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier history: %w", err)
		}

		if err := json.Unmarshal([]byte(txPatterns), &record.TransactionPatterns); err != nil {
			return nil, fmt.Errorf("corrupt transaction patterns for %s: %w", record.SupplierNormalized, err)
		}
		if err := json.Unmarshal([]byte(ibans), &record.IbanPatterns); err != nil {
			return nil, fmt.Errorf("corrupt iban patterns for %s: %w", record.SupplierNormalized, err)
		}
		if record.AvgAmount, err = decimal.NewFromString(avgAmount); err != nil {
			return nil, fmt.Errorf("corrupt avg amount for %s: %w", record.SupplierNormalized, err)
		}
		if record.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("corrupt updated_at for %s: %w", record.SupplierNormalized, err)
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// UpsertSupplierHistory writes one supplier-history snapshot
func (s *Store) UpsertSupplierHistory(ctx context.Context, record *models.SupplierHistory) error {
	txPatterns, err := json.Marshal(patternsOrEmpty(record.TransactionPatterns))
	if err != nil {
		return fmt.Errorf("failed to encode transaction patterns: %w", err)
	}
	ibans, err := json.Marshal(patternsOrEmpty(record.IbanPatterns))
	if err != nil {
		return fmt.Errorf("failed to encode iban patterns: %w", err)
	}

	const query = `
		INSERT INTO supplier_history (user_id, supplier_normalized, transaction_patterns,
			iban_patterns, avg_amount, match_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, supplier_normalized) DO UPDATE SET
			transaction_patterns = excluded.transaction_patterns,
			iban_patterns = excluded.iban_patterns,
			avg_amount = excluded.avg_amount,
			match_count = excluded.match_count,
			updated_at = excluded.updated_at
	`

	_, err = s.getExecutor(ctx).ExecContext(ctx, query,
		record.UserID, record.SupplierNormalized, string(txPatterns), string(ibans),
		record.AvgAmount.String(), record.MatchCount, record.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert supplier history for %s: %w", record.SupplierNormalized, err)
	}

	return nil
}

// ReplaceOpenAnomalies deletes the tenant's open anomalies and inserts
// the fresh detection snapshot.
func (s *Store) ReplaceOpenAnomalies(ctx context.Context, userID string, anomalies []*models.DetectedAnomaly) error {
	exec := s.getExecutor(ctx)

	if _, err := exec.ExecContext(ctx,
		`DELETE FROM anomalies WHERE user_id = ? AND statut = 'open'`, userID); err != nil {
		return fmt.Errorf("failed to clear open anomalies: %w", err)
	}

	const query = `
		INSERT INTO anomalies (id, user_id, type, severity, description,
			transaction_id, facture_id, montant_attendu, montant_reel, ecart, statut, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, a := range anomalies {
		_, err := exec.ExecContext(ctx, query,
			a.ID, a.UserID, string(a.Type), string(a.Severity), a.Description,
			a.TransactionID, a.FactureID,
			decimalOrNil(a.MontantAttendu), decimalOrNil(a.MontantReel), decimalOrNil(a.Ecart),
			a.Statut, a.CreatedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to insert anomaly %s: %w", a.ID, err)
		}
	}

	return nil
}

// CountOpenAnomalies returns the number of open anomalies for a tenant
func (s *Store) CountOpenAnomalies(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomalies WHERE user_id = ? AND statut = 'open'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count anomalies: %w", err)
	}
	return count, nil
}

// AppendAuditEntries appends matching-decision audit records
func (s *Store) AppendAuditEntries(ctx context.Context, entries []*models.AuditEntry) error {
	const query = `
		INSERT INTO audit_log (id, user_id, rapprochement_id, action, reversible, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, entry := range entries {
		_, err := s.getExecutor(ctx).ExecContext(ctx, query,
			entry.ID, entry.UserID, entry.RapprochementID, entry.Action,
			boolToInt(entry.Reversible), entry.Detail, entry.CreatedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry %s: %w", entry.ID, err)
		}
	}

	return nil
}

// Conversion helpers

func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

func nullableDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func patternsOrEmpty(patterns []string) []string {
	if patterns == nil {
		return []string{}
	}
	return patterns
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
