package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of a bank transaction
type TransactionType string

const (
	// TransactionTypeIncome represents money received on the account
	TransactionTypeIncome TransactionType = "income"
	// TransactionTypeExpense represents money paid out of the account
	TransactionTypeExpense TransactionType = "expense"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// ValidationStatus represents the lifecycle state of a facture
type ValidationStatus string

const (
	StatusPending   ValidationStatus = "pending"
	StatusValidated ValidationStatus = "validated"
	StatusRejected  ValidationStatus = "rejected"
	StatusArchived  ValidationStatus = "archived"
)

// IsValid checks if the validation status is a known value
func (s ValidationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// IsMatchable reports whether factures in this status take part in matching
func (s ValidationStatus) IsMatchable() bool {
	return s == StatusPending || s == StatusValidated
}

// Transaction represents an imported bank transaction.
// Transactions are created by the bank-import pipeline and are read-only
// to the reconciliation engine.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	Category    *string         `json:"category,omitempty"`
}

// NewTransaction creates a new Transaction instance
func NewTransaction(id, userID string, amount decimal.Decimal, txType TransactionType, description string, date time.Time) *Transaction {
	return &Transaction{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		Date:        date,
	}
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("transaction user ID cannot be empty")
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// IsExpense returns true if the transaction is an outgoing payment
func (t *Transaction) IsExpense() bool {
	return t.Type == TransactionTypeExpense
}

// AbsoluteAmount returns the absolute value of the transaction amount
func (t *Transaction) AbsoluteAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Amount: %s, Type: %s, Date: %s}",
		t.ID, t.Amount.String(), t.Type, t.Date.Format("2006-01-02"))
}

// Facture represents a supplier invoice produced by OCR or manual entry.
// Monetary and descriptive fields are nullable: OCR output is noisy and
// the engine must degrade gracefully rather than reject the record.
type Facture struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	NumeroFacture    *string          `json:"numero_facture,omitempty"`
	NomFournisseur   *string          `json:"nom_fournisseur,omitempty"`
	MontantHT        *decimal.Decimal `json:"montant_ht,omitempty"`
	TVA              *decimal.Decimal `json:"tva,omitempty"`
	MontantTTC       *decimal.Decimal `json:"montant_ttc,omitempty"`
	DateFacture      *time.Time       `json:"date_facture,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Validate performs basic validation on the Facture
func (f *Facture) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("facture ID cannot be empty")
	}

	if strings.TrimSpace(f.UserID) == "" {
		return fmt.Errorf("facture user ID cannot be empty")
	}

	if !f.ValidationStatus.IsValid() {
		return fmt.Errorf("invalid validation status: %s", f.ValidationStatus)
	}

	return nil
}

// EffectiveDate returns the invoice date, falling back to the creation
// time when OCR could not extract one.
func (f *Facture) EffectiveDate() time.Time {
	if f.DateFacture != nil {
		return *f.DateFacture
	}
	return f.CreatedAt
}

// HasAmount reports whether a TTC amount was extracted for this facture
func (f *Facture) HasAmount() bool {
	return f.MontantTTC != nil
}

// SupplierName returns the supplier name or an empty string
func (f *Facture) SupplierName() string {
	if f.NomFournisseur == nil {
		return ""
	}
	return *f.NomFournisseur
}

// String returns a string representation of the Facture
func (f *Facture) String() string {
	ttc := "?"
	if f.MontantTTC != nil {
		ttc = f.MontantTTC.String()
	}
	return fmt.Sprintf("Facture{ID: %s, Fournisseur: %s, TTC: %s, Status: %s}",
		f.ID, f.SupplierName(), ttc, f.ValidationStatus)
}

// MatchScore carries the individual criterion scores of one candidate
// pair plus the weighted total, all on a 0-100 scale.
type MatchScore struct {
	AmountScore      float64 `json:"amount_score"`
	DateScore        float64 `json:"date_score"`
	DescriptionScore float64 `json:"description_score"`
	HistoryBonus     float64 `json:"history_bonus,omitempty"`
	Total            float64 `json:"total"`
}

// MatchType classifies how a rapprochement was produced
type MatchType string

const (
	// MatchTypeAuto is a pairing confident enough to confirm without review
	MatchTypeAuto MatchType = "auto"
	// MatchTypeSuggestion is a pairing that requires human confirmation
	MatchTypeSuggestion MatchType = "suggestion"
)

// RapprochementStatut is the lifecycle state of a rapprochement.
// The engine only ever produces "auto" and "suggestion"; users flip
// suggestions to "valide" or "rejete" outside the engine.
type RapprochementStatut string

const (
	StatutAuto       RapprochementStatut = "auto"
	StatutSuggestion RapprochementStatut = "suggestion"
	StatutValide     RapprochementStatut = "valide"
	StatutRejete     RapprochementStatut = "rejete"
)

// Rapprochement links exactly one facture to exactly one transaction
type Rapprochement struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Facture         *Facture            `json:"facture"`
	Transaction     *Transaction        `json:"transaction"`
	Score           MatchScore          `json:"score"`
	Type            MatchType           `json:"type"`
	Statut          RapprochementStatut `json:"statut"`
	ValidatedByUser bool                `json:"validated_by_user"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Confidence returns the total weighted score of the pairing
func (r *Rapprochement) Confidence() float64 {
	return r.Score.Total
}

// String returns a string representation of the Rapprochement
func (r *Rapprochement) String() string {
	return fmt.Sprintf("Rapprochement{Facture: %s, Transaction: %s, Score: %.0f, Type: %s}",
		r.Facture.ID, r.Transaction.ID, r.Score.Total, r.Type)
}

// MatchingResult is the complete output of one matcher run
type MatchingResult struct {
	AutoMatched           []*Rapprochement `json:"auto_matched"`
	Suggestions           []*Rapprochement `json:"suggestions"`
	UnmatchedFactures     []*Facture       `json:"unmatched_factures"`
	UnmatchedTransactions []*Transaction   `json:"unmatched_transactions"`
}

// Pairs returns all produced pairings, auto matches first
func (mr *MatchingResult) Pairs() []*Rapprochement {
	pairs := make([]*Rapprochement, 0, len(mr.AutoMatched)+len(mr.Suggestions))
	pairs = append(pairs, mr.AutoMatched...)
	pairs = append(pairs, mr.Suggestions...)
	return pairs
}

// SupplierHistory accumulates matching patterns per normalized supplier.
// A record is created on the first confirmed match for a supplier and
// grows on every subsequent one; it is never deleted.
type SupplierHistory struct {
	UserID              string          `json:"user_id"`
	SupplierNormalized  string          `json:"supplier_normalized"`
	TransactionPatterns []string        `json:"transaction_patterns"`
	IbanPatterns        []string        `json:"iban_patterns"`
	AvgAmount           decimal.Decimal `json:"avg_amount"`
	MatchCount          int             `json:"match_count"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// AnomalyType tags the kind of irregularity detected
type AnomalyType string

const (
	AnomalyDuplicateTransaction   AnomalyType = "duplicate_transaction"
	AnomalyDuplicateFacture       AnomalyType = "duplicate_facture"
	AnomalyTransactionSansFacture AnomalyType = "transaction_sans_facture"
	AnomalyFactureSansTransaction AnomalyType = "facture_sans_transaction"
	AnomalyTVAIncoherente         AnomalyType = "montant_tva_incoherent"
	AnomalyMontantEleve           AnomalyType = "montant_eleve"
)

// AnomalySeverity ranks anomalies for presentation
type AnomalySeverity string

const (
	SeverityCritical AnomalySeverity = "critical"
	SeverityWarning  AnomalySeverity = "warning"
	SeverityInfo     AnomalySeverity = "info"
)

// Anomaly lifecycle states. The detector only ever produces open
// anomalies; users resolve or dismiss them outside the engine.
const (
	AnomalyStatutOpen      = "open"
	AnomalyStatutResolved  = "resolved"
	AnomalyStatutDismissed = "dismissed"
)

// Rank returns a sortable weight, highest severity first
func (s AnomalySeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// DetectedAnomaly is one flagged irregularity carrying enough structure
// for a report to render without re-querying the source records.
type DetectedAnomaly struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Type           AnomalyType      `json:"type"`
	Severity       AnomalySeverity  `json:"severity"`
	Description    string           `json:"description"`
	TransactionID  *string          `json:"transaction_id,omitempty"`
	FactureID      *string          `json:"facture_id,omitempty"`
	MontantAttendu *decimal.Decimal `json:"montant_attendu,omitempty"`
	MontantReel    *decimal.Decimal `json:"montant_reel,omitempty"`
	Ecart          *decimal.Decimal `json:"ecart,omitempty"`
	Statut         string           `json:"statut"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AnomalyStats aggregates anomaly counts by severity
type AnomalyStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// AnomalyDetectionResult is the complete output of one detector run
type AnomalyDetectionResult struct {
	Anomalies []*DetectedAnomaly `json:"anomalies"`
	Stats     AnomalyStats       `json:"stats"`
}

// AutoMatchResult summarizes one orchestrator run
type AutoMatchResult struct {
	AutoMatched int `json:"auto_matched"`
	Suggestions int `json:"suggestions"`
	Anomalies   int `json:"anomalies"`
}

// AuditEntry records one matching decision for traceability
type AuditEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	RapprochementID string    `json:"rapprochement_id"`
	Action          string    `json:"action"`
	Reversible      bool      `json:"reversible"`
	Detail          string    `json:"detail"`
	CreatedAt       time.Time `json:"created_at"`
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Strip currency symbols and separators commonly found in exported
	// statements ("1 234,56 €")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTransactionType parses and validates a transaction type from string
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "credit":
		return TransactionTypeIncome, nil
	case "expense", "debit":
		return TransactionTypeExpense, nil
	default:
		return "", fmt.Errorf("invalid transaction type '%s': must be income or expense", s)
	}
}
