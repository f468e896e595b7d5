// Package reconciler provides high-level orchestration for the automatic
// reconciliation workflow.
//
// The Orchestrator coordinates one full run for a tenant:
//   - Loading bank transactions and matchable factures from storage
//   - Loading supplier history and running the matching engine
//   - Running anomaly detection over the matching outcome
//   - Persisting the refreshed snapshot inside a single database
//     transaction, preserving user-confirmed decisions
//
// Example usage:
//
//	orchestrator, err := reconciler.NewOrchestrator(store, config)
//	if err != nil {
//		return err
//	}
//	result, err := orchestrator.Run(ctx, userID)
package reconciler

import (
	"context"
	"sort"
	"time"

	"facture-reconciliation-service/internal/anomaly"
	"facture-reconciliation-service/internal/history"
	"facture-reconciliation-service/internal/matcher"
	"facture-reconciliation-service/internal/models"
	"facture-reconciliation-service/pkg/errors"
	"facture-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// Store is the persistence surface the orchestrator depends on.
// *store.Store satisfies it; tests substitute lighter fakes.
type Store interface {
	ListTransactions(ctx context.Context, userID string) ([]*models.Transaction, error)
	ListFacturesByStatus(ctx context.Context, userID string, statuses ...models.ValidationStatus) ([]*models.Facture, error)
	ListSupplierHistory(ctx context.Context, userID string) ([]*models.SupplierHistory, error)

	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	ReplaceUnconfirmedRapprochements(ctx context.Context, userID string, pairs []*models.Rapprochement) error
	UpsertSupplierHistory(ctx context.Context, record *models.SupplierHistory) error
	ReplaceOpenAnomalies(ctx context.Context, userID string, anomalies []*models.DetectedAnomaly) error
	AppendAuditEntries(ctx context.Context, entries []*models.AuditEntry) error
}

// Orchestrator runs the automatic matching workflow for one tenant at a
// time. Runs are idempotent: re-running replaces machine-generated
// pairings and open anomalies while leaving anything a user confirmed
// or rejected untouched.
type Orchestrator struct {
	store  Store
	config *matcher.MatchingConfig
	logger logger.Logger

	// Overridable for deterministic tests
	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates an orchestrator bound to a store and a
// matching configuration. A nil config selects the defaults.
func NewOrchestrator(store Store, config *matcher.MatchingConfig) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"store",
			nil,
			nil,
		).WithSuggestion("Provide a valid Store instance")
	}

	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:  store,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("orchestrator"),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Run executes one reconciliation pass for the tenant and returns the
// run summary.
func (o *Orchestrator) Run(ctx context.Context, userID string) (*models.AutoMatchResult, error) {
	if userID == "" {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"user_id",
			nil,
			nil,
		).WithSuggestion("Provide the tenant identifier to reconcile")
	}

	log := o.logger.WithField("user_id", userID)
	log.Info("Starting reconciliation run")
	startTime := o.now()

	transactions, err := o.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list_transactions", err)
	}

	factures, err := o.store.ListFacturesByStatus(ctx, userID,
		models.StatusPending, models.StatusValidated)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list_factures", err)
	}

	log.WithFields(logger.Fields{
		"transactions": len(transactions),
		"factures":     len(factures),
	}).Debug("Loaded reconciliation inputs")

	if len(transactions) == 0 || len(factures) == 0 {
		log.Info("Nothing to reconcile")
		return &models.AutoMatchResult{}, nil
	}

	historyRecords, err := o.store.ListSupplierHistory(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list_supplier_history", err)
	}

	engine := matcher.NewEngine(o.config)
	engine.LoadSupplierHistory(historyRecords)
	matching := engine.Match(factures, transactions)

	detector := anomaly.NewDetector(o.config)
	detection := detector.Detect(transactions, factures, matching.Pairs())

	log.WithFields(logger.Fields{
		"auto_matched": len(matching.AutoMatched),
		"suggestions":  len(matching.Suggestions),
		"anomalies":    len(detection.Anomalies),
	}).Info("Matching and detection complete")

	if err := o.persist(ctx, userID, matching, detection, historyRecords); err != nil {
		return nil, err
	}

	result := &models.AutoMatchResult{
		AutoMatched: len(matching.AutoMatched),
		Suggestions: len(matching.Suggestions),
		Anomalies:   len(detection.Anomalies),
	}

	log.WithFields(logger.Fields{
		"auto_matched": result.AutoMatched,
		"suggestions":  result.Suggestions,
		"anomalies":    result.Anomalies,
		"duration":     o.now().Sub(startTime).String(),
	}).Info("Reconciliation run complete")

	return result, nil
}

// persist writes the run outcome atomically. Unconfirmed rapprochements
// and open anomalies are replaced wholesale; supplier history is updated
// from auto matches only, since suggestions are not yet trusted.
func (o *Orchestrator) persist(
	ctx context.Context,
	userID string,
	matching *models.MatchingResult,
	detection *models.AnomalyDetectionResult,
	historyRecords []*models.SupplierHistory,
) error {
	now := o.now()

	pairs := matching.Pairs()
	auditEntries := make([]*models.AuditEntry, 0, len(pairs))
	for _, pair := range pairs {
		pair.ID = o.newID()
		pair.CreatedAt = now

		auditEntries = append(auditEntries, &models.AuditEntry{
			ID:              o.newID(),
			UserID:          userID,
			RapprochementID: pair.ID,
			Action:          auditAction(pair.Type),
			Reversible:      pair.Type == models.MatchTypeAuto,
			Detail:          pair.String(),
			CreatedAt:       now,
		})
	}

	anomalies := detection.Anomalies
	for _, a := range anomalies {
		a.ID = o.newID()
		a.Statut = models.AnomalyStatutOpen
		a.CreatedAt = now
	}

	updatedHistory := o.learnFromAutoMatches(userID, matching.AutoMatched, historyRecords, now)

	err := o.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := o.store.ReplaceUnconfirmedRapprochements(ctx, userID, pairs); err != nil {
			return err
		}
		for _, record := range updatedHistory {
			if err := o.store.UpsertSupplierHistory(ctx, record); err != nil {
				return err
			}
		}
		if err := o.store.ReplaceOpenAnomalies(ctx, userID, anomalies); err != nil {
			return err
		}
		return o.store.AppendAuditEntries(ctx, auditEntries)
	})
	if err != nil {
		return errors.StorageError(errors.CodeTxFailed, "persist_run", err).
			WithContext("user_id", userID)
	}

	return nil
}

// learnFromAutoMatches folds each auto-matched pair into the supplier's
// history snapshot. Several pairs for the same supplier within one run
// are applied in sequence so the running average stays exact.
func (o *Orchestrator) learnFromAutoMatches(
	userID string,
	autoMatched []*models.Rapprochement,
	historyRecords []*models.SupplierHistory,
	now time.Time,
) []*models.SupplierHistory {
	bySupplier := make(map[string]*models.SupplierHistory, len(historyRecords))
	for _, record := range historyRecords {
		bySupplier[record.SupplierNormalized] = record
	}

	updated := make(map[string]*models.SupplierHistory)
	for _, pair := range autoMatched {
		supplier := pair.Facture.SupplierName()
		if supplier == "" {
			continue
		}

		key := history.NormalizeSupplier(supplier)
		record := history.Apply(bySupplier[key], userID, supplier,
			pair.Transaction, pair.Transaction.AbsoluteAmount(), now)
		bySupplier[key] = record
		updated[key] = record
	}

	records := make([]*models.SupplierHistory, 0, len(updated))
	for _, record := range updated {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SupplierNormalized < records[j].SupplierNormalized
	})
	return records
}

func auditAction(matchType models.MatchType) string {
	if matchType == models.MatchTypeAuto {
		return "auto_match"
	}
	return "suggestion"
}
