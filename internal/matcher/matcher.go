package matcher

import (
	"sort"

	"facture-reconciliation-service/internal/history"
	"facture-reconciliation-service/internal/models"
	"facture-reconciliation-service/internal/scoring"
)

// Engine is the core matching engine. It is pure: given the same
// factures, transactions, configuration and supplier history, Match
// always produces the same result.
type Engine struct {
	config            *MatchingConfig
	historyBySupplier map[string]*models.SupplierHistory
}

// NewEngine creates a new matching engine with the specified configuration
func NewEngine(config *MatchingConfig) *Engine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &Engine{
		config:            config,
		historyBySupplier: make(map[string]*models.SupplierHistory),
	}
}

// LoadSupplierHistory indexes supplier-history records so scoring can
// apply the learning boost for recurring suppliers.
func (e *Engine) LoadSupplierHistory(records []*models.SupplierHistory) {
	e.historyBySupplier = make(map[string]*models.SupplierHistory, len(records))
	for _, record := range records {
		e.historyBySupplier[record.SupplierNormalized] = record
	}
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Match pairs factures with expense transactions.
//
// Factures are processed in input order; for each one, every unclaimed
// expense transaction is scored and the single best candidate at or above
// the suggestion threshold is kept. The chosen transaction is claimed
// immediately, so no later facture can reuse it (one-to-one exclusivity).
// Pairs at or above the auto threshold are classified "auto", the rest
// "suggestion". The assignment is intentionally greedy rather than a
// globally optimal bipartite matching: first come, first served is
// simpler to explain to the accountant reviewing the output.
func (e *Engine) Match(factures []*models.Facture, transactions []*models.Transaction) *models.MatchingResult {
	opts := e.config.ScoringOptions()

	var expenses []*models.Transaction
	for _, tx := range transactions {
		if tx.IsExpense() {
			expenses = append(expenses, tx)
		}
	}

	result := &models.MatchingResult{}
	claimed := make(map[string]bool, len(expenses))

	for _, facture := range factures {
		var best *models.Rapprochement

		supplierHistory := e.historyBySupplier[history.NormalizeSupplier(facture.SupplierName())]

		for _, tx := range expenses {
			if claimed[tx.ID] {
				continue
			}

			score := scoring.ScoreMatchWithHistory(facture, tx, opts, supplierHistory)
			if score.Total < e.config.SuggestionThreshold {
				continue
			}

			if best == nil || score.Total > best.Score.Total {
				best = &models.Rapprochement{
					UserID:      facture.UserID,
					Facture:     facture,
					Transaction: tx,
					Score:       score,
				}
			}
		}

		if best == nil {
			result.UnmatchedFactures = append(result.UnmatchedFactures, facture)
			continue
		}

		claimed[best.Transaction.ID] = true

		if best.Score.Total >= e.config.AutoThreshold {
			best.Type = models.MatchTypeAuto
			best.Statut = models.StatutAuto
			result.AutoMatched = append(result.AutoMatched, best)
		} else {
			best.Type = models.MatchTypeSuggestion
			best.Statut = models.StatutSuggestion
			result.Suggestions = append(result.Suggestions, best)
		}
	}

	for _, tx := range expenses {
		if !claimed[tx.ID] {
			result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
		}
	}

	sortByConfidence(result.AutoMatched)
	sortByConfidence(result.Suggestions)

	return result
}

// sortByConfidence orders pairings by descending total score, keeping
// input order for equal scores so results stay deterministic.
func sortByConfidence(pairs []*models.Rapprochement) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Score.Total > pairs[j].Score.Total
	})
}
