package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"facture-reconciliation-service/cmd/reconciler/config"
	"facture-reconciliation-service/internal/reconciler"
	"facture-reconciliation-service/internal/store"
	"facture-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the automatch command
var (
	databasePath     string
	userID           string
	matchingProfile  string
	amountTolerance  float64
	dateWindow       int
	suggestionScore  float64
	autoScore        float64
	anomalyThreshold float64
)

// automatchCmd represents the automatch command
var automatchCmd = &cobra.Command{
	Use:   "automatch",
	Short: "Run automatic facture-transaction matching for a tenant",
	Long: `Automatch loads a tenant's bank transactions and matchable factures,
pairs them by amount, date and supplier similarity, learns supplier
patterns from confident matches and refreshes the anomaly list.

The run is idempotent: pairings not yet confirmed by a user and open
anomalies are replaced, while confirmed or rejected decisions are kept.

Examples:
  # Run with default thresholds
  reconciler automatch --database compta.db --user user-42

  # Stricter pairing for a tenant with many similar suppliers
  reconciler automatch --database compta.db --user user-42 --profile strict

  # Custom tolerances
  reconciler automatch --database compta.db --user user-42 \
    --amount-tolerance 1.0 --date-window 5 --auto-threshold 92`,

	PreRunE: validateAutomatchFlags,
	RunE:    runAutomatch,
}

func init() {
	rootCmd.AddCommand(automatchCmd)

	// Required flags
	automatchCmd.Flags().StringVarP(&databasePath, "database", "D", "", "path to the SQLite database (required)")
	automatchCmd.Flags().StringVarP(&userID, "user", "u", "", "tenant identifier to reconcile (required)")

	// Matching configuration flags
	automatchCmd.Flags().StringVarP(&matchingProfile, "profile", "p", config.ProfileDefault, "matching profile: default, strict, relaxed")
	automatchCmd.Flags().Float64Var(&amountTolerance, "amount-tolerance", 0, "amount tolerance percentage (overrides profile)")
	automatchCmd.Flags().IntVar(&dateWindow, "date-window", 0, "date matching window in days (overrides profile)")
	automatchCmd.Flags().Float64Var(&suggestionScore, "suggestion-threshold", 0, "minimum score to suggest a pairing (overrides profile)")
	automatchCmd.Flags().Float64Var(&autoScore, "auto-threshold", 0, "minimum score to auto-confirm a pairing (overrides profile)")
	automatchCmd.Flags().Float64Var(&anomalyThreshold, "anomaly-threshold", 0, "amount above which orphan expenses are flagged (overrides profile)")

	// Mark required flags
	automatchCmd.MarkFlagRequired("database")
	automatchCmd.MarkFlagRequired("user")

	// Bind flags to viper
	viper.BindPFlag("database", automatchCmd.Flags().Lookup("database"))
	viper.BindPFlag("user", automatchCmd.Flags().Lookup("user"))
	viper.BindPFlag("profile", automatchCmd.Flags().Lookup("profile"))
}

func validateAutomatchFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	databasePath = viper.GetString("database")
	userID = viper.GetString("user")
	matchingProfile = viper.GetString("profile")

	if databasePath == "" {
		return fmt.Errorf("database is required")
	}
	if userID == "" {
		return fmt.Errorf("user is required")
	}

	// The database file itself may not exist yet, its directory must
	dir := filepath.Dir(databasePath)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("database directory does not exist: %s", dir)
		}
	}

	if amountTolerance < 0 || amountTolerance > 100 {
		return fmt.Errorf("amount tolerance must be between 0.0 and 100.0")
	}
	if dateWindow < 0 {
		return fmt.Errorf("date window cannot be negative")
	}

	return nil
}

func runAutomatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	matchingConfig, err := config.CreateMatchingConfig(matchingProfile, matchingOverrides(cmd))
	if err != nil {
		return err
	}

	log := logger.GetGlobalLogger().WithComponent("cli")
	log.WithFields(logger.Fields{
		"database": databasePath,
		"user_id":  userID,
		"profile":  matchingProfile,
	}).Debug("Starting automatch")

	db, err := store.Open(databasePath, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	orchestrator, err := reconciler.NewOrchestrator(db, matchingConfig)
	if err != nil {
		return err
	}

	result, err := orchestrator.Run(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Printf("Reconciliation complete for %s\n", userID)
	fmt.Printf("  Auto-matched: %d\n", result.AutoMatched)
	fmt.Printf("  Suggestions:  %d\n", result.Suggestions)
	fmt.Printf("  Anomalies:    %d\n", result.Anomalies)

	return nil
}

// matchingOverrides collects only the tolerance flags the user actually
// set, so profile values stay authoritative otherwise.
func matchingOverrides(cmd *cobra.Command) config.MatchingOverrides {
	var overrides config.MatchingOverrides

	if cmd.Flags().Changed("amount-tolerance") {
		overrides.AmountTolerancePercent = &amountTolerance
	}
	if cmd.Flags().Changed("date-window") {
		overrides.DateWindowDays = &dateWindow
	}
	if cmd.Flags().Changed("suggestion-threshold") {
		overrides.SuggestionThreshold = &suggestionScore
	}
	if cmd.Flags().Changed("auto-threshold") {
		overrides.AutoThreshold = &autoScore
	}
	if cmd.Flags().Changed("anomaly-threshold") {
		overrides.AnomalyAmountThreshold = &anomalyThreshold
	}

	return overrides
}
