package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clarify-money/reconcile-backend/internal/application/automatch"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/config"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/logging"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

var (
	flagMonths int
	flagDryRun bool
	flagDBPath string
)

var rootCmd = &cobra.Command{
	Use:   "automatch",
	Short: "Batch-match credit card repayments to their expenses",
	Long: `automatch walks every active account pairing and links each unmatched
bank repayment to the credit-card expenses that plausibly produced it.

Out-of-cycle (sauvage) repayments are matched to a single same-amount expense
from the preceding week; monthly repayments are filled from their billing
cycle with a bounded carryover into earlier months.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&flagMonths, "months", 2, "how many months of repayments to analyze")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report matches without saving them")
	rootCmd.Flags().StringVar(&flagDBPath, "db", "", "database path (defaults to configuration)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.LoadOrEnv()
	if flagDBPath != "" {
		cfg.Storage.DatabasePath = flagDBPath
	}
	logger := logging.NewScopedLogger(cfg.Observability.Logging, "automatch")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database %s: %w", cfg.Storage.DatabasePath, err)
	}
	defer store.Close()

	matcher := automatch.NewMatcher(store, logger)
	summary, err := matcher.Run(automatch.Options{Months: flagMonths, DryRun: flagDryRun})
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, summary *automatch.Summary) {
	out := cmd.OutOrStdout()

	for _, o := range summary.Outcomes {
		status := "REVIEW"
		if o.Perfect {
			status = "PERFECT"
		}
		fmt.Fprintf(out, "%s  %s  ₪%.2f  %d expenses (%s)  diff ₪%.2f  [%s]\n",
			o.Repayment.Date, o.Repayment.Identifier, o.MatchedSum,
			o.MatchedCount, o.Method, o.Difference, status)
	}

	fmt.Fprintf(out, "\nRepayments analyzed: %d\n", summary.TotalRepayments)
	fmt.Fprintf(out, "Total repayment amount: ₪%.2f\n", summary.TotalAmount)
	fmt.Fprintf(out, "Total matched: ₪%.2f\n", summary.MatchedAmount)
	if summary.TotalRepayments > 0 {
		fmt.Fprintf(out, "Perfect matches: %d/%d\n", summary.PerfectMatches, summary.TotalRepayments)
	}
	if summary.DryRun {
		fmt.Fprintln(out, "Dry run: nothing was saved")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
