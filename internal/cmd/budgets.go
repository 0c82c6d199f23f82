package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vantage-io/vantage/internal/budget"
	"github.com/vantage-io/vantage/internal/config"
)

var (
	budgetsTenant  string
	budgetsAccount string
	budgetsAll     bool
)

var budgetsCmd = &cobra.Command{
	Use:   "budgets",
	Short: "Inspect and reset per-account decision budgets",
}

var budgetsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the remaining budget for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "budgets.show")
		defer span.End()

		if budgetsTenant == "" || budgetsAccount == "" {
			return fmt.Errorf("--tenant and --account are required")
		}

		svc, err := openBudgets()
		if err != nil {
			return err
		}
		defer svc.Close()

		snap, err := svc.Remaining(ctx, budgetsTenant, budgetsAccount)
		if err != nil {
			return fmt.Errorf("reading budget: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Tenant:  %s\n", snap.TenantID)
		fmt.Fprintf(out, "Account: %s\n", snap.AccountID)
		fmt.Fprintf(out, "Daily decisions remaining: %d\n", snap.DailyDecisionsRemaining)
		fmt.Fprintf(out, "Monthly cost remaining:    €%.2f (month %s)\n", snap.MonthlyCostRemaining, snap.MonthKey)
		return nil
	},
}

var budgetsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the daily decision allowance (one account, or --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "budgets.reset")
		defer span.End()

		svc, err := openBudgets()
		if err != nil {
			return err
		}
		defer svc.Close()

		out := cmd.OutOrStdout()
		if budgetsAll {
			rows, err := svc.ResetDailyAll(ctx)
			if err != nil {
				return fmt.Errorf("resetting budgets: %w", err)
			}
			fmt.Fprintf(out, "Reset daily allowance for %d account(s)\n", rows)
			return nil
		}

		if budgetsTenant == "" || budgetsAccount == "" {
			return fmt.Errorf("--tenant and --account are required (or pass --all)")
		}
		if err := svc.ResetDaily(ctx, budgetsTenant, budgetsAccount); err != nil {
			return fmt.Errorf("resetting budget: %w", err)
		}
		fmt.Fprintf(out, "Reset daily allowance for %s/%s\n", budgetsTenant, budgetsAccount)
		return nil
	},
}

func openBudgets() (*budget.Service, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	svc, err := budget.NewService(
		cfg.StoreDBPath()+"?_journal_mode=WAL&_busy_timeout=5000",
		budget.Defaults{DailyDecisions: cfg.DailyDecisions, MonthlyCost: cfg.MonthlyCost},
	)
	if err != nil {
		return nil, fmt.Errorf("opening budget ledger: %w", err)
	}
	return svc, nil
}

func init() {
	budgetsCmd.PersistentFlags().StringVar(&budgetsTenant, "tenant", "", "tenant ID")
	budgetsCmd.PersistentFlags().StringVar(&budgetsAccount, "account", "", "account ID")
	budgetsResetCmd.Flags().BoolVar(&budgetsAll, "all", false, "reset every tracked account")
	budgetsCmd.AddCommand(budgetsShowCmd)
	budgetsCmd.AddCommand(budgetsResetCmd)
	rootCmd.AddCommand(budgetsCmd)
}
