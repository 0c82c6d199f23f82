package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vantage-io/vantage/internal/config"
	"github.com/vantage-io/vantage/internal/decision"
	"github.com/vantage-io/vantage/internal/proposal"
)

var (
	decisionsTenant  string
	decisionsAccount string
	decisionsJSON    bool
	decisionsCSV     bool
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect proposed decisions",
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decision proposals for an account (newest first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "decisions.list")
		defer span.End()

		if decisionsTenant == "" || decisionsAccount == "" {
			return fmt.Errorf("--tenant and --account are required")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err := proposal.NewStore(cfg.StoreDBPath() + "?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return fmt.Errorf("opening proposal store: %w", err)
		}
		defer store.Close()

		proposals, err := store.ListByAccount(ctx, decisionsTenant, decisionsAccount)
		if err != nil {
			return fmt.Errorf("listing decisions: %w", err)
		}

		out := cmd.OutOrStdout()
		if decisionsJSON && decisionsCSV {
			return fmt.Errorf("--json and --csv are mutually exclusive")
		}
		if decisionsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(proposals)
		}
		if decisionsCSV {
			return writeDecisionsCSV(out, proposals)
		}

		if len(proposals) == 0 {
			fmt.Fprintf(out, "No decisions for %s/%s\n", decisionsTenant, decisionsAccount)
			return nil
		}
		for _, p := range proposals {
			fmt.Fprintf(out, "%s  %-22s  actions=%d  cost=€%.4f  %s\n",
				p.CreatedAt.UTC().Format("2006-01-02 15:04"),
				p.DecisionType, len(p.Actions), p.EstimatedCost, p.DecisionID)
			for _, a := range p.Actions {
				fmt.Fprintf(out, "    %s  %s -> %s/%s  conf=%.2f\n",
					a.ActionRef, a.ActionType, a.Target.EntityType, a.Target.EntityID, a.Confidence)
			}
		}
		return nil
	},
}

// writeDecisionsCSV flattens proposals to one row per action; a proposal
// without actions still gets a row so it is visible in the export.
func writeDecisionsCSV(out io.Writer, proposals []*decision.Proposal) error {
	w := csv.NewWriter(out)
	header := []string{
		"decision_id", "created_at", "decision_type", "estimated_cost",
		"action_ref", "action_type", "entity_type", "entity_id", "confidence", "risk_level",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, p := range proposals {
		base := []string{
			p.DecisionID,
			p.CreatedAt.UTC().Format(time.RFC3339),
			string(p.DecisionType),
			strconv.FormatFloat(p.EstimatedCost, 'f', 4, 64),
		}
		if len(p.Actions) == 0 {
			if err := w.Write(append(base, "", "", "", "", "", "")); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
			continue
		}
		for _, a := range p.Actions {
			row := append(append([]string{}, base...),
				a.ActionRef,
				a.ActionType,
				a.Target.EntityType,
				a.Target.EntityID,
				strconv.FormatFloat(a.Confidence, 'f', 2, 64),
				a.RiskLevel,
			)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

func init() {
	decisionsListCmd.Flags().StringVar(&decisionsTenant, "tenant", "", "tenant ID")
	decisionsListCmd.Flags().StringVar(&decisionsAccount, "account", "", "account ID")
	decisionsListCmd.Flags().BoolVar(&decisionsJSON, "json", false, "emit JSON instead of a table")
	decisionsListCmd.Flags().BoolVar(&decisionsCSV, "csv", false, "emit CSV instead of a table")
	decisionsCmd.AddCommand(decisionsListCmd)
	rootCmd.AddCommand(decisionsCmd)
}
