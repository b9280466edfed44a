package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate usage ledger reports",
	Long:  `Generate aggregated usage reports by tenant, provider, model, user, feature and time period.`,
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringP("period", "P", "daily", "Report period (daily, weekly, monthly)")
	reportCmd.Flags().StringP("tenant", "t", "", "Filter by tenant")
	reportCmd.Flags().StringP("provider", "p", "", "Filter by provider")
	reportCmd.Flags().StringP("model", "m", "", "Filter by model")
	reportCmd.Flags().String("feature", "", "Filter by feature")
	reportCmd.Flags().String("user", "", "Filter by end user")
	reportCmd.Flags().Bool("detailed", false, "Show individual records")
	reportCmd.Flags().Int("limit", 50, "Maximum detailed records to show (0 for all)")
}

func runReport(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	period, _ := flags.GetString("period")
	detailed, _ := flags.GetBool("detailed")

	budgetPeriod := model.BudgetPeriod(period)
	if !budgetPeriod.Valid() {
		return fmt.Errorf("unknown period %q", period)
	}
	start, end := model.PeriodBounds(budgetPeriod, time.Now().UTC())

	filter := model.ReportFilter{StartTime: start, EndTime: end}
	filter.TenantID, _ = flags.GetString("tenant")
	filter.Provider, _ = flags.GetString("provider")
	filter.Model, _ = flags.GetString("model")
	filter.Feature, _ = flags.GetString("feature")
	filter.User, _ = flags.GetString("user")
	limit, _ := flags.GetInt("limit")

	return run(cmd, false, func(a *app) error {
		summary, err := a.tracker.Report(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "=== Usage Report (%s) ===\n", period)
		fmt.Fprintf(out, "Period: %s to %s\n\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
		fmt.Fprintf(out, "Total Amount:        %.4f\n", summary.TotalAmount)
		fmt.Fprintf(out, "Total Input Tokens:  %d\n", summary.TotalInputTokens)
		fmt.Fprintf(out, "Total Output Tokens: %d\n", summary.TotalOutputTokens)
		fmt.Fprintf(out, "Total Requests:      %d\n", summary.RecordCount)

		printBreakdown(out, "Provider", summary.ByProvider)
		printBreakdown(out, "Model", summary.ByModel)
		printBreakdown(out, "User", summary.ByUser)
		printBreakdown(out, "Feature", summary.ByFeature)

		if !detailed {
			return nil
		}
		filter.Limit = limit
		records, err := a.tracker.Query(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("query records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		fmt.Fprintf(out, "\nDetailed Records:\n")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  TIMESTAMP\tTENANT\tPROVIDER\tMODEL\tIN\tOUT\tAMOUNT\tUSER\tFEATURE\n")
		for _, r := range records {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%d\t%.6f\t%s\t%s\n",
				r.Timestamp.Format("2006-01-02 15:04"),
				r.TenantID, r.Provider, r.Model,
				r.InputTokens, r.OutputTokens,
				r.Amount, r.User, r.Feature,
			)
		}
		return w.Flush()
	})
}

func printBreakdown(out io.Writer, label string, amounts map[string]float64) {
	if len(amounts) == 0 {
		return
	}
	fmt.Fprintf(out, "\nBy %s:\n", label)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  NAME\tAMOUNT\n")
	for _, name := range slices.Sorted(maps.Keys(amounts)) {
		fmt.Fprintf(w, "  %s\t%.4f\n", name, amounts[name])
	}
	w.Flush()
}
