package cli

import (
	"fmt"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/econeura/usage-guardian/pkg/tracker"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report usage and check admission",
}

var usageReportCmd = &cobra.Command{
	Use:   "report <tenant>",
	Short: "Record usage for a tenant",
	Long: `Record one metered call. Pass --amount directly, or provider, model and
token counts to have the cost computed from the pricing tables.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsageReport,
}

var usageCheckCmd = &cobra.Command{
	Use:   "check <tenant>",
	Short: "Ask whether a tenant may spend an estimated amount",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageCheck,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageReportCmd, usageCheckCmd)

	usageReportCmd.Flags().Float64("amount", 0, "Usage amount (skips pricing)")
	usageReportCmd.Flags().StringP("provider", "p", "", "LLM provider (e.g., openai, anthropic)")
	usageReportCmd.Flags().StringP("model", "m", "", "Model name (e.g., gpt-4o, claude-sonnet-4)")
	usageReportCmd.Flags().Int64("input-tokens", 0, "Number of uncached input tokens")
	usageReportCmd.Flags().Int64("cached-input-tokens", 0, "Number of cached input tokens")
	usageReportCmd.Flags().Int64("output-tokens", 0, "Number of output tokens")
	usageReportCmd.Flags().String("user", "", "User attribution")
	usageReportCmd.Flags().String("feature", "", "Feature attribution")

	usageCheckCmd.Flags().Float64("amount", 0, "Estimated increment")
	usageCheckCmd.Flags().StringP("provider", "p", "", "LLM provider")
	usageCheckCmd.Flags().StringP("model", "m", "", "Model name; estimates the increment from --prompt")
	usageCheckCmd.Flags().String("prompt", "", "Prompt text to estimate")
	usageCheckCmd.Flags().Int64("max-output-tokens", 0, "Expected output tokens")
	usageCheckCmd.MarkFlagsMutuallyExclusive("amount", "model")
}

func runUsageReport(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := tracker.TrackRequest{TenantID: args[0]}
	req.Amount, _ = flags.GetFloat64("amount")
	req.Provider, _ = flags.GetString("provider")
	req.Model, _ = flags.GetString("model")
	req.InputTokens, _ = flags.GetInt64("input-tokens")
	req.CachedInputTokens, _ = flags.GetInt64("cached-input-tokens")
	req.OutputTokens, _ = flags.GetInt64("output-tokens")
	req.User, _ = flags.GetString("user")
	req.Feature, _ = flags.GetString("feature")

	return run(cmd, true, func(a *app) error {
		res, err := a.tracker.Track(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("track usage: %w", err)
		}
		s := a.monitor.GetStatus(req.TenantID)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Recorded usage:\n")
		fmt.Fprintf(out, "  ID:            %s\n", res.Record.ID)
		if res.Record.Model != "" {
			fmt.Fprintf(out, "  Provider:      %s\n", res.Record.Provider)
			fmt.Fprintf(out, "  Model:         %s\n", res.Record.Model)
			fmt.Fprintf(out, "  Input tokens:  %d\n", res.Record.InputTokens)
			fmt.Fprintf(out, "  Output tokens: %d\n", res.Record.OutputTokens)
		}
		fmt.Fprintf(out, "  Amount:        %.6f\n", res.Record.Amount)
		fmt.Fprintf(out, "  Cumulative:    %.4f\n", res.State.CumulativeValue)
		fmt.Fprintf(out, "  Tier:          %s\n", s.Tier)
		if !res.Stored {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: usage counted but not written to the ledger\n")
		}
		return nil
	})
}

func runUsageCheck(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	amount, _ := flags.GetFloat64("amount")
	modelName, _ := flags.GetString("model")

	return run(cmd, false, func(a *app) error {
		var admission model.Admission
		if modelName != "" {
			req := tracker.EstimateRequest{Model: modelName}
			req.Provider, _ = flags.GetString("provider")
			req.Prompt, _ = flags.GetString("prompt")
			req.MaxOutputTokens, _ = flags.GetInt64("max-output-tokens")

			est, adm, err := a.tracker.Admit(cmd.Context(), args[0], req)
			if err != nil {
				return fmt.Errorf("estimate: %w", err)
			}
			amount, admission = est.Cost, adm
		} else {
			admission = a.tracker.CheckAdmission(args[0], amount)
		}

		out := cmd.OutOrStdout()
		if admission.Allowed {
			fmt.Fprintf(out, "ALLOWED: %s may spend %.6f\n", args[0], amount)
			return nil
		}
		fmt.Fprintf(out, "DENIED: %s may not spend %.6f (%s)\n", args[0], amount, admission.Reason)
		return nil
	})
}
