package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <tenant>",
	Short: "Show a tenant's usage against its policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var insightsCmd = &cobra.Command{
	Use:   "insights <tenant>",
	Short: "Show projections and recommendations for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsights,
}

var restrictCmd = &cobra.Command{
	Use:   "restrict",
	Short: "Switch restrictive mode on or off",
}

var restrictOnCmd = &cobra.Command{
	Use:   "on <tenant>",
	Short: "Activate restrictive mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestrict(cmd, args[0], true)
	},
}

var restrictOffCmd = &cobra.Command{
	Use:   "off <tenant>",
	Short: "Deactivate restrictive mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestrict(cmd, args[0], false)
	},
}

var graceCmd = &cobra.Command{
	Use:   "grace <tenant>",
	Short: "Suspend restrictive mode for a number of hours",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrace,
}

func init() {
	rootCmd.AddCommand(statusCmd, insightsCmd, restrictCmd, graceCmd)
	restrictCmd.AddCommand(restrictOnCmd, restrictOffCmd)

	restrictOnCmd.Flags().String("reason", "manual", "Reason recorded with the change")
	restrictOffCmd.Flags().String("reason", "manual", "Reason recorded with the change")
	graceCmd.Flags().Float64("hours", 0, "Grace period length (default: the policy's)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	return run(cmd, false, func(a *app) error {
		s := a.monitor.GetStatus(args[0])
		out := cmd.OutOrStdout()
		if !s.HasPolicy {
			fmt.Fprintf(out, "Tenant %s has no policy (tier %s).\n", s.TenantID, s.Tier)
			return nil
		}

		fmt.Fprintf(out, "Tenant:        %s\n", s.TenantID)
		fmt.Fprintf(out, "Tier:          %s\n", s.Tier)
		fmt.Fprintf(out, "Usage:         %.2f / %.2f (%.1f%%)\n", s.CumulativeValue, s.HardLimit, s.Fraction*100)
		fmt.Fprintf(out, "Window usage:  %.2f\n", s.WindowedValue)
		fmt.Fprintf(out, "Can proceed:   %t\n", s.CanProceed)
		fmt.Fprintf(out, "Restrictive:   %t\n", s.RestrictiveActive)
		if s.GraceActive && s.GraceEndsAt != nil {
			fmt.Fprintf(out, "Grace ends:    %s\n", s.GraceEndsAt.Format(time.RFC3339))
		}
		return nil
	})
}

func runInsights(cmd *cobra.Command, args []string) error {
	return run(cmd, false, func(a *app) error {
		in, ok := a.monitor.Insights(args[0])
		if !ok {
			return fmt.Errorf("tenant %s: %w", args[0], model.ErrPolicyNotFound)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "=== Insights for %s ===\n", in.TenantID)
		fmt.Fprintf(out, "Usage:              %.2f / %.2f (%.1f%%)\n", in.CumulativeValue, in.HardLimit, in.Fraction*100)
		fmt.Fprintf(out, "Average per window: %.2f\n", in.AverageWindowUsage)
		fmt.Fprintf(out, "Projected usage:    %.2f\n", in.ProjectedPeriodUsage)
		if in.ProjectedOverage > 0 {
			fmt.Fprintf(out, "Projected overage:  %.2f\n", in.ProjectedOverage)
		}
		fmt.Fprintf(out, "Windows remaining:  %d\n", in.WindowsRemaining)
		fmt.Fprintf(out, "Trend:              %+.2f per window\n", in.TrendSlope)

		for _, group := range []struct {
			title  string
			shares []model.UsageShare
		}{
			{"Top models", in.TopModels},
			{"Top users", in.TopUsers},
			{"Top features", in.TopFeatures},
		} {
			if len(group.shares) == 0 {
				continue
			}
			fmt.Fprintf(out, "\n%s:\n", group.title)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, s := range group.shares {
				fmt.Fprintf(w, "  %s\t%.2f\t%.1f%%\n", s.Key, s.Usage, s.Percentage)
			}
			w.Flush()
		}

		if len(in.Recommendations) > 0 {
			fmt.Fprintf(out, "\nRecommendations:\n")
			for _, r := range in.Recommendations {
				fmt.Fprintf(out, "  [%s] %s: %s\n", r.Priority, r.Title, r.Description)
			}
		}
		return nil
	})
}

func runRestrict(cmd *cobra.Command, tenant string, on bool) error {
	reason, _ := cmd.Flags().GetString("reason")
	return run(cmd, true, func(a *app) error {
		if on {
			if err := a.monitor.ActivateRestrictiveMode(tenant, reason); err != nil {
				return fmt.Errorf("activate restrictive mode: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restrictive mode activated for %s.\n", tenant)
			return nil
		}
		if err := a.monitor.DeactivateRestrictiveMode(tenant, reason); err != nil {
			return fmt.Errorf("deactivate restrictive mode: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restrictive mode deactivated for %s.\n", tenant)
		return nil
	})
}

func runGrace(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetFloat64("hours")
	return run(cmd, true, func(a *app) error {
		if err := a.monitor.ActivateGracePeriod(args[0], hours); err != nil {
			return fmt.Errorf("activate grace period: %w", err)
		}
		s := a.monitor.GetStatus(args[0])
		if s.GraceEndsAt != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Grace period for %s ends at %s.\n", args[0], s.GraceEndsAt.Format(time.RFC3339))
		}
		return nil
	})
}
