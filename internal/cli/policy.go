package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/econeura/usage-guardian/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage tenant threshold policies",
}

var policySetCmd = &cobra.Command{
	Use:   "set <tenant>",
	Short: "Create or replace a tenant's policy",
	Long: `Create or replace a tenant's policy. Either pass --file with a YAML
threshold policy, or use the budget flags to build the stock three-tier policy.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicySet,
}

var policyGetCmd = &cobra.Command{
	Use:   "get <tenant>",
	Short: "Show a tenant's policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyGet,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants and their current tier",
	RunE:  runPolicyList,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policySetCmd, policyGetCmd, policyListCmd)

	policySetCmd.Flags().StringP("file", "f", "", "YAML file holding a threshold policy")
	policySetCmd.Flags().Float64P("limit", "l", 0, "Hard limit per period")
	policySetCmd.Flags().Float64("daily-limit", 0, "Limit per window (0 disables)")
	policySetCmd.Flags().Float64("warning", 0, "Warning fraction (default 0.7)")
	policySetCmd.Flags().Float64("critical", 0, "Critical fraction (default 0.9)")
	policySetCmd.Flags().Float64("restrictive", 0, "Restrictive fraction (default 0.95)")
	policySetCmd.Flags().Bool("auto-restrict", true, "Enter restrictive mode automatically")
	policySetCmd.Flags().Float64("grace-hours", 0, "Grace period in hours (default 24)")
	policySetCmd.Flags().StringP("period", "P", "", "Accumulation period (daily, weekly, monthly)")
	policySetCmd.Flags().String("window", "", "Window period (daily, weekly, monthly)")
	policySetCmd.MarkFlagsMutuallyExclusive("file", "limit")
	policySetCmd.MarkFlagsOneRequired("file", "limit")
}

func policyFromFlags(cmd *cobra.Command) (model.ThresholdPolicy, error) {
	flags := cmd.Flags()

	if file, _ := flags.GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return model.ThresholdPolicy{}, fmt.Errorf("read policy file: %w", err)
		}
		var p model.ThresholdPolicy
		if err := yaml.Unmarshal(data, &p); err != nil {
			return model.ThresholdPolicy{}, fmt.Errorf("parse policy file: %w", err)
		}
		return p, nil
	}

	b := model.BudgetConfig{}
	b.MonthlyLimit, _ = flags.GetFloat64("limit")
	b.DailyLimit, _ = flags.GetFloat64("daily-limit")
	b.WarningThreshold, _ = flags.GetFloat64("warning")
	b.CriticalThreshold, _ = flags.GetFloat64("critical")
	b.ReadOnlyThreshold, _ = flags.GetFloat64("restrictive")
	b.GracePeriodHours, _ = flags.GetFloat64("grace-hours")
	autoRestrict, _ := flags.GetBool("auto-restrict")
	b.AutoReadOnly = &autoRestrict

	p := b.Policy()
	if period, _ := flags.GetString("period"); period != "" {
		p.Period = model.BudgetPeriod(period)
	}
	if window, _ := flags.GetString("window"); window != "" {
		p.Window = model.BudgetPeriod(window)
	}
	return p, nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	tenant := args[0]
	p, err := policyFromFlags(cmd)
	if err != nil {
		return err
	}

	return run(cmd, true, func(a *app) error {
		stored, err := a.monitor.SetPolicy(tenant, p)
		if err != nil {
			return fmt.Errorf("set policy: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Policy set for %s:\n", tenant)
		printPolicy(out, stored)
		return nil
	})
}

func runPolicyGet(cmd *cobra.Command, args []string) error {
	return run(cmd, false, func(a *app) error {
		p, ok := a.monitor.Policy(args[0])
		if !ok {
			return fmt.Errorf("tenant %s: %w", args[0], model.ErrPolicyNotFound)
		}
		printPolicy(cmd.OutOrStdout(), p)
		return nil
	})
}

func runPolicyList(cmd *cobra.Command, _ []string) error {
	return run(cmd, false, func(a *app) error {
		tenants := a.monitor.Tenants()
		out := cmd.OutOrStdout()
		if len(tenants) == 0 {
			fmt.Fprintln(out, "No tenants configured. Use 'guardian policy set' to create one.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "TENANT\tPERIOD\tLIMIT\tUSED\tUSAGE\tTIER\tRESTRICTIVE\n")
		for _, tenant := range tenants {
			s := a.monitor.GetStatus(tenant)
			p, _ := a.monitor.Policy(tenant)
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.1f%%\t%s\t%t\n",
				tenant, p.Period, s.HardLimit, s.CumulativeValue,
				s.Fraction*100, s.Tier, s.RestrictiveActive,
			)
		}
		return w.Flush()
	})
}

func printPolicy(out io.Writer, p model.ThresholdPolicy) {
	fmt.Fprintf(out, "  Hard limit:    %.2f\n", p.HardLimit)
	if p.WindowLimit > 0 {
		fmt.Fprintf(out, "  Window limit:  %.2f\n", p.WindowLimit)
	}
	fmt.Fprintf(out, "  Period:        %s (window %s)\n", p.Period, p.Window)
	for _, l := range p.Limits {
		fmt.Fprintf(out, "  %-14s %.0f%%\n", l.Name+":", l.Fraction*100)
	}
	fmt.Fprintf(out, "  Auto-restrict: %t\n", p.AutoRestrict)
	fmt.Fprintf(out, "  Grace period:  %gh\n", p.GracePeriodHours)
}
