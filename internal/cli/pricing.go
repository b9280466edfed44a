package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/econeura/usage-guardian/pkg/providers"
	"github.com/econeura/usage-guardian/pkg/tracker"
	"github.com/spf13/cobra"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect pricing tables and estimate costs",
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all providers and their model pricing",
	RunE:  runPricingList,
}

var pricingEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Price a call from token counts or a prompt",
	RunE:  runPricingEstimate,
}

func init() {
	rootCmd.AddCommand(pricingCmd)
	pricingCmd.AddCommand(pricingListCmd, pricingEstimateCmd)

	pricingEstimateCmd.Flags().StringP("provider", "p", "", "LLM provider (default: inferred from model)")
	pricingEstimateCmd.Flags().StringP("model", "m", "", "Model name")
	pricingEstimateCmd.Flags().Int64("input-tokens", 0, "Number of uncached input tokens")
	pricingEstimateCmd.Flags().Int64("cached-input-tokens", 0, "Number of cached input tokens")
	pricingEstimateCmd.Flags().Int64("output-tokens", 0, "Number of output tokens")
	pricingEstimateCmd.Flags().String("prompt", "", "Prompt text; counts input tokens instead of --input-tokens")
	_ = pricingEstimateCmd.MarkFlagRequired("model")
	pricingEstimateCmd.MarkFlagsMutuallyExclusive("prompt", "input-tokens")
}

func loadRegistry() (*providers.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return initRegistry(cfg, newLogger(cfg))
}

func runPricingList(cmd *cobra.Command, _ []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	allProviders := registry.All()
	if len(allProviders) == 0 {
		fmt.Fprintln(out, "No providers configured. Check pricing directory in config.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tMODEL\tINPUT ($/1M)\tOUTPUT ($/1M)\tCACHED INPUT ($/1M)\n")

	for _, p := range allProviders {
		for _, m := range p.Models() {
			cached := "-"
			if m.CachedInputPerMillion > 0 {
				cached = fmt.Sprintf("$%.2f", m.CachedInputPerMillion)
			}
			fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.2f\t%s\n",
				p.Name(), m.Model,
				m.InputPerMillion, m.OutputPerMillion,
				cached,
			)
		}
	}
	return w.Flush()
}

func runPricingEstimate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	provider, _ := flags.GetString("provider")
	modelName, _ := flags.GetString("model")
	input, _ := flags.GetInt64("input-tokens")
	cached, _ := flags.GetInt64("cached-input-tokens")
	output, _ := flags.GetInt64("output-tokens")
	prompt, _ := flags.GetString("prompt")

	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.Changed("prompt") {
		est, err := tracker.NewEstimator(registry, nil).Estimate(tracker.EstimateRequest{
			Provider:        provider,
			Model:           modelName,
			Prompt:          prompt,
			MaxOutputTokens: output,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s/%s: %d input + %d output tokens = $%.6f\n",
			est.Provider, est.Model, est.InputTokens, est.OutputTokens, est.Cost)
		return nil
	}

	cost, err := tracker.NewCostCalculator(registry).CalculateWithCache(provider, modelName, input, cached, output)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d input + %d cached + %d output tokens = $%.6f\n",
		modelName, input, cached, output, cost)
	return nil
}
