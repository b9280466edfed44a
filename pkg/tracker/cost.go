// Package tracker turns provider token counts into metered usage: it prices
// calls, estimates requests before they are sent, and feeds actual cost into
// the usage ledger and the threshold monitor.
package tracker

import (
	"fmt"

	"github.com/econeura/usage-guardian/pkg/providers"
)

// CostCalculator computes costs for LLM API usage.
type CostCalculator struct {
	registry *providers.Registry
}

// NewCostCalculator creates a cost calculator backed by a provider registry.
func NewCostCalculator(registry *providers.Registry) *CostCalculator {
	return &CostCalculator{registry: registry}
}

// Calculate computes the USD cost for a given API call. An empty provider
// name is resolved from the model.
func (c *CostCalculator) Calculate(providerName, model string, inputTokens, outputTokens int64) (float64, error) {
	return c.CalculateWithCache(providerName, model, inputTokens, 0, outputTokens)
}

// CalculateWithCache is Calculate with a separate count of cached input tokens.
func (c *CostCalculator) CalculateWithCache(providerName, model string, inputTokens, cachedInputTokens, outputTokens int64) (float64, error) {
	p, err := c.registry.Resolve(providerName, model)
	if err != nil {
		return 0, fmt.Errorf("cost calculation: %w", err)
	}
	return CalculateCostWithCache(p, model, inputTokens, cachedInputTokens, outputTokens)
}

// CalculateCost computes the USD cost for a given API call using a provider directly.
func CalculateCost(p providers.Provider, model string, inputTokens, outputTokens int64) (float64, error) {
	return CalculateCostWithCache(p, model, inputTokens, 0, outputTokens)
}

// CalculateCostWithCache computes cost including cached input tokens.
func CalculateCostWithCache(p providers.Provider, model string, inputTokens, cachedInputTokens, outputTokens int64) (float64, error) {
	if inputTokens < 0 || cachedInputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("%w: negative token count", ErrInvalidRequest)
	}

	inputPrice, err := p.PricePerToken(model, providers.TokenInput)
	if err != nil {
		return 0, fmt.Errorf("input pricing: %w", err)
	}
	outputPrice, err := p.PricePerToken(model, providers.TokenOutput)
	if err != nil {
		return 0, fmt.Errorf("output pricing: %w", err)
	}

	cost := float64(inputTokens)*inputPrice + float64(outputTokens)*outputPrice
	if cachedInputTokens > 0 {
		cachedPrice, err := p.PricePerToken(model, providers.TokenCachedInput)
		if err != nil {
			return 0, fmt.Errorf("cached input pricing: %w", err)
		}
		cost += float64(cachedInputTokens) * cachedPrice
	}
	return cost, nil
}
