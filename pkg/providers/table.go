package providers

import (
	"fmt"
	"slices"
)

const perMillion = 1_000_000

// Table is a Provider backed by a static pricing table.
type Table struct {
	config *ProviderConfig
	models map[string]ModelPricing
}

// NewTable indexes cfg by model name. Later entries win on duplicates.
func NewTable(cfg *ProviderConfig) *Table {
	m := make(map[string]ModelPricing, len(cfg.Models))
	for _, model := range cfg.Models {
		m[model.Model] = model
	}
	return &Table{config: cfg, models: m}
}

// NewTableFromFile loads a YAML pricing file into a Table.
func NewTableFromFile(path string) (*Table, error) {
	cfg, err := LoadPricing(path)
	if err != nil {
		return nil, err
	}
	return NewTable(cfg), nil
}

func (t *Table) Name() string { return t.config.Provider }

// Updated returns the date the pricing table was last revised.
func (t *Table) Updated() string { return t.config.Updated }

func (t *Table) Models() []ModelPricing {
	return slices.Clone(t.config.Models)
}

func (t *Table) PricePerToken(model string, tokenType TokenType) (float64, error) {
	pricing, ok := t.models[model]
	if !ok {
		return 0, fmt.Errorf("%s: %w %q", t.config.Provider, ErrUnknownModel, model)
	}

	switch tokenType {
	case TokenInput:
		return pricing.InputPerMillion / perMillion, nil
	case TokenOutput:
		return pricing.OutputPerMillion / perMillion, nil
	case TokenCachedInput:
		if pricing.CachedInputPerMillion > 0 {
			return pricing.CachedInputPerMillion / perMillion, nil
		}
		return pricing.InputPerMillion / perMillion, nil
	default:
		return 0, fmt.Errorf("%s: unknown token type %d", t.config.Provider, tokenType)
	}
}

func (t *Table) SupportsModel(model string) bool {
	_, ok := t.models[model]
	return ok
}
