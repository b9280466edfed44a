// Package providers loads per-model token pricing and resolves which provider
// prices a given model.
package providers

import "errors"

var (
	// ErrUnknownProvider is returned when no provider is registered under a name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownModel is returned when no pricing exists for a model.
	ErrUnknownModel = errors.New("unknown model")
)

// TokenType distinguishes the token classes a provider prices separately.
type TokenType int

const (
	TokenInput       TokenType = iota // Prompt tokens
	TokenOutput                       // Completion tokens
	TokenCachedInput                  // Prompt tokens served from the provider's cache
)

// ModelPricing contains per-model pricing in USD per million tokens.
type ModelPricing struct {
	Model                 string  `yaml:"model" json:"model"`
	InputPerMillion       float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion      float64 `yaml:"output_per_million" json:"output_per_million"`
	CachedInputPerMillion float64 `yaml:"cached_input_per_million,omitempty" json:"cached_input_per_million,omitempty"`
}

// ProviderConfig is one pricing file.
type ProviderConfig struct {
	Provider string         `yaml:"provider" json:"provider"`
	Updated  string         `yaml:"updated" json:"updated"`
	Models   []ModelPricing `yaml:"models" json:"models"`
}

// Provider prices tokens for the models it knows.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Models returns all known models with pricing.
	Models() []ModelPricing

	// PricePerToken returns the cost for a single token of the given type and model.
	PricePerToken(model string, tokenType TokenType) (float64, error)

	// SupportsModel reports whether this provider has pricing for the given model.
	SupportsModel(model string) bool
}
