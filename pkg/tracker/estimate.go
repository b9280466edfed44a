package tracker

import (
	"fmt"

	"github.com/econeura/usage-guardian/pkg/providers"
	"github.com/econeura/usage-guardian/pkg/tokenizer"
)

// EstimateRequest describes a call that has not been made yet. Messages take
// precedence over Prompt when both are set.
type EstimateRequest struct {
	Provider        string              `json:"provider,omitempty"`
	Model           string              `json:"model"`
	Prompt          string              `json:"prompt,omitempty"`
	Messages        []tokenizer.Message `json:"messages,omitempty"`
	MaxOutputTokens int64               `json:"max_output_tokens,omitempty"`
}

// Estimate is the priced upper bound of a request.
type Estimate struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Estimator prices a request from its prompt before it is sent.
type Estimator struct {
	registry *providers.Registry
	counter  *tokenizer.Counter
}

// NewEstimator creates an estimator. A nil counter gets a fresh one.
func NewEstimator(registry *providers.Registry, counter *tokenizer.Counter) *Estimator {
	if counter == nil {
		counter = tokenizer.NewCounter()
	}
	return &Estimator{registry: registry, counter: counter}
}

// Estimate counts the prompt tokens and prices them together with
// MaxOutputTokens of output.
func (e *Estimator) Estimate(req EstimateRequest) (Estimate, error) {
	if req.Model == "" {
		return Estimate{}, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if req.MaxOutputTokens < 0 {
		return Estimate{}, fmt.Errorf("%w: max output tokens must be >= 0", ErrInvalidRequest)
	}

	p, err := e.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate: %w", err)
	}

	var input int64
	if len(req.Messages) > 0 {
		input, err = e.counter.CountChat(req.Messages, p.Name(), req.Model)
	} else {
		input, err = e.counter.Count(req.Prompt, p.Name(), req.Model)
	}
	if err != nil {
		return Estimate{}, fmt.Errorf("count tokens: %w", err)
	}

	cost, err := CalculateCost(p, req.Model, input, req.MaxOutputTokens)
	if err != nil {
		return Estimate{}, err
	}

	return Estimate{
		Provider:     p.Name(),
		Model:        req.Model,
		InputTokens:  input,
		OutputTokens: req.MaxOutputTokens,
		Cost:         cost,
	}, nil
}
