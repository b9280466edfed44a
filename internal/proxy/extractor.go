package proxy

import (
	"encoding/json"
	"strings"

	"github.com/econeura/usage-guardian/pkg/tokenizer"
)

// RequestInfo holds what the gateway needs from an LLM API request to estimate its cost.
type RequestInfo struct {
	Provider        string
	Model           string
	Messages        []tokenizer.Message
	MaxOutputTokens int64
}

// ResponseUsage holds token usage reported by the provider. InputTokens
// excludes CachedInputTokens.
type ResponseUsage struct {
	InputTokens       int64
	CachedInputTokens int64
	OutputTokens      int64
	Model             string
}

// DetectProvider determines the provider from the request URL or path.
func DetectProvider(host, path string) string {
	host = strings.ToLower(host)
	path = strings.ToLower(path)

	switch {
	case strings.Contains(host, "openai.com") || strings.HasPrefix(path, "/v1/chat/completions"):
		return "openai"
	case strings.Contains(host, "anthropic.com") || strings.HasPrefix(path, "/v1/messages"):
		return "anthropic"
	default:
		return ""
	}
}

// ExtractRequestInfo extracts model and messages from the request body.
// Unknown providers yield nil without error.
func ExtractRequestInfo(body []byte, provider string) (*RequestInfo, error) {
	switch provider {
	case "openai":
		return extractOpenAIRequest(body)
	case "anthropic":
		return extractAnthropicRequest(body)
	default:
		return nil, nil
	}
}

// ExtractResponseUsage extracts token usage from the API response body.
func ExtractResponseUsage(body []byte, provider string) (*ResponseUsage, error) {
	switch provider {
	case "openai":
		return extractOpenAIResponse(body)
	case "anthropic":
		return extractAnthropicResponse(body)
	default:
		return nil, nil
	}
}

func extractOpenAIRequest(body []byte) (*RequestInfo, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	info := &RequestInfo{
		Provider:        "openai",
		Model:           req.Model,
		MaxOutputTokens: req.MaxCompletionTokens,
	}
	if info.MaxOutputTokens == 0 {
		info.MaxOutputTokens = req.MaxTokens
	}
	for _, msg := range req.Messages {
		info.Messages = append(info.Messages, tokenizer.Message{Role: msg.Role, Content: msg.Content.String(), Name: msg.Name})
	}
	return info, nil
}

func extractAnthropicRequest(body []byte) (*RequestInfo, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	info := &RequestInfo{
		Provider:        "anthropic",
		Model:           req.Model,
		MaxOutputTokens: req.MaxTokens,
	}
	if system := req.System.String(); system != "" {
		info.Messages = append(info.Messages, tokenizer.Message{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		info.Messages = append(info.Messages, tokenizer.Message{Role: msg.Role, Content: msg.Content.String()})
	}
	return info, nil
}

func extractOpenAIResponse(body []byte) (*ResponseUsage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	cached := resp.Usage.PromptTokensDetails.CachedTokens
	return &ResponseUsage{
		InputTokens:       resp.Usage.PromptTokens - cached,
		CachedInputTokens: cached,
		OutputTokens:      resp.Usage.CompletionTokens,
		Model:             resp.Model,
	}, nil
}

func extractAnthropicResponse(body []byte) (*ResponseUsage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &ResponseUsage{
		InputTokens:       resp.Usage.InputTokens,
		CachedInputTokens: resp.Usage.CacheReadInputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		Model:             resp.Model,
	}, nil
}

// content is a message body that is either a plain string or a list of typed parts.
type content string

func (c *content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = content(s)
		return nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	*c = content(b.String())
	return nil
}

func (c content) String() string { return string(c) }

// OpenAI request/response structures

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	MaxTokens           int64           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int64           `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string  `json:"role"`
	Content content `json:"content"`
	Name    string  `json:"name,omitempty"`
}

type openAIResponse struct {
	Model string      `json:"model"`
	Usage openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

// Anthropic request/response structures

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    content            `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int64              `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string  `json:"role"`
	Content content `json:"content"`
}

type anthropicResponse struct {
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
}
