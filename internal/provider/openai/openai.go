// Package openai adapts the gateway to OpenAI-compatible chat completion
// endpoints. Their streaming shape is already the canonical one, but the
// events still pass through the normalizer to strip envelope fields.
package openai

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderOpenAI }
func (a *Adapter) Format() domain.WireFormat { return domain.WireOpenAI }
func (a *Adapter) Configured() bool          { return a.apiKey != "" }

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []message     `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions streamOptions `json:"stream_options"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (a *Adapter) Send(ctx context.Context, req provider.Request) (io.ReadCloser, error) {
	if !a.Configured() {
		return nil, &domain.NotConfiguredError{Provider: domain.ProviderOpenAI}
	}

	body := chatRequest{
		Model:         req.Model.NativeName,
		Messages:      make([]message, 0, len(req.Messages)),
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.apiKey)

	return provider.PostStream(ctx, a.client, domain.ProviderOpenAI, a.baseURL+"/chat/completions", headers, body)
}
