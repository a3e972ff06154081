// Package anthropic adapts the gateway to the Anthropic Messages API.
package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
)

const (
	DefaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

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

func (a *Adapter) Provider() domain.Provider { return domain.ProviderAnthropic }
func (a *Adapter) Format() domain.WireFormat { return domain.WireAnthropic }
func (a *Adapter) Configured() bool          { return a.apiKey != "" }

// MessagesRequest is shared with the Bedrock adapter, which speaks the same
// body with a different version field.
type MessagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	System           string    `json:"system,omitempty"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Stream           bool      `json:"stream,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest hoists the system prompt and enforces alternation.
func BuildRequest(req provider.Request) MessagesRequest {
	system, turns := provider.SplitSystem(req.Messages)
	turns = provider.Alternate(turns)

	out := MessagesRequest{
		System:    system,
		Messages:  make([]Message, 0, len(turns)),
		MaxTokens: req.MaxTokens,
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (a *Adapter) Send(ctx context.Context, req provider.Request) (io.ReadCloser, error) {
	if !a.Configured() {
		return nil, &domain.NotConfiguredError{Provider: domain.ProviderAnthropic}
	}

	body := BuildRequest(req)
	body.Model = req.Model.NativeName
	body.Stream = true

	headers := http.Header{}
	headers.Set("x-api-key", a.apiKey)
	headers.Set("anthropic-version", apiVersion)

	return provider.PostStream(ctx, a.client, domain.ProviderAnthropic, a.baseURL+"/messages", headers, body)
}
