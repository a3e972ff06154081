// Package google adapts the gateway to the Gemini generateContent API.
package google

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

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

func (a *Adapter) Provider() domain.Provider { return domain.ProviderGoogle }
func (a *Adapter) Format() domain.WireFormat { return domain.WireGoogle }
func (a *Adapter) Configured() bool          { return a.apiKey != "" }

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// role maps canonical roles onto Gemini's user/model pair.
func role(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "model"
	}
	return "user"
}

func (a *Adapter) Send(ctx context.Context, req provider.Request) (io.ReadCloser, error) {
	if !a.Configured() {
		return nil, &domain.NotConfiguredError{Provider: domain.ProviderGoogle}
	}

	system, turns := provider.SplitSystem(req.Messages)
	turns = provider.Alternate(turns)

	body := generateRequest{
		Contents:         make([]content, 0, len(turns)),
		GenerationConfig: generationConfig{MaxOutputTokens: req.MaxTokens},
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	for _, m := range turns {
		body.Contents = append(body.Contents, content{
			Role:  role(m.Role),
			Parts: []part{{Text: m.Content}},
		})
	}

	endpoint := a.baseURL + "/models/" + url.PathEscape(req.Model.NativeName) + ":streamGenerateContent?alt=sse"

	headers := http.Header{}
	headers.Set("x-goog-api-key", a.apiKey)

	return provider.PostStream(ctx, a.client, domain.ProviderGoogle, endpoint, headers, body)
}
