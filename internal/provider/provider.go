// Package provider defines the adapter contract every upstream model API
// implements and the single dispatch point that selects an adapter by the
// model's provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

// Request is the canonical outbound turn. Messages[0] is the synthesized
// system message; the rest alternate as the client sent them.
type Request struct {
	Model     domain.ModelDescriptor
	Messages  []domain.Message
	MaxTokens int
}

// Adapter translates a Request into one provider's wire shape and returns the
// raw streaming body. The caller owns the returned ReadCloser.
type Adapter interface {
	Provider() domain.Provider
	Format() domain.WireFormat
	Configured() bool
	Send(ctx context.Context, req Request) (io.ReadCloser, error)
}

// SplitSystem hoists system messages out of the list, joined in order, for
// providers that take the system prompt as a top-level field.
func SplitSystem(msgs []domain.Message) (string, []domain.Message) {
	var system []string
	rest := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Alternate enforces strict user/assistant alternation starting with a user
// turn: leading assistant turns are dropped and consecutive turns from the
// same role are merged.
func Alternate(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) == 0 && m.Role != domain.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

// maxErrorBody bounds how much of a failed provider response is kept for
// logging.
const maxErrorBody = 4 << 10

// PostStream sends body as JSON and returns the response body once the
// provider has answered 2xx. Any other status becomes a *domain.ProviderError.
func PostStream(ctx context.Context, client *http.Client, p domain.Provider, url string, headers http.Header, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", p, err)
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", p, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.ProviderError{
			Provider:   p,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	return resp.Body, nil
}
