package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Send(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-3-flash-preview:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		io.WriteString(w, "data: {}\n\n")
	}))
	defer srv.Close()

	a := New("g-key", srv.URL, srv.Client())
	body, err := a.Send(context.Background(), provider.Request{
		Model: domain.ModelDescriptor{ID: "google/gemini-flash-3", Provider: domain.ProviderGoogle, NativeName: "gemini-3-flash-preview"},
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "persona"},
			{Role: domain.RoleAssistant, Content: "greeting"},
			{Role: domain.RoleUser, Content: "q1"},
			{Role: domain.RoleAssistant, Content: "a1"},
			{Role: domain.RoleUser, Content: "q2"},
		},
		MaxTokens: 2048,
	})
	require.NoError(t, err)
	body.Close()

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "persona", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 2048, got.GenerationConfig.MaxOutputTokens)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "q1", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "user", got.Contents[2].Role)
}

func TestAdapter_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := New("bad", srv.URL, srv.Client())
	_, err := a.Send(context.Background(), provider.Request{
		Model:    domain.ModelDescriptor{NativeName: "m"},
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
}

func TestAdapter_NotConfigured(t *testing.T) {
	_, err := New("", "", http.DefaultClient).Send(context.Background(), provider.Request{})
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}
