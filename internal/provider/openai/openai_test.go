package openai

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
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New("sk-test", srv.URL+"/", srv.Client())
	body, err := a.Send(context.Background(), provider.Request{
		Model: domain.ModelDescriptor{ID: "openai/gpt-4o", Provider: domain.ProviderOpenAI, NativeName: "gpt-4o"},
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		MaxTokens: 4096,
	})
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "gpt-4o", got.Model)
	assert.True(t, got.Stream)
	assert.True(t, got.StreamOptions.IncludeUsage)
	assert.Equal(t, 4096, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, message{Role: "system", Content: "sys"}, got.Messages[0])
}

func TestAdapter_NotConfigured(t *testing.T) {
	a := New("", "", http.DefaultClient)

	assert.False(t, a.Configured())
	_, err := a.Send(context.Background(), provider.Request{})
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}

func TestAdapter_DefaultBaseURL(t *testing.T) {
	a := New("k", "", http.DefaultClient)
	assert.Equal(t, DefaultBaseURL, a.baseURL)
	assert.Equal(t, domain.WireOpenAI, a.Format())
}
