package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/estbot/pkg/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  maja, maja, maja\n"},
			}},
		})
	}))
	defer srv.Close()

	a, err := NewAnnotator(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	note, err := a.Annotate(context.Background(), models.Word{Word: "maja", Category: "noun", Translation: "дом"})
	require.NoError(t, err)
	assert.Equal(t, "maja, maja, maja", note)

	assert.Equal(t, openai.GPT4oMini, got.Model)
	require.Len(t, got.Messages, 2)
	assert.True(t, strings.Contains(got.Messages[1].Content, "maja"))
	assert.True(t, strings.Contains(got.Messages[1].Content, "noun"))
}

func TestAnnotateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	a, err := NewAnnotator(Config{APIKey: "wrong", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = a.Annotate(context.Background(), models.Word{Word: "koer", Translation: "собака"})
	assert.Error(t, err)
}

func TestNewAnnotatorRequiresKey(t *testing.T) {
	_, err := NewAnnotator(Config{})
	assert.Error(t, err)
}
