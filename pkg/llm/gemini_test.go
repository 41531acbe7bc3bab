package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
)

func newTestClient(baseURL string) *GeminiClient {
	return NewGeminiClient(config.GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gemini-2.0-flash",
		Timeout: 5 * time.Second,
	})
}

func TestGeminiClient_Complete(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"text": "The answer "},
							{"text": "is streams."},
						},
					},
					"finishReason": "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	text, err := client.Complete(context.Background(), CompletionRequest{
		Model:       "gemini-2.0-flash",
		Prompt:      "Pick a transport.",
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	require.NoError(t, err)

	assert.Equal(t, "The answer is streams.", text)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "user", gotReq.Contents[0].Role)
	require.Len(t, gotReq.Contents[0].Parts, 1)
	assert.Equal(t, "Pick a transport.", gotReq.Contents[0].Parts[0].Text)
	assert.InDelta(t, 0.7, gotReq.GenerationConfig.Temperature, 0.0001)
	assert.Equal(t, 4000, gotReq.GenerationConfig.MaxOutputTokens)
}

func TestGeminiClient_DefaultModel(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "ok"}}}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
}

func TestGeminiClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  fault.Kind
		retryable bool
	}{
		{"rate limited upstream", http.StatusTooManyRequests, fault.KindDependency, true},
		{"server error", http.StatusInternalServerError, fault.KindDependency, true},
		{"service unavailable", http.StatusServiceUnavailable, fault.KindDependency, true},
		{"bad key", http.StatusUnauthorized, fault.KindAuthentication, false},
		{"forbidden", http.StatusForbidden, fault.KindAuthentication, false},
		{"bad request", http.StatusBadRequest, fault.KindValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": tt.status, "message": "upstream says no"},
				})
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, fault.KindOf(err))
			assert.Equal(t, tt.retryable, fault.Retryable(err))
			assert.Contains(t, err.Error(), "upstream says no")
		})
	}
}

func TestGeminiClient_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates":     []any{},
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, fault.KindDependency, fault.KindOf(err))
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGeminiClient_ConnectionRefusedIsDependency(t *testing.T) {
	// Server started then stopped: the port refuses connections.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(server.URL)
	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, fault.KindDependency, fault.KindOf(err))
	assert.True(t, fault.Retryable(err))
}

func TestGeminiClient_ContextCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() is never
		// cancelled and Close deadlocks against this handler.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := newTestClient(server.URL)
	_, err := client.Complete(ctx, CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, fault.KindCancelled, fault.KindOf(err))
	assert.False(t, fault.Retryable(err))
}

func TestGeminiClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	assert.NoError(t, client.Ping(context.Background()))
}
