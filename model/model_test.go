package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/types"
)

func TestParseKinds(t *testing.T) {
	for _, s := range []string{"openai", "ollama", "gemini", "local", "OpenAI"} {
		_, err := ParseEmbedderKind(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseEmbedderKind("huggingface")
	assert.ErrorIs(t, err, types.ErrConfig)

	for _, s := range []string{"openai", "ollama", "gemini"} {
		_, err := ParseGeneratorKind(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []string{"local", "", "anthropic"} {
		_, err := ParseGeneratorKind(s)
		assert.ErrorIs(t, err, types.ErrConfig, s)
	}
}

func TestNewProvidersRequireKeys(t *testing.T) {
	ctx := context.Background()
	cfg := config.ProviderConfig{Provider: "openai", APIKeyEnv: "DOCQA_TEST_UNSET_KEY"}

	_, err := NewEmbedder(ctx, cfg)
	assert.ErrorIs(t, err, types.ErrConfig)
	_, err = NewGenerator(ctx, cfg)
	assert.ErrorIs(t, err, types.ErrConfig)

	cfg.Provider = "gemini"
	_, err = NewEmbedder(ctx, cfg)
	assert.ErrorIs(t, err, types.ErrConfig)
	_, err = NewGenerator(ctx, cfg)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestLocalEmbedder(t *testing.T) {
	ctx := context.Background()
	e, err := NewEmbedder(ctx, config.ProviderConfig{Provider: "local", Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, "local", e.Name())

	a, err := e.Embed(ctx, "Qubits can be in superposition.")
	require.NoError(t, err)
	require.Len(t, a, 64)
	assert.InDelta(t, 1.0, l2(a), 1e-5)

	again, err := e.Embed(ctx, "Qubits can be in superposition.")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	empty, err := e.Embed(ctx, "  ... ")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, l2(empty), 1e-5)

	related, err := e.Embed(ctx, "superposition of qubits")
	require.NoError(t, err)
	assert.Greater(t, dot(a, related), 0.5)

	batch, err := e.EmbedBatch(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestOpenAIProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// answer in reverse order to check reordering by index
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = item{Object: "embedding", Embedding: []float32{float32(j), 1}, Index: j}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Qubits."},
				"finish_reason": "stop",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	cfg := config.ProviderConfig{Provider: "openai", BaseURL: srv.URL, Model: "text-embedding-3-small", Timeout: 5 * time.Second}

	e, err := NewEmbedder(ctx, cfg)
	require.NoError(t, err)
	vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vecs)

	one, err := e.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, one)

	cfg.Model = "gpt-4o-mini"
	g, err := NewGenerator(ctx, cfg)
	require.NoError(t, err)
	answer, err := g.Generate(ctx, "What are qubits?")
	require.NoError(t, err)
	assert.Equal(t, "Qubits.", answer)
}

func TestOllamaProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{float64(len(req.Prompt)), 0.5}})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req OllamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		json.NewEncoder(w).Encode(OllamaGenerateResponse{Response: "echo: " + req.Prompt, Done: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	e, err := NewEmbedder(ctx, config.ProviderConfig{Provider: "ollama", BaseURL: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	vecs, err := e.EmbedBatch(ctx, []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0.5}, {4, 0.5}}, vecs)

	g, err := NewGenerator(ctx, config.ProviderConfig{Provider: "ollama", BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)
	out, err := g.Generate(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestProviderFailuresAreProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	e, err := NewEmbedder(ctx, config.ProviderConfig{Provider: "ollama", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = e.Embed(ctx, "x")
	require.ErrorIs(t, err, types.ErrProvider)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx := context.Background()
	g, err := NewGenerator(ctx, config.ProviderConfig{Provider: "ollama", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = g.Generate(ctx, "slow")
	require.ErrorIs(t, err, types.ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuardRateLimit(t *testing.T) {
	g := newGuard(0, 1000)
	require.NotNil(t, g.limiter)

	calls := 0
	for range 5 {
		require.NoError(t, g.do(context.Background(), "op", func(context.Context) error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 5, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := newGuard(0, 0.001)
	slow.limiter.Allow() // drain the single burst token
	err := slow.do(ctx, "op", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, types.ErrProvider)
}

func l2(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
