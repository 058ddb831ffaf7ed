package model

import (
	"context"
	"strings"

	"docqa/config"
	"docqa/types"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

type EmbedderKind string

const (
	EmbedderOpenAI EmbedderKind = "openai"
	EmbedderOllama EmbedderKind = "ollama"
	EmbedderGemini EmbedderKind = "gemini"
	EmbedderLocal  EmbedderKind = "local"
)

func ParseEmbedderKind(s string) (EmbedderKind, error) {
	switch k := EmbedderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case EmbedderOpenAI, EmbedderOllama, EmbedderGemini, EmbedderLocal:
		return k, nil
	}
	return "", types.Configf("unknown embeddings provider %q", s)
}

// NewEmbedder builds the configured embedder. Every call made through it
// runs under cfg.Timeout, honours cfg.RequestsPerSecond and reports
// failures as provider errors.
func NewEmbedder(ctx context.Context, cfg config.ProviderConfig) (Embedder, error) {
	kind, err := ParseEmbedderKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var e Embedder
	switch kind {
	case EmbedderOpenAI:
		e, err = NewOpenAIEmbedder(cfg)
	case EmbedderOllama:
		e = NewOllamaEmbedder(cfg.BaseURL, cfg.Model)
	case EmbedderGemini:
		e, err = NewGeminiEmbedder(ctx, cfg)
	case EmbedderLocal:
		e = NewLocalEmbedder(cfg.Dimensions)
	}
	if err != nil {
		return nil, err
	}
	return &guardedEmbedder{
		next:  e,
		guard: newGuard(cfg.Timeout, cfg.RequestsPerSecond),
	}, nil
}

type guardedEmbedder struct {
	next  Embedder
	guard guard
}

func (g *guardedEmbedder) Name() string { return g.next.Name() }

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.guard.do(ctx, g.next.Name()+" embed", func(ctx context.Context) error {
		v, err := g.next.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

func (g *guardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.guard.do(ctx, g.next.Name()+" embed batch", func(ctx context.Context) error {
		v, err := g.next.EmbedBatch(ctx, texts)
		if err == nil && len(v) != len(texts) {
			return errCountMismatch(len(texts), len(v))
		}
		out = v
		return err
	})
	return out, err
}

func (g *guardedEmbedder) Close() error { return closeIfCloser(g.next) }
