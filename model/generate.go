package model

import (
	"context"
	"strings"

	"docqa/config"
	"docqa/types"
)

// Generator completes a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

type GeneratorKind string

const (
	GeneratorOpenAI GeneratorKind = "openai"
	GeneratorOllama GeneratorKind = "ollama"
	GeneratorGemini GeneratorKind = "gemini"
)

func ParseGeneratorKind(s string) (GeneratorKind, error) {
	switch k := GeneratorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case GeneratorOpenAI, GeneratorOllama, GeneratorGemini:
		return k, nil
	}
	return "", types.Configf("unknown generation provider %q", s)
}

func NewGenerator(ctx context.Context, cfg config.ProviderConfig) (Generator, error) {
	kind, err := ParseGeneratorKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var g Generator
	switch kind {
	case GeneratorOpenAI:
		g, err = NewOpenAIGenerator(cfg)
	case GeneratorOllama:
		g = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature)
	case GeneratorGemini:
		g, err = NewGeminiGenerator(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &guardedGenerator{
		next:  g,
		guard: newGuard(cfg.Timeout, cfg.RequestsPerSecond),
	}, nil
}

type guardedGenerator struct {
	next  Generator
	guard guard
}

func (g *guardedGenerator) Name() string { return g.next.Name() }

func (g *guardedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.guard.do(ctx, g.next.Name()+" generate", func(ctx context.Context) error {
		s, err := g.next.Generate(ctx, prompt)
		out = s
		return err
	})
	return out, err
}

func (g *guardedGenerator) Close() error { return closeIfCloser(g.next) }
