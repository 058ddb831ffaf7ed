// Package agent answers questions against one document's index: embed the
// question, retrieve the closest passages, stuff them into a prompt and ask
// the generator.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docqa/model"
	"docqa/store"
	"docqa/types"
)

const DefaultTopK = 5

type Options struct {
	Embedder   model.Embedder
	Generator  model.Generator
	Index      store.VectorIndex
	TemplateID string
	TopK       int
	// MaxContextTokens caps the passages sent to the generator; 0 disables
	// the budget.
	MaxContextTokens int
	CountTokens      TokenCounter
	Logger           *slog.Logger
}

// Engine is bound to a single index for its whole life. It keeps no state
// between calls, so every answer re-embeds and re-retrieves.
type Engine struct {
	embedder  model.Embedder
	generator model.Generator
	index     store.VectorIndex
	template  *Template
	topK      int
	budget    int
	count     TokenCounter
	logger    *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Embedder == nil || opts.Generator == nil || opts.Index == nil {
		return nil, types.Configf("engine needs an embedder, a generator and an index")
	}
	tmpl, err := LookupTemplate(opts.TemplateID)
	if err != nil {
		return nil, err
	}
	if opts.TopK < 0 {
		return nil, types.Configf("retrieval k must be positive, got %d", opts.TopK)
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.CountTokens == nil {
		opts.CountTokens = CountTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		embedder:  opts.Embedder,
		generator: opts.Generator,
		index:     opts.Index,
		template:  tmpl,
		topK:      opts.TopK,
		budget:    opts.MaxContextTokens,
		count:     opts.CountTokens,
		logger:    opts.Logger,
	}, nil
}

func (e *Engine) Template() *Template { return e.template }

// Answer runs one retrieval-augmented generation round. The sentinel answer
// is returned like any other; Grounded tells callers whether to show
// citations.
func (e *Engine) Answer(ctx context.Context, question string) (types.QueryResult, error) {
	start := time.Now()
	if strings.TrimSpace(question) == "" {
		return types.QueryResult{}, types.Validationf("question is empty")
	}

	qvec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return types.QueryResult{}, asProvider("embed question", err)
	}

	passages, err := e.index.Retrieve(ctx, qvec, e.topK)
	if err != nil {
		return types.QueryResult{}, types.Classify(err)
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}
	if keep := fitBudget(texts, e.budget, e.count); keep < len(passages) {
		e.logger.Debug("context trimmed to token budget", "kept", keep, "retrieved", len(passages), "budget", e.budget)
		passages, texts = passages[:keep], texts[:keep]
	}

	prompt, err := e.template.Render(question, strings.Join(texts, "\n\n"))
	if err != nil {
		return types.QueryResult{}, fmt.Errorf("%w: %w", types.ErrConfig, err)
	}

	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return types.QueryResult{}, asProvider("generate answer", err)
	}

	grounded := len(passages) > 0 && !e.template.IsSentinel(answer)
	e.logger.Debug("answer generated",
		"passages", len(passages),
		"grounded", grounded,
		"took", time.Since(start),
	)

	if passages == nil {
		passages = []types.Passage{}
	}
	return types.QueryResult{
		Answer:   answer,
		Passages: passages,
		Metadata: map[string]string{types.MetaQuestion: question},
		Grounded: grounded,
	}, nil
}

func asProvider(op string, err error) error {
	if types.KindOf(err) != nil {
		return err
	}
	return types.ProviderErr(op, err)
}
