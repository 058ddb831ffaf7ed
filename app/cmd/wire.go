package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"docqa/config"
	"docqa/model"
	"docqa/registry"
	"docqa/store"
)

// engine bundles the long-lived components built from configuration.
type engine struct {
	registry  *registry.Registry
	backend   store.Backend
	embedder  model.Embedder
	generator model.Generator
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	backend, err := store.NewBackend(ctx, cfg.VectorStore, logger)
	if err != nil {
		return nil, err
	}
	e := &engine{backend: backend}

	if e.embedder, err = model.NewEmbedder(ctx, cfg.Embeddings); err != nil {
		e.Close()
		return nil, err
	}
	if e.generator, err = model.NewGenerator(ctx, cfg.Generation); err != nil {
		e.Close()
		return nil, err
	}

	e.registry, err = registry.New(registry.Options{
		Config:    cfg,
		Backend:   backend,
		Embedder:  e.embedder,
		Generator: e.generator,
		Logger:    logger,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close releases sessions first, then the providers and the backend.
func (e *engine) Close() error {
	var errs []error
	if e.registry != nil {
		errs = append(errs, e.registry.Close())
	}
	for _, c := range []any{e.generator, e.embedder} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	if e.backend != nil {
		errs = append(errs, e.backend.Close())
	}
	return errors.Join(errs...)
}
