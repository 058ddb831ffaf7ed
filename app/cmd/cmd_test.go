package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/loader/pdftest"
	"docqa/model"
	"docqa/registry"
	"docqa/store"
)

type fixedGenerator struct{}

func (fixedGenerator) Name() string { return "fixed" }

func (fixedGenerator) Generate(context.Context, string) (string, error) {
	return "A qubit is a two-state quantum system.", nil
}

type unsureGenerator struct{}

func (unsureGenerator) Name() string { return "unsure" }

func (unsureGenerator) Generate(context.Context, string) (string, error) {
	return "I don't know.", nil
}

func newAskRegistry(t *testing.T, gen model.Generator) (*registry.Registry, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.VectorStore.Path = t.TempDir()
	reg, err := registry.New(registry.Options{
		Config:    cfg,
		Backend:   store.NewFlatBackend(cfg.VectorStore.Path, logger),
		Embedder:  model.NewLocalEmbedder(64),
		Generator: gen,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	meta, err := reg.Ingest(context.Background(), pdftest.Build("A qubit is the unit of quantum information."), "q.pdf")
	require.NoError(t, err)
	return reg, meta.DocumentID
}

func TestQuestionLoop(t *testing.T) {
	reg, id := newAskRegistry(t, fixedGenerator{})

	in := strings.NewReader("What is a qubit?\n\n   \nquit\nnever asked\n")
	var out bytes.Buffer
	require.NoError(t, questionLoop(context.Background(), reg, id, in, &out))

	assert.Equal(t, 1, strings.Count(out.String(), "Answer: A qubit is a two-state quantum system."))
	assert.Contains(t, out.String(), "Enter query (or 'quit' to exit)")
}

func TestQuestionLoopSourcesOnlyWhenGrounded(t *testing.T) {
	prev := askSources
	askSources = true
	t.Cleanup(func() { askSources = prev })

	tests := []struct {
		name      string
		gen       model.Generator
		wantCited bool
	}{
		{"grounded", fixedGenerator{}, true},
		{"sentinel", unsureGenerator{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, id := newAskRegistry(t, tt.gen)
			var out bytes.Buffer
			require.NoError(t, questionLoop(context.Background(), reg, id, strings.NewReader("What is a qubit?\nquit\n"), &out))
			if tt.wantCited {
				assert.Contains(t, out.String(), "- [page ")
			} else {
				assert.Contains(t, out.String(), "Answer: I don't know.")
				assert.NotContains(t, out.String(), "- [page ")
			}
		})
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	rootCmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, rootCmd.Execute())
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
