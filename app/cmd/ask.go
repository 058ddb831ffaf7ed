package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docqa/registry"
	"docqa/types"
)

var (
	askKeep    bool
	askSources bool
)

var askCmd = &cobra.Command{
	Use:   "ask <file.pdf>",
	Short: "Index a PDF and answer questions about it interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ask(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	askCmd.Flags().BoolVar(&askKeep, "keep", false, "keep the document indexed after the session")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the passages each answer is based on")
}

func ask(ctx context.Context, path string, in io.Reader, out io.Writer) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	e, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	meta, err := e.registry.Ingest(ctx, data, filepath.Base(path))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %s: %d pages, %d chunks (id %s)\n", meta.Filename, meta.Pages, meta.Chunks, meta.DocumentID)
	if !askKeep {
		defer e.registry.Delete(context.WithoutCancel(ctx), meta.DocumentID)
	}

	return questionLoop(ctx, e.registry, meta.DocumentID, in, out)
}

func questionLoop(ctx context.Context, reg *registry.Registry, id string, in io.Reader, out io.Writer) error {
	const prompt = "Enter query (or 'quit' to exit): "
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s\n%s\nQuestion: ", prompt, strings.Repeat("=", len(prompt)))
		if !scanner.Scan() {
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch {
		case strings.EqualFold(q, "quit"), strings.EqualFold(q, "exit"):
			return nil
		case q == "":
			continue
		}

		res, err := reg.RouteQuery(ctx, id, q)
		if errors.Is(err, types.ErrProvider) || errors.Is(err, types.ErrValidation) {
			fmt.Fprintf(out, "\nError: %v\n\n", err)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAnswer: %s\n\n", res.Answer)
		if askSources && res.Grounded {
			for _, p := range res.Passages {
				fmt.Fprintf(out, "- [page %s, score %.3f] %s\n", p.Metadata[types.MetaPage], p.Score, p.Content)
			}
			fmt.Fprintln(out)
		}
	}
}
