package internal

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// NewConfiguration returns a pdfcpu configuration that never touches the
// user's config directory and tolerates common producer quirks.
func NewConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// ReadPages parses and validates a PDF and returns the text of every page
// in page order. Pages without text yield an empty string.
func ReadPages(data []byte, conf *model.Configuration) ([]string, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}

	pages := make([]string, 0, ctx.PageCount)
	for nr := 1; nr <= ctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", nr, err)
		}
		var content []byte
		if r != nil {
			if content, err = io.ReadAll(r); err != nil {
				return nil, fmt.Errorf("failed to read page %d content: %w", nr, err)
			}
		}
		pages = append(pages, ExtractText(content))
	}
	return pages, nil
}

// ExtractText pulls the shown text out of a decoded page content stream.
// Text positioning operators that move to a new line become '\n'; large
// negative TJ adjustments become a space.
func ExtractText(content []byte) string {
	var (
		out      strings.Builder
		operands []token
		lx       = lexer{data: content}
	)

	newline := func() {
		s := out.String()
		if len(s) > 0 && s[len(s)-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	space := func() {
		s := out.String()
		if len(s) > 0 && s[len(s)-1] != ' ' && s[len(s)-1] != '\n' {
			out.WriteByte(' ')
		}
	}

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			if s, ok := lastString(operands); ok {
				out.WriteString(s)
			}
		case "'":
			newline()
			if s, ok := lastString(operands); ok {
				out.WriteString(s)
			}
		case "\"":
			newline()
			if s, ok := lastString(operands); ok {
				out.WriteString(s)
			}
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == tokArray {
				for _, el := range operands[n-1].items {
					switch el.kind {
					case tokString:
						out.WriteString(el.text)
					case tokNumber:
						if el.num < -200 {
							space()
						}
					}
				}
			}
		case "T*", "ET":
			newline()
		case "Td", "TD":
			if n := len(operands); n >= 1 && operands[n-1].kind == tokNumber && operands[n-1].num != 0 {
				newline()
			} else {
				space()
			}
		case "Tm":
			newline()
		case "ID":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	return strings.TrimSpace(out.String())
}

func lastString(ops []token) (string, bool) {
	if n := len(ops); n > 0 && ops[n-1].kind == tokString {
		return ops[n-1].text, true
	}
	return "", false
}
