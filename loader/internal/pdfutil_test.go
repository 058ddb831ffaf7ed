package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "simple Tj",
			content: "BT /F1 12 Tf 72 720 Td (Hello world) Tj ET",
			want:    "Hello world",
		},
		{
			name:    "lines via T* and Td",
			content: "BT /F1 12 Tf (one) Tj T* (two) Tj 0 -14 Td (three) Tj ET",
			want:    "one\ntwo\nthree",
		},
		{
			name:    "TJ kerning and word gaps",
			content: "BT [(Hel) -20 (lo) -300 (world)] TJ ET",
			want:    "Hello world",
		},
		{
			name:    "escapes and nested parens",
			content: `BT (a \(b\) \\ c (d)) Tj ET`,
			want:    `a (b) \ c (d)`,
		},
		{
			name:    "octal escape",
			content: `BT (caf\351) Tj ET`,
			want:    "café",
		},
		{
			name:    "hex utf16",
			content: "BT <FEFF0048006900> Tj ET",
			want:    "Hi",
		},
		{
			name:    "quote operators start new lines",
			content: `BT (first) Tj (second) ' 1 2 (third) " ET`,
			want:    "first\nsecond\nthird",
		},
		{
			name:    "dicts and comments are skipped",
			content: "% comment (ignored) Tj\n/Span << /MCID 0 /Alt (x) >> BDC BT (kept) Tj ET EMC",
			want:    "kept",
		},
		{
			name:    "separate text blocks",
			content: "BT (a) Tj ET BT (b) Tj ET",
			want:    "a\nb",
		},
		{
			name:    "inline image data is skipped",
			content: "BI /W 1 /H 1 /BPC 8 ID \x00(\xff) Tj EI BT (after) Tj ET",
			want:    "after",
		},
		{
			name:    "empty",
			content: "",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText([]byte(tt.content)))
		})
	}
}
