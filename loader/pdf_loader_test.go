package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/loader/pdftest"
	"docqa/types"
)

func TestPDFLoaderLoad(t *testing.T) {
	data := pdftest.Build(
		"Quantum computers use qubits.\nQubits can be in superposition.",
		"Entanglement links qubits (even far apart).",
	)

	docs, err := NewPDFLoader(nil).Load(context.Background(), data, "quantum.pdf")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "Quantum computers use qubits.\nQubits can be in superposition.", docs[0].Content)
	assert.Equal(t, "Entanglement links qubits (even far apart).", docs[1].Content)
	for i, d := range docs {
		assert.Equal(t, "quantum.pdf", d.Metadata[types.MetaSource])
		assert.Equal(t, []string{"0", "1"}[i], d.Metadata[types.MetaPage])
		assert.Equal(t, "2", d.Metadata[types.MetaTotalPages])
	}
}

func TestPDFLoaderRejects(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty", nil, "a.pdf"},
		{"wrong extension", pdftest.Build("text"), "a.txt"},
		{"plain text", []byte("just some words, not a pdf"), "a.pdf"},
		{"truncated pdf", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog"), "a.pdf"},
		{"no text", pdftest.Build("", ""), "blank.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPDFLoader(nil).Load(context.Background(), tt.data, tt.filename)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}
}
