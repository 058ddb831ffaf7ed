package types

import (
	"maps"
	"time"
)

// Metadata keys attached to documents and chunks.
const (
	MetaSource      = "source"
	MetaPage        = "page"
	MetaTotalPages  = "total_pages"
	MetaChunkIndex  = "chunk_index"
	MetaSourceDocID = "source_doc_id"
	MetaQuestion    = "question"
	MetaDocumentID  = "document_id"
	MetaFilename    = "filename"
)

// Document is one unit of extracted text (a PDF page) with its provenance.
// It only lives for the duration of an ingestion.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Chunk is a contiguous slice of a Document's content.
type Chunk struct {
	Content     string
	Index       int // position within the source page
	SourceDocID int // position among all chunks of the upload
	Offset      int // rune offset of Content inside the page text
	Metadata    map[string]string
}

// Passage is a stored chunk returned by a similarity query.
type Passage struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// QueryResult is the answer to one question together with its grounding.
type QueryResult struct {
	Answer     string
	Passages   []Passage
	Metadata   map[string]string
	Grounded   bool
	QuestionID string
	AskedAt    time.Time
}

// WithMetadata returns a copy of r with extra metadata merged in.
func (r QueryResult) WithMetadata(extra map[string]string) QueryResult {
	md := make(map[string]string, len(r.Metadata)+len(extra))
	maps.Copy(md, r.Metadata)
	maps.Copy(md, extra)
	r.Metadata = md
	return r
}

// DocumentMetadata describes a registered document session.
type DocumentMetadata struct {
	DocumentID string    `json:"document_id" yaml:"document_id"`
	Filename   string    `json:"filename" yaml:"filename"`
	UploadedAt time.Time `json:"upload_timestamp" yaml:"upload_timestamp"`
	Pages      int       `json:"pages" yaml:"pages"`
	Chunks     int       `json:"chunks" yaml:"chunks"`
}
