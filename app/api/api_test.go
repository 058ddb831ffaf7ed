package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/types"
)

const docID = "3f0c5a4e-8a59-4f4e-9a8e-2b8f1f7a0c11"

type fakeDocs struct {
	ingested []string
	queryErr error
	result   types.QueryResult
	docs     map[string]types.DocumentMetadata
}

func (f *fakeDocs) Ingest(_ context.Context, data []byte, filename string) (types.DocumentMetadata, error) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return types.DocumentMetadata{}, types.Validationf("%s is not a PDF", filename)
	}
	f.ingested = append(f.ingested, filename)
	return types.DocumentMetadata{DocumentID: docID, Filename: filename}, nil
}

func (f *fakeDocs) RouteQuery(_ context.Context, id, _ string) (types.QueryResult, error) {
	if f.queryErr != nil {
		return types.QueryResult{}, f.queryErr
	}
	if _, ok := f.docs[id]; !ok {
		return types.QueryResult{}, types.NotFoundf("document %s", id)
	}
	return f.result, nil
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return types.NotFoundf("document %s", id)
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) Get(id string) (types.DocumentMetadata, error) {
	m, ok := f.docs[id]
	if !ok {
		return m, types.NotFoundf("document %s", id)
	}
	return m, nil
}

func (f *fakeDocs) List() []types.DocumentMetadata {
	out := []types.DocumentMetadata{}
	for _, m := range f.docs {
		out = append(out, m)
	}
	return out
}

func newTestApp(docs DocumentService) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	dh := NewDocumentHandler(docs)
	qh := NewQuestionHandler(docs)
	app.Get("/check/healthy", NewCheckHandler(docs).HandleHealthy)
	app.Get("/config", NewConfigHandler(config.Default()).HandleGetConfig)
	app.Post("/documents/upload", dh.HandleUpload)
	app.Get("/documents", dh.HandleList)
	app.Get("/documents/:id", dh.HandleGet)
	app.Delete("/documents/:id", dh.HandleDelete)
	app.Post("/qa/question", qh.HandleQuestion)
	return app
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthy(t *testing.T) {
	resp, err := newTestApp(&fakeDocs{}).Test(httptest.NewRequest(http.MethodGet, "/check/healthy", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", got["result"])
	assert.EqualValues(t, 0, got["documents"])
}

func TestUpload(t *testing.T) {
	docs := &fakeDocs{}
	app := newTestApp(docs)

	resp, err := app.Test(uploadRequest(t, "file", "paper.pdf", []byte("%PDF-1.4 ...")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[types.UploadResponse](t, resp)
	assert.Equal(t, docID, got.DocumentID)
	assert.Equal(t, "paper.pdf", got.Filename)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, []string{"paper.pdf"}, docs.ingested)
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
	}{
		{"wrong field", "upload", "paper.pdf", []byte("%PDF-1.4")},
		{"wrong extension", "file", "notes.txt", []byte("hello")},
		{"not a pdf", "file", "fake.pdf", []byte("hello")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocs{}
			resp, err := newTestApp(docs).Test(uploadRequest(t, tt.field, tt.filename, tt.data))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode[Error](t, resp).Message)
			assert.Empty(t, docs.ingested)
		})
	}
}

func TestDocumentsCRUD(t *testing.T) {
	meta := types.DocumentMetadata{DocumentID: docID, Filename: "paper.pdf", UploadedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Pages: 2, Chunks: 3}
	app := newTestApp(&fakeDocs{docs: map[string]types.DocumentMetadata{docID: meta}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.NoError(t, err)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, docID, list[0]["document_id"])
	assert.Equal(t, "paper.pdf", list[0]["filename"])
	assert.Equal(t, "2024-05-01T12:00:00Z", list[0]["upload_timestamp"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+docID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, meta, decode[types.DocumentMetadata](t, resp))

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/documents/"+docID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["message"], docID)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/documents/"+docID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+docID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuestion(t *testing.T) {
	docs := &fakeDocs{
		docs: map[string]types.DocumentMetadata{docID: {DocumentID: docID}},
		result: types.QueryResult{
			Answer:     "Qubits.",
			Passages:   []types.Passage{{Content: "Qubits hold superpositions.", Metadata: map[string]string{"page": "0"}, Score: 0.9}},
			Metadata:   map[string]string{"question": "What?", "document_id": docID},
			Grounded:   true,
			QuestionID: "q-1",
			AskedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	app := newTestApp(docs)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/qa/question", types.QuestionParams{Question: "What?", DocumentID: docID}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[map[string]any](t, resp)
	assert.Equal(t, "Qubits.", got["answer"])
	assert.Equal(t, true, got["grounded"])
	assert.Equal(t, "q-1", got["question_id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["timestamp"])
	sources, ok := got["source_documents"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "Qubits hold superpositions.", sources[0].(map[string]any)["content"])
}

func TestQuestionValidation(t *testing.T) {
	app := newTestApp(&fakeDocs{})

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/qa/question", map[string]string{"question": "What?"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	verr := decode[ValidationError](t, resp)
	assert.Contains(t, verr.Errors, "DocumentID")

	// any id shape is looked up; unknown ones are not found
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/qa/question", map[string]string{"question": "What?", "document_id": "not-a-uuid"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/qa/question", bytes.NewReader([]byte("{")))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorKindStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.Validationf("empty question"), http.StatusBadRequest},
		{types.NotFoundf("document x"), http.StatusNotFound},
		{types.ProviderErr("generate", context.DeadlineExceeded), http.StatusBadGateway},
		{types.StorageErr("query", errors.New("io")), http.StatusInternalServerError},
		{types.Configf("bad template"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			docs := &fakeDocs{queryErr: tt.err}
			resp, err := newTestApp(docs).Test(jsonRequest(t, http.MethodPost, "/qa/question", types.QuestionParams{Question: "q", DocumentID: docID}))
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)
			got := decode[Error](t, resp)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.err.Error(), got.Message)
		})
	}
}

func TestConfigHidesSecrets(t *testing.T) {
	resp, err := newTestApp(&fakeDocs{}).Test(httptest.NewRequest(http.MethodGet, "/config", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "OPENAI_API_KEY")
	assert.NotContains(t, string(data), "dsn")

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.EqualValues(t, 1000, got["chunk_size"])
	assert.EqualValues(t, 5, got["k"])
	assert.Equal(t, "default", got["prompt_template"])
}
