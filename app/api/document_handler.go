package api

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docqa/types"
)

// DocumentService is the part of the document registry the handlers use.
type DocumentService interface {
	Ingest(ctx context.Context, data []byte, filename string) (types.DocumentMetadata, error)
	RouteQuery(ctx context.Context, id, question string) (types.QueryResult, error)
	Delete(ctx context.Context, id string) error
	Get(id string) (types.DocumentMetadata, error)
	List() []types.DocumentMetadata
}

const uploadField = "file"

type DocumentHandler struct {
	docs DocumentService
}

func NewDocumentHandler(docs DocumentService) *DocumentHandler {
	return &DocumentHandler{
		docs: docs,
	}
}

func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile(uploadField)
	if err != nil {
		return ErrMissingFile(uploadField)
	}
	filename := filepath.Base(fileHeader.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return ErrNotPDF(filename)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	meta, err := h.docs.Ingest(c.UserContext(), data, filename)
	if err != nil {
		return err
	}

	return c.JSON(types.UploadResponse{
		DocumentID: meta.DocumentID,
		Filename:   meta.Filename,
		Message:    "Document uploaded and indexed",
		Status:     "success",
	})
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(h.docs.List())
}

func (h *DocumentHandler) HandleGet(c *fiber.Ctx) error {
	meta, err := h.docs.Get(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(meta)
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.docs.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "document " + id + " deleted"})
}
