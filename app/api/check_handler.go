package api

import (
	"github.com/gofiber/fiber/v2"
)

type CheckHandler struct {
	docs DocumentService
}

func NewCheckHandler(docs DocumentService) *CheckHandler {
	return &CheckHandler{
		docs: docs,
	}
}

// HandleHealthy also reports how many documents are currently registered.
func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok", "documents": len(h.docs.List())})
}
