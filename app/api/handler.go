package api

import (
	"github.com/gofiber/fiber/v2"

	"docqa/types"
)

type QuestionHandler struct {
	docs DocumentService
}

func NewQuestionHandler(docs DocumentService) *QuestionHandler {
	return &QuestionHandler{
		docs: docs,
	}
}

func (h *QuestionHandler) HandleQuestion(c *fiber.Ctx) error {
	var params types.QuestionParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	res, err := h.docs.RouteQuery(c.UserContext(), params.DocumentID, params.Question)
	if err != nil {
		return err
	}
	return c.JSON(types.NewQuestionResponse(res))
}
