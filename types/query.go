package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type QuestionParams struct {
	Question   string `json:"question" validate:"required"`
	DocumentID string `json:"document_id" validate:"required"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QuestionParams) Validate() map[string]string {
	return fieldErrors(validate.Struct(params))
}

// fieldErrors flattens validator output into field -> failed tag.
func fieldErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"request": err.Error()}
	}
	errors := make(map[string]string, len(errs))
	for _, e := range errs {
		errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return errors
}

type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

type QuestionResponse struct {
	Answer          string            `json:"answer"`
	SourceDocuments []Passage         `json:"source_documents"`
	Metadata        map[string]string `json:"metadata"`
	Grounded        bool              `json:"grounded"`
	QuestionID      string            `json:"question_id"`
	Timestamp       time.Time         `json:"timestamp"`
}

func NewQuestionResponse(r QueryResult) QuestionResponse {
	sources := r.Passages
	if sources == nil {
		sources = []Passage{}
	}
	return QuestionResponse{
		Answer:          r.Answer,
		SourceDocuments: sources,
		Metadata:        r.Metadata,
		Grounded:        r.Grounded,
		QuestionID:      r.QuestionID,
		Timestamp:       r.AskedAt,
	}
}
