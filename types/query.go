package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// AnalyzeParams is the request body of POST /api/v1/analyze.
type AnalyzeParams struct {
	Text             string `json:"text" validate:"required"`
	LLMMode          string `json:"llm_mode,omitempty"`
	TopK             int    `json:"top_k,omitempty" validate:"omitempty,gte=1"`
	UseSmallEmbedder bool   `json:"use_small_embedder,omitempty"`
	Persist          bool   `json:"persist,omitempty"`
}

// ChatMessage is one prior turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams is the request body of POST /api/v1/chat. Either RecordID
// (a persisted analysis) or Context (the analysis carried by the client)
// must identify the note being discussed.
type ChatParams struct {
	Question    string        `json:"question" validate:"required"`
	RecordID    int64         `json:"record_id,omitempty"`
	Context     *Analysis     `json:"analysis_context,omitempty"`
	ChatHistory []ChatMessage `json:"chat_history,omitempty"`
	LLMMode     string        `json:"llm_mode,omitempty"`
	TopK        int           `json:"top_k,omitempty" validate:"omitempty,gte=1"`
}

// ChatResponse is the reply of POST /api/v1/chat.
type ChatResponse struct {
	Answer         string            `json:"answer"`
	RelevantChunks []RetrievalResult `json:"relevant_chunks"`
	Sources        []string          `json:"sources"`
	ProcessingTime float64           `json:"processing_time"`
}

// ExtractResponse is the reply of POST /api/v1/extract.
type ExtractResponse struct {
	Text           string  `json:"text"`
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
	ProcessingTime float64 `json:"processing_time"`
}

func (params *AnalyzeParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *ChatParams) Validate() map[string]string {
	errors := validateStruct(params)
	if params.RecordID == 0 && params.Context == nil {
		if errors == nil {
			errors = make(map[string]string)
		}
		errors["analysis_context"] = "either record_id or analysis_context is required"
	}
	return errors
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
