package copilot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// OpenAI-shaped wire types. Fields the relay never inspects are kept
// loosely typed so client payloads survive the round trip unchanged.

type ChatRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
	Stop             any           `json:"stop,omitempty"`
	Tools            []Tool        `json:"tools,omitempty"`
	ToolChoice       any           `json:"tool_choice,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

type ChatMessage struct {
	Role       string     `json:"role,omitempty"`
	Content    any        `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int          `json:"index"`
	Delta        DeltaMessage `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type DeltaMessage struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type EmbeddingRequest struct {
	Model          string         `json:"model,omitempty"`
	Input          EmbeddingInput `json:"input"`
	EncodingFormat string         `json:"encoding_format,omitempty"`
}

type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  *Usage          `json:"usage,omitempty"`
}

type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrInvalidEmbeddingInput is returned when an embedding input is
// absent or neither a string nor a list.
var ErrInvalidEmbeddingInput = errors.New("embedding input must be a string or a list of strings")

// EmbeddingInput is the one-of embedding input: a single text or an
// ordered list of texts. The variant is resolved once while decoding
// the request body; downstream code only ever sees Texts().
type EmbeddingInput struct {
	texts  []string
	single bool
}

func SingleInput(text string) EmbeddingInput {
	return EmbeddingInput{texts: []string{text}, single: true}
}

func ListInput(texts []string) EmbeddingInput {
	return EmbeddingInput{texts: texts}
}

// Texts returns the inputs in their original order.
func (in EmbeddingInput) Texts() []string {
	return in.texts
}

func (in EmbeddingInput) IsZero() bool {
	return len(in.texts) == 0 && !in.single
}

func (in EmbeddingInput) MarshalJSON() ([]byte, error) {
	if in.single && len(in.texts) == 1 {
		return json.Marshal(in.texts[0])
	}
	return json.Marshal(in.texts)
}

func (in *EmbeddingInput) UnmarshalJSON(b []byte) error {
	// A null input is absent, not an empty string; json.Unmarshal would
	// silently leave the string zero-valued.
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return ErrInvalidEmbeddingInput
	}
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*in = SingleInput(single)
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return ErrInvalidEmbeddingInput
	}
	texts := make([]string, 0, len(items))
	for _, item := range items {
		texts = append(texts, stringifyInputItem(item))
	}
	*in = ListInput(texts)
	return nil
}

func stringifyInputItem(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	// Objects, arrays, null: keep the compact JSON form.
	return string(raw)
}

// HTTPError is a non-success reply from the Copilot API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}
