// Package relay adapts upstream completion traffic to the shapes
// downstream clients asked for: passthrough streaming with a guaranteed
// terminator, and aggregation of a stream into a single response.
package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lkarlslund/copilot-relay/pkg/copilot"
)

const doneSentinel = "[DONE]"

// Passthrough forwards SSE events to a downstream writer verbatim and
// remembers whether the upstream ever sent its own terminator, so
// Finish can guarantee exactly one [DONE] reaches the client.
type Passthrough struct {
	w       io.Writer
	flusher http.Flusher
	done    bool
	wrote   bool
}

func NewPassthrough(w http.ResponseWriter) *Passthrough {
	p := &Passthrough{w: w}
	if f, ok := w.(http.Flusher); ok {
		p.flusher = f
	}
	return p
}

// Forward writes one SSE event. It is the sink for
// copilot.Client.CompleteStream.
func (p *Passthrough) Forward(data string) error {
	if data == doneSentinel {
		p.done = true
	}
	if _, err := fmt.Fprintf(p.w, "data: %s\n\n", data); err != nil {
		return err
	}
	p.wrote = true
	if p.flusher != nil {
		p.flusher.Flush()
	}
	return nil
}

// Finish emits the terminator if the upstream never did. Safe to call
// after an error as long as at least part of the stream went out.
func (p *Passthrough) Finish() {
	if p.done {
		return
	}
	if _, err := fmt.Fprintf(p.w, "data: %s\n\n", doneSentinel); err != nil {
		return
	}
	p.done = true
	if p.flusher != nil {
		p.flusher.Flush()
	}
}

// Wrote reports whether any event reached the client. Once true the
// response status is committed and errors can only end the stream.
func (p *Passthrough) Wrote() bool {
	return p.wrote
}

// Aggregator folds a chunk stream into a single chat completion.
// Malformed frames are dropped, a broken frame should not kill an
// otherwise usable response.
type Aggregator struct {
	model   string
	usage   *copilot.Usage
	choices map[int]*choiceAccum
}

type choiceAccum struct {
	role      string
	content   strings.Builder
	toolCalls []copilot.ToolCall
	finish    string
}

func NewAggregator() *Aggregator {
	return &Aggregator{choices: make(map[int]*choiceAccum)}
}

// Consume is the stream sink. It accepts every event including the
// terminator, which it ignores.
func (a *Aggregator) Consume(data string) error {
	if data == doneSentinel {
		return nil
	}
	var chunk copilot.ChatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		log.Debug("skipping malformed stream frame", "error", err)
		return nil
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	for _, ch := range chunk.Choices {
		acc := a.choices[ch.Index]
		if acc == nil {
			acc = &choiceAccum{}
			a.choices[ch.Index] = acc
		}
		if ch.Delta.Role != "" {
			acc.role = ch.Delta.Role
		}
		acc.content.WriteString(ch.Delta.Content)
		acc.toolCalls = append(acc.toolCalls, ch.Delta.ToolCalls...)
		if ch.FinishReason != "" {
			acc.finish = ch.FinishReason
		}
	}
	return nil
}

// Response assembles the aggregated completion under a fresh response
// identifier and timestamp. Choice order follows the upstream indices.
func (a *Aggregator) Response() *copilot.ChatResponse {
	resp := &copilot.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString()[:8],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   a.model,
		Usage:   a.usage,
	}
	maxIndex := -1
	for idx := range a.choices {
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	for idx := 0; idx <= maxIndex; idx++ {
		acc := a.choices[idx]
		if acc == nil {
			continue
		}
		role := acc.role
		if role == "" {
			role = "assistant"
		}
		choice := copilot.ChatChoice{
			Index: idx,
			Message: copilot.ChatMessage{
				Role:    role,
				Content: acc.content.String(),
			},
			FinishReason: acc.finish,
		}
		if len(acc.toolCalls) > 0 {
			choice.Message.ToolCalls = acc.toolCalls
		}
		resp.Choices = append(resp.Choices, choice)
	}
	if len(resp.Choices) == 0 {
		// A stream with no usable chunks still yields a well-formed
		// completion, not an empty choices array.
		resp.Choices = []copilot.ChatChoice{{
			Index:   0,
			Message: copilot.ChatMessage{Role: "assistant", Content: ""},
		}}
	}
	return resp
}
