package relay

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lkarlslund/copilot-relay/pkg/copilot"
)

// fanOutConcurrency caps parallel upstream embedding calls per request.
const fanOutConcurrency = 4

// Embedder is the slice of the upstream client the normalizer needs.
type Embedder interface {
	Embed(ctx context.Context, token string, req copilot.EmbeddingRequest) (*copilot.EmbeddingResponse, error)
}

// Normalizer fills in relay-level defaults before a request goes
// upstream. Client-supplied values always win.
type Normalizer struct {
	defaultModel          string
	defaultEmbeddingModel string
}

func NewNormalizer(defaultModel, defaultEmbeddingModel string) *Normalizer {
	return &Normalizer{
		defaultModel:          defaultModel,
		defaultEmbeddingModel: defaultEmbeddingModel,
	}
}

func (n *Normalizer) NormalizeChat(req *copilot.ChatRequest) {
	if req.Model == "" {
		req.Model = n.defaultModel
	}
}

func (n *Normalizer) NormalizeEmbedding(req *copilot.EmbeddingRequest) error {
	if req.Model == "" {
		req.Model = n.defaultEmbeddingModel
	}
	if req.Input.IsZero() {
		return copilot.ErrInvalidEmbeddingInput
	}
	return nil
}

// FanOutEmbeddings issues one single-input upstream call per input
// text and merges the results back in input order. Usage is summed
// across the calls. A single-text request goes upstream as-is.
func (n *Normalizer) FanOutEmbeddings(ctx context.Context, token string, upstream Embedder, req copilot.EmbeddingRequest) (*copilot.EmbeddingResponse, error) {
	texts := req.Input.Texts()
	if len(texts) == 1 {
		return upstream.Embed(ctx, token, req)
	}

	results := make([]*copilot.EmbeddingResponse, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			resp, err := upstream.Embed(gctx, token, copilot.EmbeddingRequest{
				Model:          req.Model,
				Input:          copilot.SingleInput(text),
				EncodingFormat: req.EncodingFormat,
			})
			if err != nil {
				return fmt.Errorf("embedding input %d: %w", i, err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &copilot.EmbeddingResponse{
		Object: "list",
		Model:  req.Model,
		Data:   make([]copilot.EmbeddingData, 0, len(texts)),
	}
	var usage copilot.Usage
	var sawUsage bool
	for i, resp := range results {
		if merged.Model == "" {
			merged.Model = resp.Model
		}
		for _, d := range resp.Data {
			d.Index = i
			merged.Data = append(merged.Data, d)
		}
		if resp.Usage != nil {
			sawUsage = true
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
			usage.TotalTokens += resp.Usage.TotalTokens
		}
	}
	if sawUsage {
		merged.Usage = &usage
	}
	return merged, nil
}
