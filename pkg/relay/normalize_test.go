package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lkarlslund/copilot-relay/pkg/copilot"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []copilot.EmbeddingRequest
	fail  map[string]error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, req copilot.EmbeddingRequest) (*copilot.EmbeddingResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	texts := req.Input.Texts()
	if len(texts) != 1 {
		return nil, fmt.Errorf("expected single-input request, got %d texts", len(texts))
	}
	if err, ok := f.fail[texts[0]]; ok {
		return nil, err
	}
	return &copilot.EmbeddingResponse{
		Object: "list",
		Model:  req.Model,
		Data: []copilot.EmbeddingData{
			{Object: "embedding", Index: 0, Embedding: []float32{float32(len(texts[0]))}},
		},
		Usage: &copilot.Usage{PromptTokens: len(texts[0]), TotalTokens: len(texts[0])},
	}, nil
}

func TestNormalizeChatFillsDefaultModel(t *testing.T) {
	n := NewNormalizer("gpt-4o", "text-embedding-ada-002")

	req := copilot.ChatRequest{}
	n.NormalizeChat(&req)
	if req.Model != "gpt-4o" {
		t.Fatalf("expected default model, got %q", req.Model)
	}

	req = copilot.ChatRequest{Model: "o1"}
	n.NormalizeChat(&req)
	if req.Model != "o1" {
		t.Fatalf("client model overwritten: %q", req.Model)
	}
}

func TestNormalizeEmbeddingValidatesInput(t *testing.T) {
	n := NewNormalizer("gpt-4o", "text-embedding-ada-002")

	req := copilot.EmbeddingRequest{Input: copilot.SingleInput("x")}
	if err := n.NormalizeEmbedding(&req); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.Model != "text-embedding-ada-002" {
		t.Fatalf("expected default embedding model, got %q", req.Model)
	}

	empty := copilot.EmbeddingRequest{Model: "m"}
	if err := n.NormalizeEmbedding(&empty); !errors.Is(err, copilot.ErrInvalidEmbeddingInput) {
		t.Fatalf("expected ErrInvalidEmbeddingInput, got %v", err)
	}
}

func TestFanOutSingleInputGoesStraightThrough(t *testing.T) {
	n := NewNormalizer("gpt-4o", "text-embedding-ada-002")
	up := &fakeEmbedder{}

	resp, err := n.FanOutEmbeddings(context.Background(), "tok", up, copilot.EmbeddingRequest{
		Model: "text-embedding-ada-002",
		Input: copilot.SingleInput("solo"),
	})
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(up.calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(up.calls))
	}
	if len(resp.Data) != 1 || resp.Data[0].Index != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFanOutMergesInInputOrder(t *testing.T) {
	n := NewNormalizer("gpt-4o", "text-embedding-ada-002")
	up := &fakeEmbedder{}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	resp, err := n.FanOutEmbeddings(context.Background(), "tok", up, copilot.EmbeddingRequest{
		Model: "text-embedding-ada-002",
		Input: copilot.ListInput(texts),
	})
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(up.calls) != len(texts) {
		t.Fatalf("expected %d upstream calls, got %d", len(texts), len(up.calls))
	}
	if len(resp.Data) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(resp.Data))
	}
	for i, d := range resp.Data {
		if d.Index != i {
			t.Fatalf("result %d has index %d", i, d.Index)
		}
		if d.Embedding[0] != float32(len(texts[i])) {
			t.Fatalf("result %d does not match input %q", i, texts[i])
		}
	}
	// 1+2+3+4+5 prompt tokens across the five calls.
	if resp.Usage == nil || resp.Usage.PromptTokens != 15 || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected summed usage %+v", resp.Usage)
	}
}

func TestFanOutPropagatesUpstreamFailure(t *testing.T) {
	n := NewNormalizer("gpt-4o", "text-embedding-ada-002")
	up := &fakeEmbedder{fail: map[string]error{"bad": errors.New("boom")}}

	_, err := n.FanOutEmbeddings(context.Background(), "tok", up, copilot.EmbeddingRequest{
		Model: "text-embedding-ada-002",
		Input: copilot.ListInput([]string{"ok", "bad", "fine"}),
	})
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
}
