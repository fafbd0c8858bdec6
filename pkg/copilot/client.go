package copilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lkarlslund/copilot-relay/pkg/config"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Client issues authenticated calls against the Copilot API. It holds
// no token state; callers pass the bearer credential per call.
type Client struct {
	baseURL string
	headers config.HeadersConfig
	client  *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL(), "/"),
		headers: cfg.Headers,
		client:  &http.Client{Timeout: time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second},
	}
}

func (c *Client) Complete(ctx context.Context, token string, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.postJSON(ctx, token, "/chat/completions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteStream forces the streaming flag on and feeds each SSE data
// payload to sink in arrival order. The [DONE] sentinel is passed
// through once, then the loop stops. A sink error stops the loop
// promptly so the upstream connection is released when the downstream
// consumer is gone.
func (c *Client) CompleteStream(ctx context.Context, token string, req ChatRequest, sink func(data string) error) error {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setAPIHeaders(httpReq, token)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, dataPrefix)
		if err := sink(data); err != nil {
			return fmt.Errorf("stream sink: %w", err)
		}
		if data == doneSentinel {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func (c *Client) Embed(ctx context.Context, token string, req EmbeddingRequest) (*EmbeddingResponse, error) {
	var out EmbeddingResponse
	if err := c.postJSON(ctx, token, "/embeddings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListModels(ctx context.Context, token string) (*ModelsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	c.setAPIHeaders(req, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp)
	}
	var out ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models reply: %w", err)
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, token string, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setAPIHeaders(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// setAPIHeaders attaches the fixed header set every Copilot API call
// requires. This is the only place configuration-derived values enter
// the client.
func (c *Client) setAPIHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Editor-Version", c.headers.EditorVersion)
	req.Header.Set("Editor-Plugin-Version", c.headers.EditorPluginVersion)
	req.Header.Set("Copilot-Integration-Id", c.headers.IntegrationID)
	req.Header.Set("User-Agent", c.headers.UserAgent)
	req.Header.Set("Openai-Intent", c.headers.OpenAIIntent)
}

func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
