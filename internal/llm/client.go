// SPDX-License-Identifier: Apache-2.0

// Package llm is the generation collaborator: an OpenAI-compatible chat
// client. When no endpoint is configured it degrades to a deterministic
// fallback string so runs stay executable in dev and test.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEmitter receives role-tagged incremental text while a streaming
// generation call is in flight. Emitters are passed explicitly per call; the
// client holds no ambient per-run state.
type StreamEmitter func(role, delta string)

type Options struct {
	Temperature float64
	Stream      bool
	// Role tags emitted deltas so observers can attribute them to a node.
	Role string
	// Fallback is returned verbatim when generation is unavailable or fails.
	Fallback string
	Emitter  StreamEmitter
}

type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// ChatOrFallback calls the client and substitutes the deterministic fallback
// on any generation failure. Generation errors never abort a run.
func ChatOrFallback(ctx context.Context, c Client, messages []Message, opts Options) string {
	if c != nil {
		out, err := c.Chat(ctx, messages, opts)
		if err == nil && strings.TrimSpace(out) != "" {
			return out
		}
	}
	if strings.TrimSpace(opts.Fallback) != "" {
		return strings.TrimSpace(opts.Fallback)
	}
	return deterministicFallback(messages)
}

func deterministicFallback(messages []Message) string {
	for _, m := range messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return "Run completed"
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
}

// NewHTTPClient builds a client for an OpenAI-compatible /chat/completions
// endpoint. Any empty parameter leaves the client unconfigured; Chat then
// returns the fallback without touching the network.
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		hc:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) configured() bool {
	return c.baseURL != "" && c.apiKey != "" && c.model != ""
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatChoice struct {
	Message *Message `json:"message,omitempty"`
	Delta   *Message `json:"delta,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func (c *HTTPClient) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if !c.configured() {
		return strings.TrimSpace(opts.Fallback), nil
	}

	temp := opts.Temperature
	if temp == 0 {
		temp = 0.2
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temp,
		Stream:      opts.Stream,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion failed: status %d", resp.StatusCode)
	}

	if opts.Stream {
		return c.readStream(resp, opts)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// readStream consumes OpenAI-style SSE lines ("data: {json}", terminated by
// "data: [DONE]"), emitting each content delta to the caller's emitter.
func (c *HTTPClient) readStream(resp *http.Response, opts Options) (string, error) {
	role := strings.TrimSpace(opts.Role)
	if role == "" {
		role = "assistant"
	}

	var acc strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		acc.WriteString(text)
		if opts.Emitter != nil {
			opts.Emitter(role, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return strings.TrimSpace(acc.String()), nil
}
