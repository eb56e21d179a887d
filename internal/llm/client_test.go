// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatUnconfiguredReturnsFallback(t *testing.T) {
	c := NewHTTPClient("", "", "")

	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{
		Fallback: "canned answer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "canned answer" {
		t.Fatalf("expected fallback, got %q", out)
	}
}

func TestChatOrFallbackSwallowsErrors(t *testing.T) {
	c := failingClient{err: errors.New("boom")}

	out := ChatOrFallback(context.Background(), c, []Message{{Role: "user", Content: "hi"}}, Options{
		Fallback: "degraded",
	})
	if out != "degraded" {
		t.Fatalf("expected fallback, got %q", out)
	}
}

func TestChatOrFallbackDeterministicWithoutFallback(t *testing.T) {
	out := ChatOrFallback(context.Background(), nil, []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "  build a game  "},
	}, Options{})
	if out != "build a game" {
		t.Fatalf("expected first user message, got %q", out)
	}

	out = ChatOrFallback(context.Background(), nil, nil, Options{})
	if out != "Run completed" {
		t.Fatalf("expected default fallback, got %q", out)
	}
}

type failingClient struct{ err error }

func (f failingClient) Chat(context.Context, []Message, Options) (string, error) {
	return "", f.err
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" hello "}}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", "test-model")
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected trimmed content, got %q", out)
	}
}

func TestChatStreamingEmitsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var got []string
	c := NewHTTPClient(srv.URL, "key", "test-model")
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{
		Stream: true,
		Role:   "engineer",
		Emitter: func(role, delta string) {
			if role != "engineer" {
				t.Errorf("unexpected role %q", role)
			}
			got = append(got, delta)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected accumulated text, got %q", out)
	}
	if len(got) != 2 || got[0] != "hel" || got[1] != "lo" {
		t.Fatalf("unexpected deltas: %v", got)
	}
}
