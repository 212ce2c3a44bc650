package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	}))
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout draining events")
		}
	}
}

func TestStreamChat_NoKey(t *testing.T) {
	c := NewCerebrasClient("", "model")
	if _, err := c.StreamChat(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestStreamChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte("oops"))
	}))
	defer srv.Close()

	c := NewCerebrasClient("key", "model")
	c.Endpoint = srv.URL
	if _, err := c.StreamChat(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestStreamChat_TokensInOrder(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: {"choices":[{"delta":{"content":"."}}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	c := NewCerebrasClient("key", "model")
	c.Endpoint = srv.URL
	events, err := c.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, events)
	want := []string{"Hello", " there", "."}
	if len(got) != len(want)+1 {
		t.Fatalf("events = %+v", got)
	}
	for i, w := range want {
		if got[i].Type != EventToken || got[i].Token != w {
			t.Fatalf("event %d = %+v, want token %q", i, got[i], w)
		}
	}
	if got[len(got)-1].Type != EventDone {
		t.Fatalf("missing done event: %+v", got)
	}
}

func TestStreamChat_ToolCallAssembledFromDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"capture_lead_info","arguments":"{\"na"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"me\":\"Ana\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	c := NewCerebrasClient("key", "model")
	c.Endpoint = srv.URL
	events, err := c.StreamChat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, events)
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	tc := got[0]
	if tc.Type != EventToolCall || tc.Tool.Name != "capture_lead_info" || tc.Tool.ID != "call_1" {
		t.Fatalf("tool event = %+v", tc)
	}
	if name, _ := tc.Tool.Arguments["name"].(string); name != "Ana" {
		t.Fatalf("arguments = %+v", tc.Tool.Arguments)
	}
}

func TestStreamChat_BadChunkEmitsError(t *testing.T) {
	srv := sseServer(t, []string{`data: {not json`})
	defer srv.Close()

	c := NewCerebrasClient("key", "model")
	c.Endpoint = srv.URL
	events, err := c.StreamChat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got := collect(t, events)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("events = %+v", got)
	}
}
