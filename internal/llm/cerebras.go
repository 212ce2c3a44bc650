package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may invoke.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema half of a tool definition.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a completed tool invocation assembled from stream deltas,
// with arguments already decoded.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// EventType tags the variants emitted on the stream channel.
type EventType string

const (
	EventToken    EventType = "token"
	EventToolCall EventType = "tool_call"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one tagged item of a streaming response. The channel preserves
// generation order and is closed after Done or Error.
type Event struct {
	Type  EventType
	Token string
	Tool  ToolCall
	Err   error
}

// CerebrasClient talks to the Cerebras OpenAI-compatible chat completions
// API with SSE streaming.
type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	// Endpoint overrides the production URL, mainly for tests.
	Endpoint string
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   defaultEndpoint,
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []deltaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat opens a streaming completion and returns an ordered event
// channel. The connect phase is synchronous so transport and auth failures
// come back as an error, not an event. The channel is closed when the
// stream ends for any reason.
func (c *CerebrasClient) StreamChat(ctx context.Context, msgs []Message, tools []Tool) (<-chan Event, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("cerebras api key missing")
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	body, _ := json.Marshal(chatRequest{Model: c.Model, Messages: msgs, Stream: true, Tools: tools})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		readStream(resp.Body, events)
	}()
	return events, nil
}

// pendingTool accumulates argument fragments for one tool call index.
type pendingTool struct {
	id   string
	name string
	args strings.Builder
}

func readStream(r io.Reader, events chan<- Event) {
	pending := make(map[int]*pendingTool)
	scanner := bufio.NewScanner(r)
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
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("cerebras: bad stream chunk: %w", err)}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			events <- Event{Type: EventToken, Token: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			p := pending[tc.Index]
			if p == nil {
				p = &pendingTool{}
				pending[tc.Index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason == "tool_calls" {
			flushTools(pending, events)
			pending = make(map[int]*pendingTool)
		}
	}
	if err := scanner.Err(); err != nil {
		events <- Event{Type: EventError, Err: fmt.Errorf("cerebras: stream read: %w", err)}
		return
	}
	flushTools(pending, events)
	events <- Event{Type: EventDone}
}

// flushTools emits accumulated tool calls in index order.
func flushTools(pending map[int]*pendingTool, events chan<- Event) {
	if len(pending) == 0 {
		return
	}
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		p := pending[i]
		args := map[string]any{}
		raw := p.args.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				events <- Event{Type: EventError, Err: fmt.Errorf("cerebras: tool %s arguments: %w", p.name, err)}
				continue
			}
		}
		events <- Event{Type: EventToolCall, Tool: ToolCall{ID: p.id, Name: p.name, Arguments: args}}
	}
}
