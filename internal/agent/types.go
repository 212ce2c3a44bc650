package agent

import (
	"context"

	"github.com/leadline-ai/leadline/internal/convo"
	"github.com/leadline-ai/leadline/internal/llm"
)

// LLM is the minimal interface for a token-streaming chat model with
// structured tool invocations.
type LLM interface {
	StreamChat(ctx context.Context, msgs []llm.Message, tools []llm.Tool) (<-chan llm.Event, error)
}

// TTS streams PCM mono audio for the given text. The error channel is
// closed when synthesis finishes; a received error means the segment failed.
type TTS interface {
	StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Callbacks are the sinks exposed to the transport layer. Any of them may
// be nil. OnAudio delivery order matches text generation order; that is a
// correctness invariant, not a convenience.
type Callbacks struct {
	// OnTranscript echoes user transcripts for UI display.
	OnTranscript func(text string, isFinal bool)
	// OnAgentText delivers partial tokens (isFinal=false) and the complete
	// assistant message (isFinal=true).
	OnAgentText func(text string, isFinal bool)
	// OnAudio receives paced PCM chunks ready for playback.
	OnAudio func(pcm []byte)
	// OnStateUpdate fires after lead or stage mutations.
	OnStateUpdate func(convo.Snapshot)
	// OnError surfaces session errors; the transport decides whether the
	// call should terminate.
	OnError func(error)
}
