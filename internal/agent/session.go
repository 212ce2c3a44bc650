package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/leadline-ai/leadline/internal/barge"
	"github.com/leadline-ai/leadline/internal/chunk"
	"github.com/leadline-ai/leadline/internal/convo"
	"github.com/leadline-ai/leadline/internal/llm"
	"github.com/leadline-ai/leadline/internal/pace"
	"github.com/leadline-ai/leadline/internal/stream"
)

// Config tunes the per-session pipeline. Zero values select defaults.
type Config struct {
	MinChunkWords int
	Pacer         pace.Config
	Barge         barge.Config
}

// Session orchestrates one call: transcripts in, LLM tokens through the
// chunker, chunks through TTS and the pacer, audio out. One LLM turn is in
// flight at a time; additional final transcripts queue FIFO. One TTS
// stream is current at a time, enforced by the stream manager.
type Session struct {
	state    *convo.Session
	llm      LLM
	tts      TTS
	streams  *stream.Manager
	detector *barge.Detector
	pacer    *pace.Pacer
	cb       Callbacks
	minWords int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	busy    bool
	pending []string
}

// NewSession wires the pipeline for an existing conversation state. The
// stream manager is injected so tests (and multi-session servers) control
// its scope.
func NewSession(state *convo.Session, llmClient LLM, ttsClient TTS, streams *stream.Manager, cfg Config, cb Callbacks) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		state:    state,
		llm:      llmClient,
		tts:      ttsClient,
		streams:  streams,
		detector: barge.New(cfg.Barge),
		pacer:    pace.New(cfg.Pacer),
		cb:       cb,
		minWords: cfg.MinChunkWords,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.detector.SetOnBargeIn(s.BargeIn)
	return s
}

// State returns the underlying conversation state.
func (s *Session) State() *convo.Session { return s.state }

// IsSpeaking reports whether agent audio is currently being produced.
func (s *Session) IsSpeaking() bool { return s.detector.IsAgentSpeaking() }

// BargeIn requests cooperative cancellation of the current response's
// audio. Transports with a native turn-detection signal call this
// directly, preempting the energy detector.
func (s *Session) BargeIn() {
	if s.streams.StopStream(s.state.ID()) {
		log.Printf("[%s] barge-in: stopping current stream", s.state.ID())
	}
}

// HandleAudioFrame feeds one inbound PCM16LE mic frame to the barge-in
// detector.
func (s *Session) HandleAudioFrame(pcm []byte) {
	s.detector.ProcessFrame(pcm)
}

// HandleTranscript receives STT output. Partials are only echoed; a final
// transcript starts a turn, or queues if one is already in flight.
func (s *Session) HandleTranscript(text string, isFinal bool) {
	if s.cb.OnTranscript != nil && text != "" {
		s.cb.OnTranscript(text, isFinal)
	}
	if !isFinal {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.busy {
		s.pending = append(s.pending, text)
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.mu.Unlock()
	go s.runTurns(text)
}

// Close cancels in-flight work for the session.
func (s *Session) Close() {
	s.streams.StopStream(s.state.ID())
	s.cancel()
}

// runTurns processes the transcript and then drains the pending queue,
// keeping exactly one turn in flight.
func (s *Session) runTurns(text string) {
	for {
		s.runTurn(text)

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.busy = false
			s.mu.Unlock()
			return
		}
		text = s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
	}
}

func (s *Session) runTurn(userText string) {
	id := s.state.ID()
	s.state.Append(convo.RoleUser, userText)

	events, err := s.llm.StreamChat(s.ctx, s.buildMessages(), toolDefs())
	if err != nil {
		log.Printf("[%s] llm error: %v", id, err)
		s.fail(err)
		return
	}

	// One logical stream per response; chunks share it. A live entry here
	// means the previous response failed to close out, which must never
	// happen - surface it and clear before continuing.
	if s.streams.HasActiveStream(id) {
		s.fail(fmt.Errorf("session %s: stream entry still live at turn start", id))
		s.streams.StopStream(id)
		s.streams.EndStream(id)
	}
	s.streams.StartStream(id)
	checker := s.streams.StopChecker(id)
	s.pacer.Reset()
	s.detector.AgentStartedSpeaking()

	// Chunks play through a single serialized queue so audio follows text
	// generation order even when synthesis latency varies.
	speech := make(chan string, 16)
	playbackDone := make(chan struct{})
	go s.playback(id, speech, checker, playbackDone)

	chunker := chunk.New(s.minWords)
	var full strings.Builder
	for ev := range events {
		switch ev.Type {
		case llm.EventToken:
			full.WriteString(ev.Token)
			if s.cb.OnAgentText != nil {
				s.cb.OnAgentText(ev.Token, false)
			}
			if c, ok := chunker.AddToken(ev.Token); ok {
				speech <- c
			}
		case llm.EventToolCall:
			if err := s.state.ApplyToolCall(ev.Tool.Name, ev.Tool.Arguments); err != nil {
				log.Printf("[%s] tool call: %v", id, err)
			} else {
				log.Printf("[%s] applied tool %s", id, ev.Tool.Name)
			}
			if s.cb.OnStateUpdate != nil {
				s.cb.OnStateUpdate(s.state.Snapshot())
			}
		case llm.EventError:
			// transient provider failure: the session survives, the
			// response just ends early
			log.Printf("[%s] llm stream error: %v", id, ev.Err)
			s.fail(ev.Err)
		}
	}
	if c, ok := chunker.Flush(); ok {
		speech <- c
	}
	close(speech)
	<-playbackDone

	s.detector.AgentStoppedSpeaking()
	if final, ok := s.streams.EndStream(id); ok {
		if final.Stopped() {
			log.Printf("[%s] stream %s interrupted after %d bytes", id, final.StreamID, final.BytesStreamed)
		} else {
			log.Printf("[%s] stream %s finished, %d bytes", id, final.StreamID, final.BytesStreamed)
		}
	}

	if reply := strings.TrimSpace(full.String()); reply != "" {
		s.state.Append(convo.RoleAssistant, reply)
		if s.cb.OnAgentText != nil {
			s.cb.OnAgentText(reply, true)
		}
	}
	s.state.AdvanceStage()
	if s.cb.OnStateUpdate != nil {
		s.cb.OnStateUpdate(s.state.Snapshot())
	}
}

// buildMessages rebuilds the system prompt from current stage and lead
// state, then appends the full history.
func (s *Session) buildMessages() []llm.Message {
	history := s.state.History()
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: convo.RoleSystem, Content: s.state.BuildSystemPrompt()})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// playback consumes queued chunks in order. After a stop it drains the
// queue without synthesizing; a failed segment is skipped without killing
// the session.
func (s *Session) playback(id string, speech <-chan string, stopped func() bool, done chan<- struct{}) {
	defer close(done)
	for text := range speech {
		if stopped() {
			continue
		}
		if err := s.speak(id, text, stopped); err != nil {
			log.Printf("[%s] tts segment failed: %v", id, err)
			s.detector.AgentStoppedSpeaking()
			s.fail(err)
		}
	}
}

// speak synthesizes one chunk and pushes its audio through the pacer,
// polling the stop flag at chunk granularity so interruption latency is
// bounded by audio chunk size.
func (s *Session) speak(id, text string, stopped func() bool) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	pcmCh, errCh := s.tts.StreamPCM(ctx, text)
	for pcmCh != nil || errCh != nil {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			if stopped() {
				// abandon remaining bytes for this chunk
				cancel()
				continue
			}
			if err := s.pacer.Pace(ctx, b); err != nil {
				return nil // session shutting down
			}
			s.streams.UpdateBytesStreamed(id, len(b))
			if s.cb.OnAudio != nil {
				s.cb.OnAudio(b)
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				return e
			}
		}
	}
	return nil
}

func (s *Session) fail(err error) {
	if s.cb.OnError != nil && err != nil {
		s.cb.OnError(err)
	}
}
