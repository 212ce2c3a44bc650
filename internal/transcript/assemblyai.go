package transcript

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

// silenceThreshold is the base inactivity window required before an
// utterance counts as complete. Conservative, to avoid cutting the caller
// mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added to the threshold when the last word
// suggests the caller will keep talking ("and", "if", "about", ...).
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late ASR revisions after the silence window
// elapses, before the utterance is committed.
const stabilizationGrace = 250 * time.Millisecond

const defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAI streams 16kHz PCM to the AssemblyAI realtime API and turns its
// rolling Turn transcripts into discrete utterances. Partials() carries every
// revision for live captions; Finals() fires once per utterance, after
// silence, with only the text added since the previous utterance.
type AssemblyAI struct {
	apiKey   string
	endpoint string // overridable for tests

	conn      *websocket.Conn
	partials  chan string
	finals    chan string
	audioData chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool

	accMu        sync.Mutex
	closed       bool   // output channels closed; no further sends allowed
	latest       string // newest full rolling transcript
	committed    string // portion already emitted on finals
	lastUpdate   time.Time
	lastVoice    time.Time
	silenceTimer *time.Timer
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{
		apiKey:    apiKey,
		endpoint:  defaultEndpoint,
		partials:  make(chan string, 100),
		finals:    make(chan string, 10),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Partials returns every rolling transcript revision, lossy under backpressure.
func (s *AssemblyAI) Partials() <-chan string { return s.partials }

// Finals returns one delta per completed utterance, lossless.
func (s *AssemblyAI) Finals() <-chan string { return s.finals }

// Connect dials the streaming endpoint and starts the reader and writer
// loops. Safe to call once per service instance.
func (s *AssemblyAI) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := s.endpoint + "?" + params.Encode()

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connect failed, status %d", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.lastUpdate = time.Now()
	s.lastVoice = time.Now()

	go s.readLoop()
	go s.writeLoop()

	log.Printf("assemblyai: streaming session connected")
	return nil
}

// SendAudio queues one inbound PCM16LE frame. Frames are dropped rather
// than blocking the caller when the socket falls behind.
func (s *AssemblyAI) SendAudio(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	s.trackVoiceEnergy(pcm)
	select {
	case s.audioData <- pcm:
	default:
		log.Printf("assemblyai: audio buffer full, dropping frame")
	}
	return nil
}

// trackVoiceEnergy updates lastVoice when a frame carries speech-level RMS.
// The silence finalizer checks it so a caller who is audibly talking, but
// whose words the ASR is still revising, is not cut off.
func (s *AssemblyAI) trackVoiceEnergy(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	if rms >= voiceRMS {
		s.accMu.Lock()
		s.lastVoice = time.Now()
		s.accMu.Unlock()
	}
}

// RecentlyDetectedVoice reports whether speech-level energy was seen within
// the window.
func (s *AssemblyAI) RecentlyDetectedVoice(window time.Duration) bool {
	s.accMu.Lock()
	last := s.lastVoice
	s.accMu.Unlock()
	return time.Since(last) <= window
}

// Close terminates the session and flushes any uncommitted utterance text.
func (s *AssemblyAI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	s.accMu.Lock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.flushPendingDelta()
	// All sends hold accMu and check closed, so once the flag is set no
	// goroutine can be mid-send and the channels are safe to close.
	s.accMu.Lock()
	s.closed = true
	s.accMu.Unlock()
	close(s.audioData)
	close(s.partials)
	close(s.finals)
	return nil
}

func (s *AssemblyAI) readLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-s.stopCh:
				default:
					log.Printf("assemblyai: read: %v", err)
				}
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *AssemblyAI) processMessage(message []byte) {
	var base map[string]any
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("assemblyai: bad message: %v", err)
		return
	}
	msgType, _ := base["type"].(string)
	switch msgType {
	case "Begin":
		var msg beginMessage
		if json.Unmarshal(message, &msg) == nil {
			log.Printf("assemblyai: session %s began, expires %s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: bad turn message: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		s.accMu.Lock()
		if s.closed {
			s.accMu.Unlock()
			return
		}
		select {
		case s.partials <- msg.Transcript:
		default:
		}
		s.latest = msg.Transcript
		s.lastUpdate = time.Now()
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(silenceThreshold, s.finalizeAfterSilence)
		} else {
			s.silenceTimer.Stop()
			s.silenceTimer.Reset(silenceThreshold)
		}
		s.accMu.Unlock()
	case "Termination":
		var msg terminationMessage
		if json.Unmarshal(message, &msg) == nil {
			log.Printf("assemblyai: session terminated after %.2fs audio", msg.AudioDurationSeconds)
		}
		s.flushPendingDelta()
	case "Error":
		var msg errorMessage
		if json.Unmarshal(message, &msg) == nil {
			log.Printf("assemblyai: error: %s", msg.Error)
		}
	default:
		log.Printf("assemblyai: unknown message type %q", msgType)
	}
}

// finalizeAfterSilence runs when the silence timer fires. It re-checks both
// transcript and voice inactivity against the (possibly extended) threshold,
// waits out the stabilization grace, then commits the utterance delta.
func (s *AssemblyAI) finalizeAfterSilence() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.accMu.Lock()
	now := time.Now()
	threshold := silenceThreshold
	if continuationLikely(s.latest) {
		threshold += continuationExtension
	}
	sinceText := now.Sub(s.lastUpdate)
	sinceVoice := now.Sub(s.lastVoice)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(wait, s.finalizeAfterSilence)
		} else {
			s.silenceTimer.Stop()
			s.silenceTimer.Reset(wait)
		}
		s.accMu.Unlock()
		return
	}
	lastUpdateAt := s.lastUpdate
	s.accMu.Unlock()

	time.Sleep(stabilizationGrace)

	s.accMu.Lock()
	if s.lastUpdate.After(lastUpdateAt) {
		// a late revision arrived during grace; re-arm
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(silenceThreshold, s.finalizeAfterSilence)
		} else {
			s.silenceTimer.Stop()
			s.silenceTimer.Reset(silenceThreshold)
		}
		s.accMu.Unlock()
		return
	}
	delta := s.commitDeltaLocked()
	if delta == "" || s.closed {
		s.accMu.Unlock()
		return
	}
	// finals must not drop words; stopCh frees a sender caught mid-teardown
	select {
	case <-s.stopCh:
	case s.finals <- delta:
	}
	s.accMu.Unlock()
}

// commitDeltaLocked computes the text added since the last committed
// utterance and advances the committed marker. Caller holds accMu.
func (s *AssemblyAI) commitDeltaLocked() string {
	delta := strings.TrimSpace(strings.TrimPrefix(s.latest, s.committed))
	if delta == "" && s.committed != "" {
		if idx := strings.LastIndex(s.latest, s.committed); idx >= 0 {
			delta = strings.TrimSpace(s.latest[idx+len(s.committed):])
		}
	}
	s.committed = s.latest
	return delta
}

func (s *AssemblyAI) flushPendingDelta() {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	delta := s.commitDeltaLocked()
	if delta == "" || s.closed {
		return
	}
	select {
	case s.finals <- delta:
	case <-time.After(200 * time.Millisecond):
		log.Printf("assemblyai: timed out delivering final delta")
	}
}

// continuationLikely reports whether the last word of text suggests an
// unfinished sentence.
func continuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}

func (s *AssemblyAI) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("assemblyai: send audio: %v", err)
				return
			}
		}
	}
}
