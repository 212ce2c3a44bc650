package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/leadline-ai/leadline/internal/agent"
	"github.com/leadline-ai/leadline/internal/convo"
	"github.com/leadline-ai/leadline/internal/llm"
	"github.com/leadline-ai/leadline/internal/stream"
	"github.com/leadline-ai/leadline/internal/transcript"
	"github.com/leadline-ai/leadline/internal/tts"
)

// SessionDescription is a small DTO so transport handlers do not expose
// webrtc types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Config carries the provider credentials a call needs.
type Config struct {
	AssemblyAIKey   string
	CerebrasKey     string
	CerebrasModel   string
	DeepgramKey     string
	DeepgramModel   string
	ElevenLabsKey   string
	ElevenLabsVoice string
	ICEServersJSON  string
	AuthPassword    string
}

// SnapshotStore persists conversation snapshots at call end and on lead
// updates. Optional; nil disables persistence.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap convo.Snapshot) error
}

// Handler terminates WebRTC calls and runs one agent session per call.
type Handler struct {
	cfg   Config
	store SnapshotStore
}

func NewHandler(cfg Config) *Handler { return &Handler{cfg: cfg} }

func (h *Handler) WithStore(st SnapshotStore) *Handler {
	h.store = st
	return h
}

// newTTS picks Deepgram when configured, otherwise the ElevenLabs fallback.
func (h *Handler) newTTS() agent.TTS {
	if h.cfg.DeepgramKey != "" {
		return tts.NewDeepgram(h.cfg.DeepgramKey, h.cfg.DeepgramModel)
	}
	return tts.NewElevenLabs(h.cfg.ElevenLabsKey, h.cfg.ElevenLabsVoice)
}

// HandleOffer accepts an SDP offer over HTTP and returns an SDP answer
// with ICE gathering completed (non-trickle path).
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	callID := generateCallID()
	pc, outTrack, err := h.buildPeer()
	if err != nil {
		return SessionDescription{}, err
	}

	h.attachMedia(callID, pc, outTrack)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// buildPeer prepares a PeerConnection with default codecs and interceptors
// and an outbound Opus track for the agent's voice.
func (h *Handler) buildPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.cfg.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// attachMedia wires one call: inbound Opus through STT into the agent,
// agent PCM through the paced writer back out, control and state data
// channels, and cleanup on disconnect.
func (h *Handler) attachMedia(callID string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) {
	stt := transcript.NewAssemblyAI(h.cfg.AssemblyAIKey)
	llmClient := llm.NewCerebrasClient(h.cfg.CerebrasKey, ifEmpty(h.cfg.CerebrasModel, "llama-4-maverick-17b-128e-instruct"))
	streams := stream.NewManager()
	state := convo.NewSession(callID)

	var sessPtr atomic.Pointer[agent.Session]
	var pacedPtr atomic.Pointer[OpusPacedWriter]
	var stateDC atomic.Pointer[webrtc.DataChannel]

	// an interrupted stream must also flush frames already encoded
	streams.SetOnInterrupt(func(sessionID, streamID string) {
		if p := pacedPtr.Load(); p != nil {
			p.Reset()
		}
	})

	saveSnapshot := func() {
		if h.store == nil {
			return
		}
		snap := state.Snapshot()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("[%s] snapshot save: %v", callID, err)
		}
	}

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, st.String())
		switch st {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if s := sessPtr.Load(); s != nil {
				s.Close()
			}
			state.End()
			saveSnapshot()
			_ = stt.Close()
			if p := pacedPtr.Load(); p != nil {
				p.FlushTail()
				time.AfterFunc(400*time.Millisecond, p.Close)
			}
			_ = pc.Close()
		}
	})
	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, st.String())
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case "control":
			log.Printf("[%s] control channel opened", callID)
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
				switch cmd {
				case "stop", "stop-speaking", "cancel", "barge-in":
					// client-side turn signal preempts the energy detector
					if s := sessPtr.Load(); s != nil {
						s.BargeIn()
					}
				}
			})
		case "state":
			log.Printf("[%s] state channel opened", callID)
			stateDC.Store(dc)
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] remote audio track: codec=%s", callID, remote.Codec().MimeType)

		paced, err := NewOpusPacedWriter(outTrack)
		if err != nil {
			log.Printf("[%s] opus encoder: %v", callID, err)
			return
		}
		pacedPtr.Store(paced)
		go writeConnectTone(paced)

		if err := stt.Connect(); err != nil {
			log.Printf("[%s] stt connect (agent disabled): %v", callID, err)
			return
		}
		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			log.Printf("[%s] opus decoder: %v", callID, err)
			return
		}

		pushState := func(snap convo.Snapshot) {
			dc := stateDC.Load()
			if dc == nil {
				return
			}
			b, err := json.Marshal(snap)
			if err != nil {
				return
			}
			_ = dc.SendText(string(b))
		}

		sess := agent.NewSession(state, llmClient, h.newTTS(), streams, agent.Config{}, agent.Callbacks{
			OnAudio: paced.WritePCM,
			OnAgentText: func(text string, isFinal bool) {
				if isFinal {
					log.Printf("[%s] ASSISTANT: %s", callID, text)
				}
			},
			OnTranscript: func(text string, isFinal bool) {
				if isFinal {
					log.Printf("[%s] USER: %s", callID, text)
				}
			},
			OnStateUpdate: func(snap convo.Snapshot) {
				pushState(snap)
				saveSnapshot()
			},
			OnError: func(err error) { log.Printf("[%s] agent: %v", callID, err) },
		})
		sessPtr.Store(sess)

		go forwardTranscripts(sess, stt)
		go micLoop(callID, remote, dec, stt, sess)
	})
}

// forwardTranscripts bridges STT output into the session until the STT
// channels close.
func forwardTranscripts(sess *agent.Session, stt *transcript.AssemblyAI) {
	partials := stt.Partials()
	finals := stt.Finals()
	for partials != nil || finals != nil {
		select {
		case p, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			sess.HandleTranscript(p, false)
		case f, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			sess.HandleTranscript(f, true)
		}
	}
}

// micLoop decodes inbound RTP to 16kHz PCM and fans it out to STT and the
// barge-in detector in fixed 100ms chunks.
func micLoop(callID string, remote *webrtc.TrackRemote, dec *opus.Decoder, stt *transcript.AssemblyAI, sess *agent.Session) {
	const chunkBytes = 3200
	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("[%s] rtp read: %v", callID, err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			log.Printf("[%s] opus decode: %v", callID, err)
			continue
		}
		startLen := len(buf)
		need := n * 2
		if cap(buf)-startLen < need {
			tmp := make([]byte, startLen, startLen+need+chunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:startLen+need]
		o := buf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:], uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			if err := stt.SendAudio(chunk); err != nil {
				log.Printf("[%s] stt send: %v", callID, err)
			}
			sess.HandleAudioFrame(chunk)
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}

// writeConnectTone plays a short 440Hz tone so the caller hears the audio
// path is live before the agent speaks.
func writeConnectTone(paced *OpusPacedWriter) {
	const frameSamples = 960
	samplesTotal := int(48000 * 200 / 1000) // ~200ms
	phase := 0.0
	phaseInc := 2 * math.Pi * 440.0 / 48000.0
	frame := make([]byte, frameSamples*2)
	for generated := 0; generated < samplesTotal; generated += frameSamples {
		for i := 0; i < frameSamples; i++ {
			var v float64
			if generated+i < samplesTotal {
				v = math.Sin(phase) * 6000.0
				phase += phaseInc
			}
			binary.LittleEndian.PutUint16(frame[2*i:], uint16(int16(v)))
		}
		paced.WritePCM(frame)
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func ifEmpty(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

func generateCallID() string { return "call-" + time.Now().Format("0102150405.000") }
