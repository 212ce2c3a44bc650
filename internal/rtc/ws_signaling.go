package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the websocket signaling format. Types: "auth", "offer",
// "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	SDP      string `json:"sdp,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the web client's domain is fixed
		return true
	},
}

// ServeWebSocket upgrades the connection and runs offer/answer plus trickle
// ICE signaling, then attaches the call media. It expects auth (when
// configured), then an offer, then candidates.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if h.cfg.AuthPassword != "" && !authFromRequest(r, h.cfg.AuthPassword) {
		// fall back to an auth frame as the first message
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil || mt != websocket.TextMessage {
			writeSignalError(conn, fmt.Errorf("auth required"))
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil || strings.ToLower(m.Type) != "auth" || m.Password != h.cfg.AuthPassword {
			writeSignalError(conn, fmt.Errorf("unauthorized"))
			return
		}
	}

	var offerSDP string
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			log.Printf("ws read before offer: %v", rerr)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				offerSDP = m.SDP
			}
		case "bye":
			return
		}
		if offerSDP != "" {
			break
		}
	}

	pc, outTrack, err := h.buildPeer()
	if err != nil {
		writeSignalError(conn, err)
		return
	}
	defer func() { _ = pc.Close() }()

	callID := generateCallID()
	h.attachMedia(callID, pc, outTrack)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.WriteJSON(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.WriteJSON(signalMessage{
			Type:          "candidate",
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	// remote trickle candidates and bye
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{
					Candidate:     m.Candidate,
					SDPMid:        m.SDPMid,
					SDPMLineIndex: m.SDPMLineIndex,
				})
			case "bye":
				_ = pc.Close()
				return
			}
		}
	}()

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		writeSignalError(conn, err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		writeSignalError(conn, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		writeSignalError(conn, err)
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		writeSignalError(conn, errors.New("no local description"))
		return
	}
	if err := conn.WriteJSON(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Printf("[%s] ws write answer: %v", callID, err)
		return
	}

	// hold the handler open until the call ends
	for {
		time.Sleep(2 * time.Second)
		switch pc.ConnectionState() {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			return
		}
	}
}

func authFromRequest(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}

func writeSignalError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
}
