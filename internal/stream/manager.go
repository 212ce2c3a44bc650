package stream

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the record for one live TTS stream. Exactly zero or one live
// entry exists per session at any time.
type State struct {
	SessionID     string
	StreamID      string
	StartedAt     time.Time
	BytesStreamed int64
	InterruptedAt time.Time

	shouldStop bool
}

// Stopped reports whether a stop has been requested for this stream.
func (s State) Stopped() bool { return s.shouldStop }

// Manager is the per-session registry of the single active TTS stream and
// its cancellation flag. It does not abort I/O itself; stopping is a
// cooperative signal that callers poll at chunk granularity.
type Manager struct {
	mu      sync.Mutex
	streams map[string]*State
	seq     uint64

	// onInterrupt fires once per explicit stop of a live stream.
	onInterrupt func(sessionID, streamID string)
}

// NewManager returns an empty registry. Construct one per process (or per
// test); entries are keyed by session id.
func NewManager() *Manager {
	return &Manager{streams: make(map[string]*State)}
}

// SetOnInterrupt registers a callback invoked when a live stream is
// explicitly stopped (barge-in or supersession by a new user turn).
func (m *Manager) SetOnInterrupt(fn func(sessionID, streamID string)) {
	m.mu.Lock()
	m.onInterrupt = fn
	m.mu.Unlock()
}

// StartStream registers a new stream for the session and returns its id.
// Any prior entry for the session is implicitly stopped first, enforcing
// the at-most-one-live-stream invariant.
func (m *Manager) StartStream(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.streams[sessionID]; ok {
		if !old.shouldStop {
			// The previous response should have ended or been stopped before
			// a new one starts; tolerate it but make it visible.
			log.Printf("stream: session %s starting a new stream while %s still live; stopping old", sessionID, old.StreamID)
		}
		old.shouldStop = true
		if old.InterruptedAt.IsZero() {
			old.InterruptedAt = time.Now()
		}
	}

	m.seq++
	id := fmt.Sprintf("stream-%d-%d", m.seq, time.Now().UnixMilli())
	m.streams[sessionID] = &State{
		SessionID: sessionID,
		StreamID:  id,
		StartedAt: time.Now(),
	}
	return id
}

// StopStream requests cooperative cancellation of the session's live
// stream. It is idempotent: false is returned when there is no live stream
// or a stop was already requested. The interrupt callback fires exactly
// once per effective stop.
func (m *Manager) StopStream(sessionID string) bool {
	m.mu.Lock()
	st, ok := m.streams[sessionID]
	if !ok || st.shouldStop {
		m.mu.Unlock()
		return false
	}
	st.shouldStop = true
	st.InterruptedAt = time.Now()
	fn := m.onInterrupt
	id := st.StreamID
	m.mu.Unlock()

	if fn != nil {
		fn(sessionID, id)
	}
	return true
}

// StopRequested reports whether the session's current stream should halt.
// A missing entry reads as stopped so stale callers bail out.
func (m *Manager) StopRequested(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[sessionID]
	if !ok {
		return true
	}
	return st.shouldStop
}

// StopChecker returns a poll function bound to the stream that is live at
// call time. If that stream is superseded or removed, the checker reports
// stop, which makes late chunks from an old response inert.
func (m *Manager) StopChecker(sessionID string) func() bool {
	m.mu.Lock()
	var id string
	if st, ok := m.streams[sessionID]; ok {
		id = st.StreamID
	}
	m.mu.Unlock()

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		st, ok := m.streams[sessionID]
		if !ok || st.StreamID != id {
			return true
		}
		return st.shouldStop
	}
}

// UpdateBytesStreamed accumulates delivered byte counts for the live stream.
func (m *Manager) UpdateBytesStreamed(sessionID string, n int) {
	m.mu.Lock()
	if st, ok := m.streams[sessionID]; ok {
		st.BytesStreamed += int64(n)
	}
	m.mu.Unlock()
}

// HasActiveStream reports whether the session has a registered stream.
func (m *Manager) HasActiveStream(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[sessionID]
	return ok
}

// EndStream removes the session's entry and returns its final snapshot for
// logging and metrics.
func (m *Manager) EndStream(sessionID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[sessionID]
	if !ok {
		return State{}, false
	}
	delete(m.streams, sessionID)
	return *st, true
}
