package convo

import (
	"sync"
	"time"
)

// Message roles. The history is an ordered, append-only list owned by the
// session.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PropertyPreferences captures what the caller is looking for.
type PropertyPreferences struct {
	PropertyType string   `json:"property_type,omitempty"`
	Location     string   `json:"location,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// LeadInfo is the structured record gathered about the caller. It is
// mutated only through tool-call handling; QualificationScore is always
// recomputed from the weighted-presence formula, never hand-set.
type LeadInfo struct {
	Name               string              `json:"name,omitempty"`
	Email              string              `json:"email,omitempty"`
	Phone              string              `json:"phone,omitempty"`
	Preferences        PropertyPreferences `json:"preferences"`
	Budget             string              `json:"budget,omitempty"`
	Timeline           string              `json:"timeline,omitempty"`
	Notes              []string            `json:"notes,omitempty"`
	QualificationScore int                 `json:"qualification_score"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Field weights for the qualification score. Presence only; sums to 100.
const (
	weightName         = 10
	weightPhone        = 15
	weightEmail        = 15
	weightBudget       = 20
	weightTimeline     = 15
	weightPropertyType = 15
	weightLocation     = 10
)

// Score recomputes the weighted-presence qualification score.
func (l *LeadInfo) Score() int {
	score := 0
	if l.Name != "" {
		score += weightName
	}
	if l.Phone != "" {
		score += weightPhone
	}
	if l.Email != "" {
		score += weightEmail
	}
	if l.Budget != "" {
		score += weightBudget
	}
	if l.Timeline != "" {
		score += weightTimeline
	}
	if l.Preferences.PropertyType != "" {
		score += weightPropertyType
	}
	if l.Preferences.Location != "" {
		score += weightLocation
	}
	return score
}

// Session is the aggregate root for one call: lead data, message history
// and the stage machine. Persistence at session end belongs to the caller.
type Session struct {
	mu        sync.Mutex
	id        string
	lead      LeadInfo
	history   []Message
	stage     Stage
	callCount int
	active    bool
}

// NewSession creates session state for a fresh call (call count 1).
func NewSession(id string) *Session {
	return &Session{
		id:        id,
		stage:     StageGreeting,
		callCount: 1,
		active:    true,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Reconnect increments the call counter for a returning caller and marks
// the session active again.
func (s *Session) Reconnect() {
	s.mu.Lock()
	s.callCount++
	s.active = true
	s.mu.Unlock()
}

// Append adds a message to the history.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, Message{Role: role, Content: content, Timestamp: time.Now()})
	s.mu.Unlock()
}

// History returns a copy of the message list.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Stage returns the current conversation stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Lead returns a copy of the current lead record.
func (s *Session) Lead() LeadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lead
}

// Active reports whether the conversation is still in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// End marks the session inactive and moves it to the closing stage.
func (s *Session) End() {
	s.mu.Lock()
	s.active = false
	s.stage = StageClosing
	s.mu.Unlock()
}

// Snapshot is the externally visible session state, exposed through the
// OnStateUpdate sink and archived at session end.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Lead      LeadInfo  `json:"lead"`
	History   []Message `json:"history"`
	Stage     Stage     `json:"stage"`
	CallCount int       `json:"call_count"`
	Active    bool      `json:"active"`
}

// Snapshot returns a copy of the full session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]Message, len(s.history))
	copy(hist, s.history)
	return Snapshot{
		SessionID: s.id,
		Lead:      s.lead,
		History:   hist,
		Stage:     s.stage,
		CallCount: s.callCount,
		Active:    s.active,
	}
}
