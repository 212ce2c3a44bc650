package convo

import (
	"fmt"
	"strings"
	"time"
)

// Tool names surfaced to the LLM.
const (
	ToolCaptureLeadInfo  = "capture_lead_info"
	ToolScheduleCallback = "schedule_callback"
	ToolEndConversation  = "end_conversation"
)

// ApplyToolCall mutates session state from a structured tool invocation.
// Unknown or mis-typed fields are dropped individually so a malformed
// argument can never partially corrupt the lead record.
func (s *Session) ApplyToolCall(name string, args map[string]any) error {
	switch name {
	case ToolCaptureLeadInfo:
		s.captureLeadInfo(args)
		return nil
	case ToolScheduleCallback:
		s.scheduleCallback(args)
		return nil
	case ToolEndConversation:
		if reason, ok := asString(args["reason"]); ok && reason != "" {
			s.addNote("call ended: " + reason)
		}
		s.End()
		return nil
	default:
		return fmt.Errorf("unknown tool %q", name)
	}
}

func (s *Session) captureLeadInfo(args map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := asString(args["name"]); ok && v != "" {
		s.lead.Name = v
	}
	if v, ok := asString(args["email"]); ok && v != "" {
		s.lead.Email = v
	}
	if v, ok := asString(args["phone"]); ok && v != "" {
		s.lead.Phone = v
	}
	if v, ok := asString(args["property_type"]); ok && v != "" {
		s.lead.Preferences.PropertyType = strings.ToLower(v)
	}
	if v, ok := asString(args["location"]); ok && v != "" {
		s.lead.Preferences.Location = v
	}
	if v, ok := asInt(args["bedrooms"]); ok && v > 0 {
		s.lead.Preferences.Bedrooms = v
	}
	if v, ok := asStringSlice(args["features"]); ok && len(v) > 0 {
		s.lead.Preferences.Features = v
	}
	if v, ok := asString(args["budget"]); ok && v != "" {
		s.lead.Budget = v
	}
	if v, ok := asString(args["timeline"]); ok && v != "" {
		s.lead.Timeline = v
	}
	if v, ok := asString(args["note"]); ok && v != "" {
		s.lead.Notes = append(s.lead.Notes, v)
	}
	s.lead.QualificationScore = s.lead.Score()
	s.lead.UpdatedAt = time.Now()
}

func (s *Session) scheduleCallback(args map[string]any) {
	when, _ := asString(args["time"])
	phone, hasPhone := asString(args["phone"])

	s.mu.Lock()
	if hasPhone && phone != "" {
		s.lead.Phone = phone
	}
	note := "callback requested"
	if when != "" {
		note += " for " + when
	}
	s.lead.Notes = append(s.lead.Notes, note)
	s.lead.QualificationScore = s.lead.Score()
	s.lead.UpdatedAt = time.Now()
	s.stage = StageFollowUp
	s.mu.Unlock()
}

func (s *Session) addNote(note string) {
	s.mu.Lock()
	s.lead.Notes = append(s.lead.Notes, note)
	s.lead.UpdatedAt = time.Now()
	s.mu.Unlock()
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt accepts float64 (JSON numbers) and int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func asStringSlice(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}
