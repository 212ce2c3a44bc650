package convo

import (
	"fmt"
	"strings"
)

// Stage is the current phase of the scripted conversation flow.
type Stage string

const (
	StageGreeting           Stage = "greeting"
	StageIntroduction       Stage = "introduction"
	StageNeedsDiscovery     Stage = "needs_discovery"
	StageQualification      Stage = "qualification"
	StagePropertyDiscussion Stage = "property_discussion"
	StageNextSteps          Stage = "next_steps"
	StageClosing            Stage = "closing"
	StageFollowUp           Stage = "follow_up"
)

// Qualification thresholds driving stage advancement.
const (
	scoreForPropertyDiscussion = 50
	scoreForNextSteps          = 70
)

// stageTransitions is the declarative table of allowed next stages.
// Heuristics in nextStage gate the qualification path; elsewhere a single
// successor advances deterministically and ambiguous branches hold until an
// explicit business signal (tool call) resolves them.
var stageTransitions = map[Stage][]Stage{
	StageGreeting:           {StageIntroduction},
	StageIntroduction:       {StageNeedsDiscovery},
	StageNeedsDiscovery:     {StageQualification},
	StageQualification:      {StagePropertyDiscussion},
	StagePropertyDiscussion: {StageNextSteps},
	StageNextSteps:          {StageClosing, StageFollowUp},
	StageClosing:            {StageFollowUp},
	StageFollowUp:           {},
}

// nextStage computes the stage after a completed turn.
func nextStage(current Stage, lead LeadInfo) Stage {
	switch current {
	case StageNeedsDiscovery:
		if lead.Preferences.PropertyType != "" {
			return StageQualification
		}
		return current
	case StageQualification:
		if lead.QualificationScore >= scoreForPropertyDiscussion {
			return StagePropertyDiscussion
		}
		return current
	case StagePropertyDiscussion:
		if lead.QualificationScore >= scoreForNextSteps {
			return StageNextSteps
		}
		return current
	}
	if next := stageTransitions[current]; len(next) == 1 {
		return next[0]
	}
	return current
}

// AdvanceStage recomputes the stage from the current lead record and
// returns the (possibly unchanged) result.
func (s *Session) AdvanceStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = nextStage(s.stage, s.lead)
	return s.stage
}

// stageGuidance is the fixed per-stage instruction block interpolated into
// the system prompt.
var stageGuidance = map[Stage]string{
	StageGreeting:           "Greet the caller warmly and ask how you can help with their property search.",
	StageIntroduction:       "Briefly introduce yourself and the agency, then invite the caller to describe what they are looking for.",
	StageNeedsDiscovery:     "Ask open questions to learn what kind of property the caller wants: type, area, size. Capture every detail they share.",
	StageQualification:      "Work out budget, timeline and contact details conversationally. Do not interrogate; one question at a time.",
	StagePropertyDiscussion: "Discuss concrete properties matching the caller's preferences. Relate features back to what they said they need.",
	StageNextSteps:          "Propose a concrete next step such as a viewing or a callback with a shortlist. Confirm the best way to reach them.",
	StageClosing:            "Wrap up politely, confirm any scheduled follow-up and thank the caller.",
	StageFollowUp:           "This is a follow-up call. Reference the earlier conversation and pick up where it left off.",
}

// BuildSystemPrompt interpolates current stage, qualification score and
// known lead fields into the agent instructions for the next LLM turn.
func (s *Session) BuildSystemPrompt() string {
	s.mu.Lock()
	lead := s.lead
	stage := s.stage
	callCount := s.callCount
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("You are a friendly real-estate voice assistant on a live phone call. ")
	b.WriteString("Keep answers short and natural to speak aloud; never use lists or markdown. ")
	b.WriteString("Use the capture_lead_info tool whenever the caller shares contact details or preferences, ")
	b.WriteString("schedule_callback when they ask to be called back, and end_conversation when the call should finish.\n\n")

	fmt.Fprintf(&b, "Conversation stage: %s (call %d). %s\n", stage, callCount, stageGuidance[stage])
	fmt.Fprintf(&b, "Lead qualification score: %d/100.\n", lead.QualificationScore)

	var known []string
	if lead.Name != "" {
		known = append(known, "name: "+lead.Name)
	}
	if lead.Phone != "" {
		known = append(known, "phone: "+lead.Phone)
	}
	if lead.Email != "" {
		known = append(known, "email: "+lead.Email)
	}
	if lead.Preferences.PropertyType != "" {
		known = append(known, "property type: "+lead.Preferences.PropertyType)
	}
	if lead.Preferences.Location != "" {
		known = append(known, "location: "+lead.Preferences.Location)
	}
	if lead.Preferences.Bedrooms > 0 {
		known = append(known, fmt.Sprintf("bedrooms: %d", lead.Preferences.Bedrooms))
	}
	if lead.Budget != "" {
		known = append(known, "budget: "+lead.Budget)
	}
	if lead.Timeline != "" {
		known = append(known, "timeline: "+lead.Timeline)
	}
	if len(known) > 0 {
		b.WriteString("Known about the caller so far: ")
		b.WriteString(strings.Join(known, "; "))
		b.WriteString(".\nDo not ask again for anything already known.")
	} else {
		b.WriteString("Nothing is known about the caller yet.")
	}
	return b.String()
}
