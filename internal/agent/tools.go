package agent

import (
	"encoding/json"

	"github.com/leadline-ai/leadline/internal/convo"
	"github.com/leadline-ai/leadline/internal/llm"
)

// toolDefs declares the structured tools surfaced to the model. Argument
// handling is lenient on the receiving side (convo.ApplyToolCall), so the
// schemas stay permissive.
func toolDefs() []llm.Tool {
	return []llm.Tool{
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        convo.ToolCaptureLeadInfo,
				Description: "Record contact details or property preferences the caller just shared. Call with only the fields actually mentioned.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"email": {"type": "string"},
						"phone": {"type": "string"},
						"property_type": {"type": "string", "description": "e.g. house, condo, apartment"},
						"location": {"type": "string"},
						"bedrooms": {"type": "integer"},
						"features": {"type": "array", "items": {"type": "string"}},
						"budget": {"type": "string"},
						"timeline": {"type": "string"},
						"note": {"type": "string"}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        convo.ToolScheduleCallback,
				Description: "Schedule a callback when the caller asks to be contacted later.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"time": {"type": "string", "description": "when to call back, as the caller phrased it"},
						"phone": {"type": "string"}
					},
					"required": ["time"]
				}`),
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        convo.ToolEndConversation,
				Description: "End the call when the caller is finished or asks to stop.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"reason": {"type": "string"}
					}
				}`),
			},
		},
	}
}
