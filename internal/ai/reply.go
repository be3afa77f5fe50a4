package ai

import (
	"encoding/json"
	"strings"
)

// RelationshipDelta carries the per-turn affinity adjustments proposed by the
// model. Values outside the allowed per-turn range are clipped downstream.
type RelationshipDelta struct {
	General    float64 `json:"general"`
	Friendship float64 `json:"friendship"`
	Romance    float64 `json:"romance"`
	Trust      float64 `json:"trust"`
}

// MemoryItem is one fact the model proposes to remember.
type MemoryItem struct {
	Type       string `json:"type"`
	Category   string `json:"category"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

// Reply is the structured payload expected from the model.
type Reply struct {
	Text         string            `json:"text"`
	Emotion      string            `json:"emotion"`
	Relationship RelationshipDelta `json:"relationship_changes"`
	Memory       []MemoryItem      `json:"memory"`
}

// ParseReply extracts the structured payload from a raw completion. Models
// routinely wrap the JSON object in prose or markdown fences, so parsing
// works on the outermost brace-delimited slice. A completion with no usable
// JSON degrades to a plain-text reply rather than an error; mid-conversation
// the user should still get an answer. A parsed object keeps its text even
// when empty, so the caller can judge the reply too short.
func ParseReply(raw string) *Reply {
	clean := strings.TrimSpace(raw)

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		var reply Reply
		if err := json.Unmarshal([]byte(clean[start:end+1]), &reply); err == nil {
			reply.Text = strings.TrimSpace(reply.Text)
			if reply.Emotion == "" {
				reply.Emotion = "neutral"
			}
			return &reply
		}
	}

	return &Reply{Text: clean, Emotion: "neutral"}
}
