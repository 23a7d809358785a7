package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	RoleAssistant   = "assistant"
	RoleUser        = "user"
	ContentTypeText = "text"
	ContentTypeJSON = "application/json"

	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"

	ContentTypeEventStream = "text/event-stream"
)

// IsStreamingContentType checks if the content type indicates streaming
func IsStreamingContentType(contentType string) bool {
	return strings.HasPrefix(contentType, ContentTypeEventStream) || strings.Contains(contentType, "stream")
}

// FormatSSEEvent formats data as a Server-Sent Event
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)))
}

// ConvertStopReason maps an OpenAI-style finish reason to an Anthropic stop reason.
func ConvertStopReason(reason string) string {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "length":
		return StopReasonMaxTokens
	case "tool_calls":
		return StopReasonToolUse
	default:
		return StopReasonEndTurn
	}
}

// NewMessageID returns an Anthropic-style message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateMessageStartEvent creates a standard Anthropic message_start event
func CreateMessageStartEvent(messageID, model string, usage *AnthropicUsage) map[string]any {
	if usage == nil {
		usage = &AnthropicUsage{InputTokens: 0, OutputTokens: 1}
	}

	return map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            messageID,
			"type":          "message",
			"role":          RoleAssistant,
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         usage,
		},
	}
}

// Anthropic response structures
type AnthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Model        string             `json:"model"`
	Content      []AnthropicContent `json:"content"`
	StopReason   string             `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        AnthropicUsage     `json:"usage"`
}

type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
