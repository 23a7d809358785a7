package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagesRequest is the subset of an Anthropic Messages request the
// translating adapters understand.
type MessagesRequest struct {
	Model         string           `json:"model"`
	Messages      []MessageParam   `json:"messages"`
	System        json.RawMessage  `json:"system,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
}

type MessageParam struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ParseContent accepts either a bare string or an array of content blocks.
func ParseContent(raw json.RawMessage) ([]ContentBlock, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("decode text content: %w", err)
		}
		return []ContentBlock{{Type: ContentTypeText, Text: text}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("decode content blocks: %w", err)
	}

	return blocks, nil
}

// SystemText flattens the system prompt into one string.
func (r *MessagesRequest) SystemText() (string, error) {
	blocks, err := ParseContent(r.System)
	if err != nil {
		return "", fmt.Errorf("system: %w", err)
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == ContentTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}

	return strings.Join(parts, "\n"), nil
}

// PromptText concatenates all text the caller sent, system prompt included.
func (r *MessagesRequest) PromptText() string {
	var sb strings.Builder

	if system, err := r.SystemText(); err == nil {
		sb.WriteString(system)
	}

	for _, msg := range r.Messages {
		blocks, err := ParseContent(msg.Content)
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == ContentTypeText {
				sb.WriteString("\n")
				sb.WriteString(b.Text)
			}
		}
	}

	return sb.String()
}
