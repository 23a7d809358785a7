package providers

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
)

// openAIStreamTranslator turns OpenAI chat completion chunks into the
// Anthropic streaming event sequence.
type openAIStreamTranslator struct {
	model     string
	messageID string

	messageStarted bool
	blockOpen      bool
	finished       bool
	stopped        bool
	outputTokens   int
}

func (t *openAIStreamTranslator) TransformStreamChunk(line string) []byte {
	if !strings.HasPrefix(line, sseDataPrefix) {
		return nil
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
	if data == sseDone {
		return t.done()
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil
	}

	if chunk.Usage != nil {
		t.outputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 || t.stopped {
		return nil
	}

	if t.messageID == "" && chunk.ID != "" {
		t.messageID = chunk.ID
	}

	if t.model == "" {
		t.model = chunk.Model
	}

	choice := chunk.Choices[0]

	var events []byte

	// Tool call deltas carry no text and are dropped.
	if choice.Delta.Content != "" && !t.finished {
		events = append(events, t.startMessage()...)
		events = append(events, t.startBlock()...)
		events = append(events, FormatSSEEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{
				"type": "text_delta",
				"text": choice.Delta.Content,
			},
		})...)
	}

	if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
		events = append(events, t.startMessage()...)
		events = append(events, t.finish(ConvertStopReason(string(choice.FinishReason)))...)
	}

	return events
}

// Finish closes a stream whose upstream ended without [DONE].
func (t *openAIStreamTranslator) Finish() []byte {
	if !t.messageStarted || t.stopped {
		return nil
	}

	return t.done()
}

func (t *openAIStreamTranslator) startMessage() []byte {
	if t.messageStarted {
		return nil
	}

	if t.messageID == "" {
		t.messageID = NewMessageID()
	}
	t.messageStarted = true

	return FormatSSEEvent("message_start", CreateMessageStartEvent(t.messageID, t.model, nil))
}

func (t *openAIStreamTranslator) startBlock() []byte {
	if t.blockOpen {
		return nil
	}
	t.blockOpen = true

	return FormatSSEEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": 0,
		"content_block": map[string]any{
			"type": ContentTypeText,
			"text": "",
		},
	})
}

func (t *openAIStreamTranslator) finish(stopReason string) []byte {
	var events []byte

	if t.blockOpen {
		events = append(events, FormatSSEEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		})...)
		t.blockOpen = false
	}

	if t.messageStarted && !t.finished {
		events = append(events, FormatSSEEvent("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			"usage": map[string]any{
				"output_tokens": t.outputTokens,
			},
		})...)
		t.finished = true
	}

	return events
}

func (t *openAIStreamTranslator) done() []byte {
	if t.stopped {
		return nil
	}

	events := t.finish(StopReasonEndTurn)
	events = append(events, FormatSSEEvent("message_stop", map[string]any{"type": "message_stop"})...)
	t.stopped = true

	return events
}
