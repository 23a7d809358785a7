package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	Name string
	Data map[string]any
}

func parseSSE(t *testing.T, raw string) []sseEvent {
	t.Helper()

	var events []sseEvent
	for _, frame := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		if frame == "" {
			continue
		}

		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.Data))
			}
		}
		events = append(events, ev)
	}

	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func countEvents(events []sseEvent, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func TestStreamTranslator_DoneYieldsOneMessageStop(t *testing.T) {
	translator := NewOpenAIAdapter().NewStreamTranslator("m1")

	events := parseSSE(t, string(translator.TransformStreamChunk("data: [DONE]")))

	require.Len(t, events, 1)
	assert.Equal(t, "message_stop", events[0].Name)
	assert.Equal(t, "message_stop", events[0].Data["type"])

	assert.Nil(t, translator.TransformStreamChunk("data: [DONE]"))
	assert.Nil(t, translator.Finish())
}

func TestStreamTranslator_TextDelta(t *testing.T) {
	translator := NewOpenAIAdapter().NewStreamTranslator("m1")

	line := `data: {"id":"chatcmpl-1","model":"glm-4.6","choices":[{"index":0,"delta":{"content":"hi"}}]}`
	events := parseSSE(t, string(translator.TransformStreamChunk(line)))

	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, eventNames(events))
	require.Equal(t, 1, countEvents(events, "content_block_delta"))

	delta := events[2].Data["delta"].(map[string]any)
	assert.Equal(t, "text_delta", delta["type"])
	assert.Equal(t, "hi", delta["text"])

	message := events[0].Data["message"].(map[string]any)
	assert.Equal(t, "chatcmpl-1", message["id"])
	assert.Equal(t, "m1", message["model"])
}

func TestStreamTranslator_FullSequence(t *testing.T) {
	translator := NewOpenAIAdapter().NewStreamTranslator("m1")

	lines := []string{
		`: keep-alive`,
		`data: {"id":"c","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`data: {"id":"c","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"id":"c","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: {"id":"c","choices":[{"index":0,"delta":{},"finish_reason":"length"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		`data: [DONE]`,
	}

	var out strings.Builder
	for _, line := range lines {
		out.Write(translator.TransformStreamChunk(line))
	}
	out.Write(translator.Finish())

	events := parseSSE(t, out.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	messageDelta := events[5].Data
	assert.Equal(t, "max_tokens", messageDelta["delta"].(map[string]any)["stop_reason"])
	assert.Equal(t, float64(2), messageDelta["usage"].(map[string]any)["output_tokens"])
}

func TestStreamTranslator_FinishWithoutDone(t *testing.T) {
	translator := NewOpenAIAdapter().NewStreamTranslator("m1")

	translator.TransformStreamChunk(`data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}`)

	events := parseSSE(t, string(translator.Finish()))
	assert.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventNames(events))
	assert.Nil(t, translator.Finish())
}

func TestStreamTranslator_DropsUnusableLines(t *testing.T) {
	translator := NewOpenAIAdapter().NewStreamTranslator("m1")

	assert.Nil(t, translator.TransformStreamChunk("event: ping"))
	assert.Nil(t, translator.TransformStreamChunk("data: {broken"))
	assert.Nil(t, translator.TransformStreamChunk(`data: {"choices":[]}`))
	assert.Nil(t, translator.TransformStreamChunk(`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"ls"}}]}}]}`))
	assert.Nil(t, translator.Finish())
}

func TestStreamTranslators_AreIndependent(t *testing.T) {
	adapter := NewOpenAIAdapter()
	first := adapter.NewStreamTranslator("m1")
	second := adapter.NewStreamTranslator("m1")

	first.TransformStreamChunk(`data: {"choices":[{"index":0,"delta":{"content":"a"}}]}`)

	events := parseSSE(t, string(second.TransformStreamChunk(`data: {"choices":[{"index":0,"delta":{"content":"b"}}]}`)))
	assert.Equal(t, "message_start", events[0].Name)
}
