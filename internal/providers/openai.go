package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

// OpenAIAdapter speaks the OpenAI chat completions dialect.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{}
}

func (a *OpenAIAdapter) Kind() upstream.AdapterKind {
	return upstream.AdapterOpenAI
}

func (a *OpenAIAdapter) Endpoint(provider *upstream.ResolvedProvider) string {
	base := strings.TrimSuffix(provider.BaseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}

	return base + "/chat/completions"
}

func (a *OpenAIAdapter) Headers(provider *upstream.ResolvedProvider, _ http.Header) http.Header {
	h := make(http.Header)
	setProviderHeaders(h, provider)

	return h
}

// samplingParam keeps an explicit zero on the wire. go-openai omits zero
// floats, which upstreams read as their own default.
func samplingParam(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func (a *OpenAIAdapter) TransformRequest(body []byte, targetModel string, _ *upstream.ResolvedProvider) ([]byte, error) {
	var request MessagesRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Anthropic request: %w", err)
	}

	out := openai.ChatCompletionRequest{
		Model:     targetModel,
		MaxTokens: request.MaxTokens,
		Stream:    request.Stream,
		Stop:      request.StopSequences,
	}

	if request.Temperature != nil {
		out.Temperature = samplingParam(*request.Temperature)
	}

	if request.TopP != nil {
		out.TopP = samplingParam(*request.TopP)
	}

	system, err := request.SystemText()
	if err != nil {
		return nil, err
	}

	if system != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for i, msg := range request.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, converted)
	}

	return json.Marshal(out)
}

// convertMessage flattens Anthropic content blocks into the OpenAI content
// part union. A message made only of text becomes a plain string.
func convertMessage(msg MessageParam) (openai.ChatCompletionMessage, error) {
	blocks, err := ParseContent(msg.Content)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}

	var (
		parts    []openai.ChatMessagePart
		texts    []string
		hasImage bool
	)

	for _, b := range blocks {
		switch b.Type {
		case ContentTypeText:
			texts = append(texts, b.Text)
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.Text,
			})
		case "image":
			url := imageURL(b.Source)
			if url == "" {
				continue
			}
			hasImage = true
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	}

	if hasImage {
		return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}, nil
	}

	return openai.ChatCompletionMessage{Role: msg.Role, Content: strings.Join(texts, "\n")}, nil
}

func imageURL(src *ImageSource) string {
	if src == nil {
		return ""
	}

	switch src.Type {
	case "base64":
		if src.Data == "" {
			return ""
		}
		return fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
	case "url":
		return src.URL
	default:
		return ""
	}
}

func (a *OpenAIAdapter) TransformResponse(body []byte) ([]byte, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OpenAI response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	choice := resp.Choices[0]

	id := resp.ID
	if id == "" {
		id = NewMessageID()
	}

	// Tool calls and multi-part content come back as an empty text block.
	anthropicResp := AnthropicResponse{
		ID:         id,
		Type:       "message",
		Role:       RoleAssistant,
		Model:      resp.Model,
		Content:    []AnthropicContent{{Type: ContentTypeText, Text: choice.Message.Content}},
		StopReason: ConvertStopReason(string(choice.FinishReason)),
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	return json.Marshal(anthropicResp)
}

func (a *OpenAIAdapter) NewStreamTranslator(model string) StreamTranslator {
	return &openAIStreamTranslator{model: model}
}
