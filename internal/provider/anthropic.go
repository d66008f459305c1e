package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"lumen.app/relay/internal/model"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 8192
	thinkingBudget          = 4096
)

type anthropicProvider struct{}

func newAnthropic() *anthropicProvider { return &anthropicProvider{} }

func (p *anthropicProvider) Name() model.ProviderName { return model.ProviderAnthropic }

func (p *anthropicProvider) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := p.buildBody(req)
	if err != nil {
		return nil, err
	}

	url := joinURL(orDefault(req.Target.Config.BaseURL, defaultAnthropicBaseURL), "/v1/messages")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.Target.Config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (p *anthropicProvider) buildBody(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	systemContent, messages := p.convertMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(WireModelID(req.Target.Model)),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(systemContent) > 0 {
		params.System = systemContent
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	// Extended thinking rejects a temperature and needs headroom above the budget.
	if IsReasoning(req.Target.Model) {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget)
		if params.MaxTokens <= thinkingBudget {
			params.MaxTokens = thinkingBudget + defaultMaxTokens
		}
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding anthropic request: %w", err)
	}
	if req.Stream {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, fmt.Errorf("encoding anthropic request: %w", err)
		}
	}
	return body, nil
}

// convertMessages extracts system content and converts messages to Anthropic format.
// Anthropic takes the system prompt out of band.
func (p *anthropicProvider) convertMessages(msgs []WireMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	system, rest := splitSystem(msgs)

	var systemContent []anthropic.TextBlockParam
	if system != "" {
		systemContent = append(systemContent, anthropic.TextBlockParam{Text: system})
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, msg := range rest {
		switch msg.Role {
		case model.RoleUser:
			content := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Text)}
			for _, u := range msg.ImageURLs {
				content = append(content, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: u}))
			}
			messages = append(messages, anthropic.NewUserMessage(content...))

		case model.RoleAssistant:
			if msg.Text == "" {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return systemContent, messages
}

func (p *anthropicProvider) convertTools(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		var inputSchema anthropic.ToolInputSchemaParam
		if t.Parameters != nil {
			data, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("encoding parameters of tool %s: %w", t.Name, err)
			}
			if props := gjson.GetBytes(data, "properties"); props.Exists() {
				inputSchema.Properties = props.Value()
			}
			for _, r := range gjson.GetBytes(data, "required").Array() {
				inputSchema.Required = append(inputSchema.Required, r.String())
			}
		}

		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		}
	}

	return result, nil
}

func (p *anthropicProvider) DecodeFrame(event ssestream.Event) (Frame, error) {
	data := bytes.TrimSpace(event.Data)
	if len(data) == 0 {
		return Frame{}, nil
	}

	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(data, &ev); err != nil {
		return Frame{}, &model.ParseError{What: "anthropic stream frame", Err: err}
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			return Frame{Text: ev.Delta.Text}, nil
		}
	case "message_delta":
		if ev.Delta.StopReason != "" {
			return Frame{Done: true}, nil
		}
	case "message_stop":
		return Frame{Done: true}, nil
	case "error":
		return Frame{}, errorFromBody(model.ProviderAnthropic, http.StatusOK, data)
	}
	return Frame{}, nil
}

func (p *anthropicProvider) DecodeResponse(body []byte) (*Completion, error) {
	var resp anthropic.Message
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &model.ParseError{What: "anthropic response", Err: err}
	}

	result := &Completion{
		FinishReason:     mapStopReason(resp.StopReason),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return result, nil
}

func mapStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}
