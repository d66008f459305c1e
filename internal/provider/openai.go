package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"lumen.app/relay/internal/model"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// chatCompletions speaks the OpenAI chat-completions protocol. OpenAI, Azure, Ollama and
// vLLM differ only in where the request goes and how it is authenticated.
type chatCompletions struct {
	name     model.ProviderName
	endpoint func(req Request) (string, error)
	auth     func(h http.Header, cfg model.ProviderConfig)
}

func newOpenAI() *chatCompletions {
	return &chatCompletions{
		name: model.ProviderOpenAI,
		endpoint: func(req Request) (string, error) {
			return joinURL(orDefault(req.Target.Config.BaseURL, defaultOpenAIBaseURL), "/chat/completions"), nil
		},
		auth: func(h http.Header, cfg model.ProviderConfig) {
			h.Set("Authorization", "Bearer "+cfg.APIKey)
			if cfg.Organization != "" {
				h.Set("OpenAI-Organization", cfg.Organization)
			}
		},
	}
}

func newOllama() *chatCompletions {
	return &chatCompletions{
		name: model.ProviderOllama,
		endpoint: func(req Request) (string, error) {
			return joinURL(orDefault(req.Target.Config.BaseURL, defaultOllamaBaseURL), "/v1/chat/completions"), nil
		},
		auth: optionalBearer,
	}
}

func newVLLM() *chatCompletions {
	return &chatCompletions{
		name: model.ProviderVLLM,
		endpoint: func(req Request) (string, error) {
			if req.Target.Config.BaseURL == "" {
				return "", &model.ValidationError{Field: "vllm.base_url", Message: "self-hosted provider has no base URL configured"}
			}
			return joinURL(req.Target.Config.BaseURL, "/chat/completions"), nil
		},
		auth: optionalBearer,
	}
}

func optionalBearer(h http.Header, cfg model.ProviderConfig) {
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}

func (c *chatCompletions) Name() model.ProviderName { return c.name }

func (c *chatCompletions) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url, err := c.endpoint(req)
	if err != nil {
		return nil, err
	}
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	c.auth(httpReq.Header, req.Target.Config)
	return httpReq, nil
}

func (c *chatCompletions) buildBody(req Request) ([]byte, error) {
	reasoning := IsReasoning(req.Target.Model)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(WireModelID(req.Target.Model)),
		Messages: c.convertMessages(req.Messages, reasoning),
	}
	if reasoning {
		params.ReasoningEffort = shared.ReasoningEffort(reasoningEffort(req))
	} else {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools, err := c.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", c.name, err)
	}
	if req.Stream {
		if body, err = sjson.SetBytes(body, "stream", true); err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", c.name, err)
		}
	}
	return body, nil
}

func (c *chatCompletions) convertMessages(msgs []WireMessage, reasoning bool) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleSystem:
			if reasoning {
				result = append(result, openai.DeveloperMessage(msg.Text))
			} else {
				result = append(result, openai.SystemMessage(msg.Text))
			}

		case model.RoleUser:
			if len(msg.ImageURLs) == 0 {
				result = append(result, openai.UserMessage(msg.Text))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(msg.Text)}
			for _, u := range msg.ImageURLs {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: u}))
			}
			result = append(result, openai.UserMessage(parts))

		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Text))
		}
	}

	return result
}

func (c *chatCompletions) convertTools(tools []Tool) ([]openai.ChatCompletionToolParam, error) {
	result := make([]openai.ChatCompletionToolParam, len(tools))

	for i, t := range tools {
		var params shared.FunctionParameters
		if t.Parameters != nil {
			data, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("encoding parameters of tool %s: %w", t.Name, err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("decoding parameters of tool %s: %w", t.Name, err)
			}
		}

		result[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		}
	}

	return result, nil
}

func (c *chatCompletions) DecodeFrame(event ssestream.Event) (Frame, error) {
	data := bytes.TrimSpace(event.Data)
	if len(data) == 0 {
		return Frame{}, nil
	}
	if bytes.Equal(data, []byte("[DONE]")) {
		return Frame{Done: true}, nil
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return Frame{}, errorFromBody(c.name, http.StatusOK, data)
	}

	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Frame{}, &model.ParseError{What: fmt.Sprintf("%s stream frame", c.name), Err: err}
	}
	if len(chunk.Choices) == 0 {
		return Frame{}, nil
	}

	choice := chunk.Choices[0]
	return Frame{Text: choice.Delta.Content, Done: choice.FinishReason != ""}, nil
}

func (c *chatCompletions) DecodeResponse(body []byte) (*Completion, error) {
	var resp openai.ChatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &model.ParseError{What: fmt.Sprintf("%s response", c.name), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &model.ParseError{What: fmt.Sprintf("%s response", c.name), Err: errors.New("no choices in response")}
	}

	choice := resp.Choices[0]
	result := &Completion{
		Content:          choice.Message.Content,
		FinishReason:     choice.FinishReason,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
