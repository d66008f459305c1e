package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"lumen.app/relay/internal/model"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type geminiProvider struct{}

func newGemini() *geminiProvider { return &geminiProvider{} }

// geminiRequest is the REST body of generateContent. genai only exposes it through its
// client, so the wire shape is assembled here from genai's types.
type geminiRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
}

func (p *geminiProvider) Name() model.ProviderName { return model.ProviderGemini }

func (p *geminiProvider) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := json.Marshal(p.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("encoding gemini request: %w", err)
	}

	base := joinURL(orDefault(req.Target.Config.BaseURL, defaultGeminiBaseURL), "/v1beta/models/")
	target := base + url.PathEscape(WireModelID(req.Target.Model))
	if req.Stream {
		target += ":streamGenerateContent?alt=sse"
	} else {
		target += ":generateContent"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.Target.Config.APIKey)
	return httpReq, nil
}

func (p *geminiProvider) buildBody(req Request) geminiRequest {
	system, rest := splitSystem(req.Messages)

	body := geminiRequest{GenerationConfig: &genai.GenerationConfig{}}
	if system != "" {
		body.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	for _, msg := range rest {
		parts := []*genai.Part{genai.NewPartFromText(msg.Text)}
		for _, u := range msg.ImageURLs {
			parts = append(parts, genai.NewPartFromURI(u, imageMIMEType(u)))
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		body.Contents = append(body.Contents, genai.NewContentFromParts(parts, role))
	}

	if !IsReasoning(req.Target.Model) {
		body.GenerationConfig.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		body.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return body
}

func imageMIMEType(u string) string {
	if parsed, err := url.Parse(u); err == nil {
		if t := mime.TypeByExtension(path.Ext(parsed.Path)); strings.HasPrefix(t, "image/") {
			return t
		}
	}
	return "image/png"
}

func (p *geminiProvider) DecodeFrame(event ssestream.Event) (Frame, error) {
	data := bytes.TrimSpace(event.Data)
	if len(data) == 0 {
		return Frame{}, nil
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return Frame{}, errorFromBody(model.ProviderGemini, http.StatusOK, data)
	}

	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Frame{}, &model.ParseError{What: "gemini stream frame", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return Frame{}, nil
	}

	cand := resp.Candidates[0]
	text, _ := candidateParts(cand)
	return Frame{Text: text, Done: cand.FinishReason != ""}, nil
}

func (p *geminiProvider) DecodeResponse(body []byte) (*Completion, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &model.ParseError{What: "gemini response", Err: err}
	}

	result := &Completion{}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return result, nil
	}

	cand := resp.Candidates[0]
	result.Content, result.ToolCalls = candidateParts(cand)
	result.FinishReason = strings.ToLower(string(cand.FinishReason))
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

// candidateParts collects visible text and function calls. Thought parts are not part of
// the answer.
func candidateParts(cand *genai.Candidate) (string, []ToolCall) {
	if cand.Content == nil {
		return "", nil
	}

	var (
		text  strings.Builder
		calls []ToolCall
	)
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
		if fc := part.FunctionCall; fc != nil {
			args, _ := json.Marshal(fc.Args)
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(args)})
		}
	}
	return text.String(), calls
}
