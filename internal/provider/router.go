package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/model"
)

const maxResponseBody = 16 << 20

// Options configure a Router.
type Options struct {
	// HTTPClient must not set a Timeout: streamed responses outlive any fixed deadline and
	// are bounded by the request context instead.
	HTTPClient      *http.Client
	ReasoningEffort string
	MaxTokens       int
}

// Router dispatches conversations to the provider that owns the selected model.
type Router struct {
	client          *http.Client
	providers       map[model.ProviderName]Provider
	reasoningEffort string
	maxTokens       int
}

// Result is either a token stream or a complete response.
type Result struct {
	Target     Target
	Stream     *TokenStream
	Body       json.RawMessage
	Completion *Completion
}

func NewRouter(opts Options) *Router {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	r := &Router{
		client:          client,
		providers:       make(map[model.ProviderName]Provider),
		reasoningEffort: opts.ReasoningEffort,
		maxTokens:       opts.MaxTokens,
	}
	for _, p := range []Provider{newOpenAI(), newAzure(), newAnthropic(), newGemini(), newOllama(), newVLLM()} {
		r.providers[p.Name()] = p
	}
	return r
}

// Prepare resolves the conversation's model and renders the provider-neutral request.
// User image content on a model without vision support is rejected here, before any call.
func (r *Router) Prepare(conv *model.Conversation, registry model.ProviderRegistry) (Request, error) {
	target, err := Resolve(registry, conv.Model.ID)
	if err != nil {
		return Request{}, err
	}

	if hasUserImages(conv) && !target.Model.Vision {
		return Request{}, &model.ValidationError{
			Field:   "messages",
			Message: fmt.Sprintf("model %q does not accept image content", target.Model.ID),
		}
	}

	// Tool images are only sent to vision models; the prompt still mentions them.
	return Request{
		Target:          target,
		Messages:        BuildMessages(conv, target.Model.Vision),
		Temperature:     conv.Temperature,
		MaxTokens:       r.maxTokens,
		ReasoningEffort: r.reasoningEffort,
	}, nil
}

func hasUserImages(conv *model.Conversation) bool {
	for _, m := range conv.Messages {
		if m.Role != model.RoleSystem && m.Content.HasImages() {
			return true
		}
	}
	return false
}

// Route sends the conversation to its provider. With stream set the caller owns the
// returned TokenStream and must drain or Close it.
func (r *Router) Route(ctx context.Context, conv *model.Conversation, registry model.ProviderRegistry, stream bool) (*Result, error) {
	req, err := r.Prepare(conv, registry)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider: logger.Ptr(string(req.Target.Provider)),
		Model:    logger.Ptr(req.Target.Model.ID),
	})

	if stream {
		ts, err := r.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Target: req.Target, Stream: ts}, nil
	}

	completion, body, err := r.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Target: req.Target, Body: body, Completion: completion}, nil
}

// Stream opens a streamed completion.
func (r *Router) Stream(ctx context.Context, req Request) (*TokenStream, error) {
	req.Stream = true
	p, resp, err := r.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return newTokenStream(p, resp), nil
}

// Complete performs a non-streamed completion and returns the normalized result together
// with the raw provider body.
func (r *Router) Complete(ctx context.Context, req Request) (*Completion, json.RawMessage, error) {
	req.Stream = false
	p, resp, err := r.do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, model.NewTransportError("reading "+string(p.Name())+" response", err)
	}
	completion, err := p.DecodeResponse(body)
	if err != nil {
		return nil, nil, err
	}

	slog.DebugContext(ctx, "provider completion decoded",
		"prompt_tokens", completion.PromptTokens,
		"completion_tokens", completion.CompletionTokens,
		"finish_reason", completion.FinishReason,
		"tool_calls", len(completion.ToolCalls))

	return completion, body, nil
}

func (r *Router) do(ctx context.Context, req Request) (Provider, *http.Response, error) {
	p, ok := r.providers[req.Target.Provider]
	if !ok {
		return nil, nil, &model.ValidationError{
			Field:   "provider",
			Message: fmt.Sprintf("no implementation for provider %q", req.Target.Provider),
			Err:     model.ErrModelNotSupported,
		}
	}

	httpReq, err := p.BuildRequest(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, nil, model.NewTransportError("calling "+string(p.Name()), err)
	}

	slog.DebugContext(ctx, "provider responded",
		"status", resp.StatusCode,
		"stream", req.Stream,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		perr := decodeError(p.Name(), resp)
		slog.WarnContext(ctx, "provider returned error", "status", resp.StatusCode, "error", perr)
		return nil, nil, perr
	}
	return p, resp, nil
}

// IsRetryable reports whether err is a transient provider or network failure.
func IsRetryable(err error) bool {
	var perr *model.ProviderError
	if errors.As(err, &perr) {
		return perr.Status == http.StatusTooManyRequests || perr.Status >= 500
	}
	var terr *model.TransportError
	if errors.As(err, &terr) {
		return !terr.Aborted
	}
	return false
}
