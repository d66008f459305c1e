// Package provider routes a conversation to the model backend that owns the selected model
// and normalizes every backend's wire protocol into one streaming and one JSON contract.
package provider

import (
	"context"
	"net/http"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/packages/ssestream"

	"lumen.app/relay/internal/model"
)

// Provider is one backend wire protocol. Implementations are stateless and safe for
// concurrent use; everything per-request travels in Request.
type Provider interface {
	Name() model.ProviderName
	// BuildRequest renders the provider-specific HTTP request: URL, headers and body.
	BuildRequest(ctx context.Context, req Request) (*http.Request, error)
	// DecodeFrame turns one server-sent event into a token delta.
	DecodeFrame(event ssestream.Event) (Frame, error)
	// DecodeResponse normalizes a non-streamed response body.
	DecodeResponse(body []byte) (*Completion, error)
}

// Target is the provider and model a request was resolved to.
type Target struct {
	Provider model.ProviderName
	Config   model.ProviderConfig
	Model    model.ModelConfig
}

// Request is a provider-neutral chat request.
type Request struct {
	Target      Target
	Messages    []WireMessage
	Temperature float64
	Stream      bool
	MaxTokens   int
	Tools       []Tool
	// ReasoningEffort applies to reasoning models only.
	ReasoningEffort string
}

// WireMessage is a message stripped of bookkeeping, ready to be rendered for a provider.
type WireMessage struct {
	Role      model.Role
	Text      string
	ImageURLs []string
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ToolCall is a tool invocation requested by the model. Arguments is raw JSON as produced
// by the model and may be malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Completion is a normalized non-streamed response.
type Completion struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Frame is one decoded stream event. Empty, not-done frames carry no text and are skipped.
type Frame struct {
	Text string
	Done bool
}

// HasImages reports whether any message carries image content.
func (r Request) HasImages() bool {
	for _, m := range r.Messages {
		if len(m.ImageURLs) > 0 {
			return true
		}
	}
	return false
}
