package chat

import (
	"context"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/tools"
)

// Sink receives the visible text of a streamed turn as it is produced. An error from
// Fragment means the reader is gone; the turn stops streaming but is still finalized.
type Sink interface {
	Fragment(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Fragment(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Publisher hands finalized assistant messages off for persistence.
type Publisher interface {
	PublishMessage(ctx context.Context, msg model.FinalizedMessage) error
}

// Retriever looks up course material for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts RetrievalOptions) ([]model.Context, error)
}

// ModelRouter sends a conversation to the provider that owns its model. Prepare resolves
// and validates without any network call.
type ModelRouter interface {
	Prepare(conv *model.Conversation, registry model.ProviderRegistry) (provider.Request, error)
	Route(ctx context.Context, conv *model.Conversation, registry model.ProviderRegistry, stream bool) (*provider.Result, error)
}

// ToolRunner selects and runs tools for the trailing user message.
type ToolRunner interface {
	SelectAndRun(ctx context.Context, msg *model.Message, available []tools.Tool, conv *model.Conversation, registry model.ProviderRegistry) error
}

// StopBroadcaster relays a stop signal to the other instances, one of which may own the turn.
type StopBroadcaster interface {
	BroadcastStop(ctx context.Context, turnID string) error
}
