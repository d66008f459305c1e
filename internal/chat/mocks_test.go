package chat_test

import (
	"context"
	"sync"

	"lumen.app/relay/internal/chat"
	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/tools"
)

type mockPublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, msg model.FinalizedMessage) error
	published []model.FinalizedMessage
}

func (m *mockPublisher) PublishMessage(ctx context.Context, msg model.FinalizedMessage) error {
	m.mu.Lock()
	m.published = append(m.published, msg)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, msg)
	}
	return nil
}

func (m *mockPublisher) messages() []model.FinalizedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FinalizedMessage(nil), m.published...)
}

type mockRetriever struct {
	retrieveFn func(ctx context.Context, query string, opts chat.RetrievalOptions) ([]model.Context, error)
	calls      int
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, opts chat.RetrievalOptions) ([]model.Context, error) {
	m.calls++
	if m.retrieveFn != nil {
		return m.retrieveFn(ctx, query, opts)
	}
	return nil, nil
}

type mockCatalog struct {
	toolsFn func(ctx context.Context) ([]tools.Tool, error)
}

func (m *mockCatalog) Tools(ctx context.Context) ([]tools.Tool, error) {
	if m.toolsFn != nil {
		return m.toolsFn(ctx)
	}
	return nil, nil
}

type mockToolRunner struct {
	selectAndRunFn func(ctx context.Context, msg *model.Message, available []tools.Tool, conv *model.Conversation, registry model.ProviderRegistry) error
	calls          int
}

func (m *mockToolRunner) SelectAndRun(ctx context.Context, msg *model.Message, available []tools.Tool, conv *model.Conversation, registry model.ProviderRegistry) error {
	m.calls++
	if m.selectAndRunFn != nil {
		return m.selectAndRunFn(ctx, msg, available, conv, registry)
	}
	return nil
}

type mockBroadcaster struct {
	broadcastFn func(ctx context.Context, turnID string) error
	turnIDs     []string
}

func (m *mockBroadcaster) BroadcastStop(ctx context.Context, turnID string) error {
	m.turnIDs = append(m.turnIDs, turnID)
	if m.broadcastFn != nil {
		return m.broadcastFn(ctx, turnID)
	}
	return nil
}
