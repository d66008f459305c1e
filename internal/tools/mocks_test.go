package tools_test

import (
	"context"
	"encoding/json"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/tools"
)

type mockModelClient struct {
	prepareFn  func(conv *model.Conversation, registry model.ProviderRegistry) (provider.Request, error)
	completeFn func(ctx context.Context, req provider.Request) (*provider.Completion, json.RawMessage, error)
	lastReq    provider.Request
}

func (m *mockModelClient) Prepare(conv *model.Conversation, registry model.ProviderRegistry) (provider.Request, error) {
	if m.prepareFn != nil {
		return m.prepareFn(conv, registry)
	}
	return provider.Request{}, nil
}

func (m *mockModelClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, json.RawMessage, error) {
	m.lastReq = req
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return &provider.Completion{}, nil, nil
}

type mockEngine struct {
	runFn func(ctx context.Context, tool tools.Tool, args map[string]any) (*model.ToolOutput, error)
}

func (m *mockEngine) Run(ctx context.Context, tool tools.Tool, args map[string]any) (*model.ToolOutput, error) {
	if m.runFn != nil {
		return m.runFn(ctx, tool, args)
	}
	return &model.ToolOutput{}, nil
}
