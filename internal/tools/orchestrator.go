package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
)

const (
	DefaultInteractiveTimeout = 15 * time.Second
	DefaultWorkflowTimeout    = 5 * time.Minute
	defaultMaxParallel        = 8
)

// ModelClient is the slice of the router the orchestrator needs. *provider.Router
// satisfies it.
type ModelClient interface {
	Prepare(conv *model.Conversation, registry model.ProviderRegistry) (provider.Request, error)
	Complete(ctx context.Context, req provider.Request) (*provider.Completion, json.RawMessage, error)
}

type Config struct {
	InteractiveTimeout time.Duration
	WorkflowTimeout    time.Duration
	MaxParallel        int
}

type Orchestrator struct {
	client ModelClient
	engine WorkflowEngine
	cfg    Config
}

func NewOrchestrator(client ModelClient, engine WorkflowEngine, cfg Config) *Orchestrator {
	if cfg.InteractiveTimeout <= 0 {
		cfg.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if cfg.WorkflowTimeout <= 0 {
		cfg.WorkflowTimeout = DefaultWorkflowTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	return &Orchestrator{client: client, engine: engine, cfg: cfg}
}

type pendingCall struct {
	tool       Tool
	invocation model.ToolInvocation
}

// SelectAndRun asks the model which tools to call for msg, runs them concurrently and
// records each invocation on msg.Tools.
//
// Only the selection call can fail the operation. Tools whose arguments cannot be
// repaired are skipped; execution failures and timeouts are recorded on the invocation.
func (o *Orchestrator) SelectAndRun(ctx context.Context, msg *model.Message, available []Tool, conv *model.Conversation, registry model.ProviderRegistry) error {
	if len(available) == 0 {
		return nil
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.tools.orchestrator"})

	calls, err := o.selectTools(ctx, available, conv, registry)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		slog.DebugContext(ctx, "model selected no tools")
		return nil
	}

	results := o.execute(ctx, calls)
	msg.Tools = append(msg.Tools, results...)
	return nil
}

func (o *Orchestrator) selectTools(ctx context.Context, available []Tool, conv *model.Conversation, registry model.ProviderRegistry) ([]pendingCall, error) {
	req, err := o.client.Prepare(conv, registry)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Tool, len(available))
	req.Tools = make([]provider.Tool, 0, len(available))
	for _, t := range available {
		byName[t.Name] = t
		req.Tools = append(req.Tools, t.definition())
	}

	start := time.Now()
	completion, _, err := o.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("selecting tools: %w", err)
	}

	slog.InfoContext(ctx, "tool selection completed",
		"available", len(available),
		"selected", len(completion.ToolCalls),
		"duration_ms", time.Since(start).Milliseconds())

	var calls []pendingCall
	for _, tc := range completion.ToolCalls {
		tool, ok := byName[tc.Name]
		if !ok {
			slog.WarnContext(ctx, "model selected unknown tool", "tool", tc.Name)
			continue
		}

		args, err := ParseArguments(tc.Arguments)
		if err != nil {
			slog.WarnContext(ctx, "skipping tool with malformed arguments",
				"tool", tc.Name,
				"arguments", logger.Truncate(tc.Arguments, 200),
				"error", err)
			continue
		}

		invocationID := tc.ID
		if invocationID == "" {
			invocationID = uuid.NewString()
		}
		calls = append(calls, pendingCall{
			tool: tool,
			invocation: model.ToolInvocation{
				ToolID:       tool.ID,
				InvocationID: invocationID,
				Name:         tool.Name,
				ReadableName: tool.ReadableName,
				Arguments:    args,
			},
		})
	}
	return calls, nil
}

// execute runs every call and waits for all of them. Results keep selection order.
func (o *Orchestrator) execute(ctx context.Context, calls []pendingCall) []model.ToolInvocation {
	results := make([]model.ToolInvocation, len(calls))
	var wg sync.WaitGroup

	sem := make(chan struct{}, o.cfg.MaxParallel)

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call pendingCall) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = o.run(ctx, call)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (o *Orchestrator) run(ctx context.Context, call pendingCall) model.ToolInvocation {
	inv := call.invocation
	ctx = logger.WithLogFields(ctx, logger.LogFields{ToolName: logger.Ptr(call.tool.Name)})

	timeout := o.timeoutFor(call.tool)
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := o.engine.Run(toolCtx, call.tool, inv.Arguments)
	switch {
	case err == nil && output == nil:
		inv.Output = &model.ToolOutput{}
	case err == nil:
		inv.Output = output
	case ctx.Err() != nil:
		inv.Error = fmt.Sprintf("%s timed out: the request was stopped", displayName(call.tool))
	case errors.Is(toolCtx.Err(), context.DeadlineExceeded):
		inv.Error = fmt.Sprintf("%s timed out after %s", displayName(call.tool), timeout)
	default:
		inv.Error = fmt.Sprintf("%s failed: %v", displayName(call.tool), err)
	}

	if inv.Error != "" {
		slog.WarnContext(ctx, "tool execution failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		slog.DebugContext(ctx, "tool execution completed",
			"duration_ms", time.Since(start).Milliseconds())
	}
	return inv
}

func (o *Orchestrator) timeoutFor(t Tool) time.Duration {
	if t.Kind == KindInteractive {
		return o.cfg.InteractiveTimeout
	}
	return o.cfg.WorkflowTimeout
}

func displayName(t Tool) string {
	if t.ReadableName != "" {
		return t.ReadableName
	}
	return t.Name
}
