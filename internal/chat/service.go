package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lumen.app/relay/common/logger"
	"lumen.app/relay/internal/citation"
	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/tools"
)

// TurnResult is the outcome of a turn. For streamed turns Err carries a failure that
// happened after streaming began; the partial message is finalized regardless.
type TurnResult struct {
	Message  model.Message
	Contexts []model.Context
	Provider model.ProviderName
	Stopped  bool
	Err      error
}

// ModelList is the public view of the provider registry.
type ModelList struct {
	Providers    []provider.ProviderModels `json:"providers"`
	DefaultModel *model.ModelConfig        `json:"default_model,omitempty"`
}

// Deps wires a Service. Retriever, Catalog, Tools, Publisher and Broadcaster are optional.
type Deps struct {
	Router      ModelRouter
	Registry    model.ProviderRegistry
	Presigner   citation.Presigner
	Retriever   Retriever
	Catalog     tools.Catalog
	Tools       ToolRunner
	Publisher   Publisher
	Stops       *StopRegistry
	Broadcaster StopBroadcaster
}

// Service runs assistant turns: retrieval and tools first, then the model, with every
// streamed token passed through citation rewriting before it reaches the sink.
type Service struct {
	router      ModelRouter
	registry    model.ProviderRegistry
	resolver    *citation.Resolver
	retriever   Retriever
	catalog     tools.Catalog
	tools       ToolRunner
	publisher   Publisher
	stops       *StopRegistry
	broadcaster StopBroadcaster
}

func NewService(d Deps) *Service {
	stops := d.Stops
	if stops == nil {
		stops = NewStopRegistry()
	}
	return &Service{
		router:      d.Router,
		registry:    d.Registry,
		resolver:    citation.NewResolver(d.Presigner),
		retriever:   d.Retriever,
		catalog:     d.Catalog,
		tools:       d.Tools,
		publisher:   d.Publisher,
		stops:       stops,
		broadcaster: d.Broadcaster,
	}
}

// Run executes one turn. Errors returned directly happen before any output was produced
// and nothing is persisted for them.
func (s *Service) Run(ctx context.Context, req *TurnRequest, sink Sink) (*TurnResult, error) {
	if err := validateTurnRequest(req); err != nil {
		return nil, err
	}
	conv := req.Conversation

	// Model and vision checks run before retrieval and tools reach the network.
	if _, err := s.router.Prepare(conv, s.registry); err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TurnID:         logger.Ptr(req.TurnID),
		ConversationID: logger.Ptr(conv.ID),
		Model:          logger.Ptr(conv.Model.ID),
		Component:      "relay.chat",
	})
	sc := logger.StartSpan(ctx, "chat.turn", trace.WithSpanKind(trace.SpanKindInternal))
	defer sc.End()
	ctx = sc.Context()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.stops.Register(req.TurnID, cancel)
	defer s.stops.Remove(req.TurnID)

	start := time.Now()
	userMsg := conv.LastUserMessage()

	s.retrieve(ctx, req, userMsg)
	s.runTools(ctx, req, userMsg)
	applyPrompt(userMsg)

	res, err := s.router.Route(ctx, conv, s.registry, req.Stream)
	if err != nil {
		sc.RecordError(err)
		slog.WarnContext(ctx, "turn failed before output", "error", err)
		return nil, err
	}

	turn := citation.NewTurn(s.resolver, userMsg.Contexts, conv.ProjectName)

	var (
		text      string
		streamErr error
	)
	if req.Stream {
		text, streamErr = s.pump(ctx, res.Stream, turn, sink)
	} else {
		text = turn.Rewrite(ctx, res.Completion.Content)
	}

	stopped := errors.Is(context.Cause(ctx), ErrTurnStopped)
	if stopped {
		// A stop surfaces as an aborted read; it is not a failure of the turn.
		streamErr = nil
	}

	result := &TurnResult{
		Message: model.Message{
			ID:      req.TurnID,
			Role:    model.RoleAssistant,
			Content: model.TextContent(text),
		},
		Contexts: userMsg.Contexts,
		Provider: res.Target.Provider,
		Stopped:  stopped,
		Err:      streamErr,
	}
	conv.SetAssistantMessage(result.Message)
	s.publish(ctx, req, result)

	if streamErr != nil {
		sc.RecordError(streamErr)
	}
	sc.SetAttributes(
		attribute.String("provider", string(res.Target.Provider)),
		attribute.Bool("stream", req.Stream),
		attribute.Bool("stopped", stopped),
		attribute.Int("contexts", len(userMsg.Contexts)),
		attribute.Int("tools", len(userMsg.Tools)),
		attribute.Int("citation_links", turn.Cache().Len()),
	)
	slog.InfoContext(ctx, "turn finished",
		"provider", res.Target.Provider,
		"stream", req.Stream,
		"stopped", stopped,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", streamErr)

	return result, nil
}

// pump drains the token stream through the citation parser into the sink and returns the
// visible text. Text already shown is kept even when the stream fails.
func (s *Service) pump(ctx context.Context, ts *provider.TokenStream, turn *citation.Turn, sink Sink) (string, error) {
	defer ts.Close()

	var (
		visible strings.Builder
		sinkErr error
	)
	emit := func(out string) {
		if out == "" {
			return
		}
		visible.WriteString(out)
		if sinkErr == nil && sink != nil {
			sinkErr = sink.Fragment(ctx, out)
		}
	}

	for ts.Next() {
		emit(turn.Process(ctx, ts.Text()))
		if sinkErr != nil {
			slog.InfoContext(ctx, "stream reader went away", "error", sinkErr)
			break
		}
	}
	emit(turn.Flush())

	if err := ts.Err(); err != nil {
		return visible.String(), err
	}
	if sinkErr != nil {
		return visible.String(), fmt.Errorf("writing fragment: %w", sinkErr)
	}
	return visible.String(), nil
}

func (s *Service) retrieve(ctx context.Context, req *TurnRequest, msg *model.Message) {
	if s.retriever == nil || req.Retrieval == nil || len(msg.Contexts) > 0 {
		return
	}
	query := msg.Content.PlainText()
	if strings.TrimSpace(query) == "" {
		return
	}

	contexts, err := s.retriever.Retrieve(ctx, query, *req.Retrieval)
	if err != nil {
		slog.WarnContext(ctx, "retrieval failed, answering without course material", "error", err)
		return
	}
	msg.Contexts = contexts
	slog.DebugContext(ctx, "contexts retrieved", "count", len(contexts))
}

func (s *Service) runTools(ctx context.Context, req *TurnRequest, msg *model.Message) {
	if !req.Tools || s.tools == nil || s.catalog == nil {
		return
	}

	available, err := s.catalog.Tools(ctx)
	if err != nil {
		slog.WarnContext(ctx, "tool catalog unavailable", "error", err)
		return
	}
	if err := s.tools.SelectAndRun(ctx, msg, available, req.Conversation, s.registry); err != nil {
		slog.WarnContext(ctx, "tool step failed, continuing without tools", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, req *TurnRequest, result *TurnResult) {
	if s.publisher == nil {
		return
	}
	conv := req.Conversation

	fm := model.FinalizedMessage{
		TurnID:         req.TurnID,
		ConversationID: conv.ID,
		ProjectName:    conv.ProjectName,
		ModelID:        conv.Model.ID,
		Provider:       string(result.Provider),
		Message:        result.Message,
		Stopped:        result.Stopped,
		CreatedAt:      time.Now().UTC(),
	}
	if result.Err != nil {
		fm.Error = result.Err.Error()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fm.TraceID = sc.TraceID().String()
	}

	// Stopped turns are persisted too, so the publish must outlive the turn's context.
	if err := s.publisher.PublishMessage(context.WithoutCancel(ctx), fm); err != nil {
		slog.ErrorContext(ctx, "failed to publish finalized message", "error", err)
	}
}

// Stop cancels a running turn. When the turn is not running here the stop is broadcast
// to the other instances; the result reports whether it was stopped locally.
func (s *Service) Stop(ctx context.Context, turnID string) (bool, error) {
	if s.stops.Stop(turnID) {
		slog.InfoContext(ctx, "turn stopped", "turn_id", turnID)
		return true, nil
	}
	if s.broadcaster == nil {
		return false, nil
	}
	if err := s.broadcaster.BroadcastStop(ctx, turnID); err != nil {
		return false, fmt.Errorf("broadcasting stop: %w", err)
	}
	return false, nil
}

// StopLocal cancels a turn running on this instance. Used by the stop subscriber.
func (s *Service) StopLocal(turnID string) bool {
	return s.stops.Stop(turnID)
}

// Models lists the enabled models and the default selection.
func (s *Service) Models() ModelList {
	list := ModelList{Providers: provider.Catalog(s.registry)}
	if _, m, ok := s.registry.DefaultModel(); ok {
		list.DefaultModel = &m
	}
	return list
}
