package citation

import (
	"context"
	"fmt"

	"lumen.app/relay/internal/model"
)

// Turn carries everything citation rewriting needs for one assistant turn: parser state,
// the turn's link cache and the contexts citations point into. Create one per turn and
// discard it when the turn ends; it must not be shared between turns.
type Turn struct {
	resolver    *Resolver
	contexts    []model.Context
	projectName string
	cache       *LinkCache
	state       ParserState
}

func NewTurn(resolver *Resolver, contexts []model.Context, projectName string) *Turn {
	return &Turn{
		resolver:    resolver,
		contexts:    contexts,
		projectName: projectName,
		cache:       NewLinkCache(),
	}
}

// Process rewrites one streamed chunk.
func (t *Turn) Process(ctx context.Context, chunk string) string {
	return ProcessChunk(ctx, chunk, &t.state, t)
}

// Flush returns any text still held back at the end of the stream.
func (t *Turn) Flush() string {
	return Flush(&t.state)
}

// State exposes the parser state, mainly for diagnostics.
func (t *Turn) State() ParserState {
	return t.state
}

// Cache returns the turn's link cache.
func (t *Turn) Cache() *LinkCache {
	return t.cache
}

// Rewrite processes a complete text in one shot. Used for non-streamed responses.
func (t *Turn) Rewrite(ctx context.Context, text string) string {
	return t.Process(ctx, text) + t.Flush()
}

func (t *Turn) ResolveCitation(ctx context.Context, markup string) string {
	cite, ok := ParseCite(markup)
	if !ok {
		return markup
	}
	out, ok := t.resolver.Resolve(ctx, cite.Indices, cite.Page, t.contexts, t.cache, t.projectName)
	if !ok {
		return markup
	}
	return out
}

func (t *Turn) ResolveFilenameLink(ctx context.Context, markup string) string {
	link, ok := ParseFilenameLink(markup)
	if !ok {
		return markup
	}
	out, ok := t.resolver.Resolve(ctx, []int{link.Index}, link.Page, t.contexts, t.cache, t.projectName)
	if !ok {
		return markup
	}
	return fmt.Sprintf("%d. %s", link.Index, out)
}
