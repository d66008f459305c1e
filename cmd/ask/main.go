package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"lumen.app/relay/common/id"
	"lumen.app/relay/core/config"
	"lumen.app/relay/internal/chat"
	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/retrieval"
	"lumen.app/relay/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := id.Init(cfg.NodeID); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize id generator: %v\n", err)
		os.Exit(1)
	}

	registry, err := model.LoadRegistry(cfg.LLM.ProvidersFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load providers: %v\n", err)
		os.Exit(1)
	}

	modelID := os.Getenv("ASK_MODEL")
	if modelID == "" {
		_, def, ok := registry.DefaultModel()
		if !ok {
			fmt.Fprintln(os.Stderr, "No enabled model in the registry; set ASK_MODEL")
			os.Exit(1)
		}
		modelID = def.ID
	}

	deps := chat.Deps{
		Router: provider.NewRouter(provider.Options{
			ReasoningEffort: cfg.LLM.ReasoningEffort,
			MaxTokens:       cfg.LLM.MaxTokens,
		}),
		Registry: registry,
	}
	if cfg.Presign.Enabled() {
		deps.Presigner = storage.NewPresignClient(cfg.Presign.BaseURL, cfg.Presign.APIKey, cfg.Presign.Timeout)
	}

	// Retrieval is optional - only when a course is named
	course := os.Getenv("ASK_COURSE")
	if course != "" && cfg.Retrieval.Enabled() {
		deps.Retriever = retrieval.NewClient(cfg.Retrieval.BaseURL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
		fmt.Fprintf(os.Stderr, "Retrieval: enabled (course=%s)\n", course)
	}

	svc := chat.NewService(deps)

	// Ctrl-C stops the running turn; a second one outside a turn exits.
	var running atomic.Value
	running.Store("")
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT)
	go func() {
		for range interrupts {
			turnID, _ := running.Load().(string)
			if turnID == "" || !svc.StopLocal(turnID) {
				fmt.Fprintln(os.Stderr, "\nGoodbye!")
				os.Exit(0)
			}
		}
	}()

	conv := &model.Conversation{
		ID:    id.NewString(),
		Model: model.ModelRef{ID: modelID},
	}

	fmt.Fprintf(os.Stderr, "\nAsk CLI ready (model=%s)\n", modelID)
	fmt.Fprintln(os.Stderr, "Enter your question (or 'quit' to exit):")

	sink := chat.SinkFunc(func(_ context.Context, text string) error {
		fmt.Print(text)
		return nil
	})

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "quit" || query == "exit" || query == "q" {
			break
		}

		conv.Messages = append(conv.Messages, model.Message{Role: model.RoleUser, Content: model.TextContent(query)})

		req := &chat.TurnRequest{
			TurnID:       id.NewString(),
			Conversation: conv,
			Stream:       true,
		}
		if deps.Retriever != nil {
			req.Retrieval = &chat.RetrievalOptions{CourseName: course}
		}

		running.Store(req.TurnID)
		res, err := svc.Run(ctx, req, sink)
		running.Store("")
		fmt.Println()

		if err != nil {
			env, _ := model.Envelope(err)
			fmt.Fprintf(os.Stderr, "%s: %s\n", env.Title, env.Message)
			// Drop the unanswered question so the history stays well formed.
			conv.Messages = conv.Messages[:len(conv.Messages)-1]
			continue
		}
		if res.Err != nil {
			env, _ := model.Envelope(res.Err)
			fmt.Fprintf(os.Stderr, "%s: %s\n", env.Title, env.Message)
		}
		if res.Stopped {
			fmt.Fprintln(os.Stderr, "(stopped)")
		}
		for i, c := range res.Contexts {
			fmt.Fprintf(os.Stderr, "  [%d] %s\n", i+1, c.Title())
		}
		fmt.Println()
	}

	fmt.Fprintln(os.Stderr, "Goodbye!")
}
