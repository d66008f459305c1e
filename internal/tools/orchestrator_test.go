package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/tools"
)

func completionWith(calls ...provider.ToolCall) func(context.Context, provider.Request) (*provider.Completion, json.RawMessage, error) {
	return func(context.Context, provider.Request) (*provider.Completion, json.RawMessage, error) {
		return &provider.Completion{ToolCalls: calls, FinishReason: "tool_calls"}, nil, nil
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		client    *mockModelClient
		engine    *mockEngine
		orch      *tools.Orchestrator
		msg       *model.Message
		conv      *model.Conversation
		available []tools.Tool
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockModelClient{}
		engine = &mockEngine{}
		orch = tools.NewOrchestrator(client, engine, tools.Config{
			InteractiveTimeout: 50 * time.Millisecond,
			WorkflowTimeout:    time.Second,
		})
		msg = &model.Message{Role: model.RoleUser, Content: model.TextContent("plot my grades")}
		conv = &model.Conversation{Messages: []model.Message{*msg}, Model: model.ModelRef{ID: "gpt-4o"}}
		available = []tools.Tool{
			{ID: "wf-slow", Name: "slow_lookup", ReadableName: "Slow lookup", Kind: tools.KindInteractive},
			{ID: "wf-plot", Name: "plot", Kind: tools.KindWorkflow},
		}
	})

	Context("scenario: one tool times out and one succeeds", func() {
		It("records one output and one error without failing the call", func() {
			client.completeFn = completionWith(
				provider.ToolCall{ID: "call-1", Name: "slow_lookup", Arguments: `{"q":"x"}`},
				provider.ToolCall{ID: "call-2", Name: "plot", Arguments: `{"kind":"bar"}`},
			)
			engine.runFn = func(ctx context.Context, tool tools.Tool, _ map[string]any) (*model.ToolOutput, error) {
				if tool.Name == "slow_lookup" {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return &model.ToolOutput{Text: "plotted", ImageURLs: []string{"https://x/p.png"}}, nil
			}

			err := orch.SelectAndRun(ctx, msg, available, conv, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Tools).To(HaveLen(2))

			var outputs, failures int
			for _, t := range msg.Tools {
				Expect(t.Done()).To(BeTrue())
				if t.Output != nil {
					outputs++
					Expect(t.Error).To(BeEmpty())
				}
				if t.Error != "" {
					failures++
					Expect(t.Output).To(BeNil())
				}
			}
			Expect(outputs).To(Equal(1))
			Expect(failures).To(Equal(1))

			Expect(msg.Tools[0].InvocationID).To(Equal("call-1"))
			Expect(msg.Tools[0].Error).To(ContainSubstring("Slow lookup timed out after 50ms"))
			Expect(msg.Tools[1].Output.Text).To(Equal("plotted"))
			Expect(msg.Tools[1].Arguments).To(HaveKeyWithValue("kind", "bar"))
		})
	})

	It("runs selected tools concurrently", func() {
		client.completeFn = completionWith(
			provider.ToolCall{ID: "a", Name: "plot", Arguments: `{}`},
			provider.ToolCall{ID: "b", Name: "plot", Arguments: `{}`},
		)
		var running, peak atomic.Int32
		engine.runFn = func(ctx context.Context, _ tools.Tool, _ map[string]any) (*model.ToolOutput, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return &model.ToolOutput{Text: "ok"}, nil
		}

		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())
		Expect(peak.Load()).To(Equal(int32(2)))
	})

	It("offers every available tool to the model", func() {
		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())

		Expect(client.lastReq.Tools).To(HaveLen(2))
		Expect(client.lastReq.Tools[0].Name).To(Equal("slow_lookup"))
		Expect(client.lastReq.Tools[1].Parameters).NotTo(BeNil())
		Expect(msg.Tools).To(BeEmpty())
	})

	It("repairs arguments with a dropped brace", func() {
		client.completeFn = completionWith(provider.ToolCall{ID: "c", Name: "plot", Arguments: `"kind": "pie"}`})

		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())
		Expect(msg.Tools).To(HaveLen(1))
		Expect(msg.Tools[0].Arguments).To(HaveKeyWithValue("kind", "pie"))
	})

	It("skips tools whose arguments cannot be repaired and unknown tools", func() {
		client.completeFn = completionWith(
			provider.ToolCall{ID: "c", Name: "plot", Arguments: `{"kind": [}`},
			provider.ToolCall{ID: "d", Name: "rm_rf", Arguments: `{}`},
			provider.ToolCall{Name: "slow_lookup", Arguments: `{"q":"y"}`},
		)
		var runs atomic.Int32
		engine.runFn = func(context.Context, tools.Tool, map[string]any) (*model.ToolOutput, error) {
			runs.Add(1)
			return &model.ToolOutput{Text: "ok"}, nil
		}

		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())

		Expect(runs.Load()).To(Equal(int32(1)))
		Expect(msg.Tools).To(HaveLen(1))
		Expect(msg.Tools[0].Name).To(Equal("slow_lookup"))
		Expect(msg.Tools[0].InvocationID).NotTo(BeEmpty())
	})

	It("records execution errors on the invocation", func() {
		client.completeFn = completionWith(provider.ToolCall{ID: "e", Name: "plot", Arguments: `{}`})
		engine.runFn = func(context.Context, tools.Tool, map[string]any) (*model.ToolOutput, error) {
			return nil, errors.New("workflow returned 500: boom")
		}

		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())
		Expect(msg.Tools[0].Error).To(Equal("plot failed: workflow returned 500: boom"))
	})

	It("reframes a user stop as a timeout", func() {
		client.completeFn = completionWith(provider.ToolCall{ID: "f", Name: "plot", Arguments: `{}`})
		ctx, cancel := context.WithCancel(ctx)
		engine.runFn = func(ctx context.Context, _ tools.Tool, _ map[string]any) (*model.ToolOutput, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}

		Expect(orch.SelectAndRun(ctx, msg, available, conv, nil)).To(Succeed())
		Expect(msg.Tools[0].Error).To(Equal("plot timed out: the request was stopped"))
	})

	It("fails when tool selection fails", func() {
		client.completeFn = func(context.Context, provider.Request) (*provider.Completion, json.RawMessage, error) {
			return nil, nil, &model.ProviderError{Provider: model.ProviderOpenAI, Status: 500}
		}

		err := orch.SelectAndRun(ctx, msg, available, conv, nil)

		var perr *model.ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(msg.Tools).To(BeEmpty())
	})

	It("does nothing without available tools", func() {
		client.completeFn = func(context.Context, provider.Request) (*provider.Completion, json.RawMessage, error) {
			Fail("model should not be called")
			return nil, nil, nil
		}
		Expect(orch.SelectAndRun(ctx, msg, nil, conv, nil)).To(Succeed())
	})
})

var _ = Describe("ParseArguments", func() {
	DescribeTable("repairs common damage",
		func(raw string, expected map[string]any) {
			args, err := tools.ParseArguments(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(args).To(Equal(expected))
		},
		Entry("valid", `{"a": 1}`, map[string]any{"a": float64(1)}),
		Entry("missing leading brace", `"a": 1}`, map[string]any{"a": float64(1)}),
		Entry("missing trailing brace", `{"a": "b"`, map[string]any{"a": "b"}),
		Entry("trailing comma", `{"a": [1, 2,], "b": true,}`, map[string]any{"a": []any{float64(1), float64(2)}, "b": true}),
		Entry("code fence", "```json\n{\"a\": 1}\n```", map[string]any{"a": float64(1)}),
		Entry("empty", "  ", map[string]any{}),
	)

	DescribeTable("rejects what one repair cannot fix",
		func(raw string) {
			_, err := tools.ParseArguments(raw)
			var perr *model.ParseError
			Expect(errors.As(err, &perr)).To(BeTrue())
		},
		Entry("broken value", `{"a": [}`),
		Entry("array", `[1, 2]`),
		Entry("null", `null`),
		Entry("prose", `please run the tool`),
	)
})
