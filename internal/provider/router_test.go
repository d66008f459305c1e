package provider_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"

	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

// fakeBackend records the last request and replies with a canned response.
type fakeBackend struct {
	server  *httptest.Server
	last    atomic.Pointer[capturedRequest]
	calls   atomic.Int32
	replyFn func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.calls.Add(1)
		b.last.Store(&capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(body),
		})
		if b.replyFn != nil {
			b.replyFn(w, r)
		}
	}))
	return b
}

func sse(frames ...string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
		}
	}
}

func jsonReply(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func collect(ts *provider.TokenStream) ([]string, error) {
	var out []string
	for ts.Next() {
		out = append(out, ts.Text())
	}
	return out, ts.Err()
}

func conversation(modelID string) *model.Conversation {
	return &model.Conversation{
		ID:          "conv-1",
		Model:       model.ModelRef{ID: modelID},
		Temperature: 0.3,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: model.TextContent("be brief")},
			{Role: model.RoleUser, Content: model.TextContent("hello")},
		},
	}
}

var _ = Describe("Router", func() {
	var (
		ctx     context.Context
		backend *fakeBackend
		router  *provider.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = newFakeBackend()
		router = provider.NewRouter(provider.Options{})
	})

	AfterEach(func() {
		backend.server.Close()
	})

	Context("scenario: azure deployment routing", func() {
		var registry model.ProviderRegistry

		BeforeEach(func() {
			registry = model.ProviderRegistry{
				model.ProviderAzure: {
					Enabled:    true,
					APIKey:     "azure-key",
					BaseURL:    backend.server.URL + "/",
					APIVersion: "2024-02-01",
					Models:     []model.ModelConfig{{ID: "gpt-4o", Enabled: true, DeploymentID: "prod-4o"}},
				},
			}
			backend.replyFn = jsonReply(http.StatusOK,
				`{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
		})

		It("posts to the deployment URL with the api-key header", func() {
			res, err := router.Route(ctx, conversation("gpt-4o"), registry, false)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Target.Provider).To(Equal(model.ProviderAzure))
			Expect(res.Completion.Content).To(Equal("hi there"))
			Expect(res.Completion.PromptTokens).To(Equal(3))
			Expect(gjson.GetBytes(res.Body, "choices.0.message.content").String()).To(Equal("hi there"))

			req := backend.last.Load()
			Expect(req.method).To(Equal(http.MethodPost))
			Expect(req.path).To(Equal("/openai/deployments/prod-4o/chat/completions"))
			Expect(req.query).To(Equal("api-version=2024-02-01"))
			Expect(req.header.Get("api-key")).To(Equal("azure-key"))
			Expect(req.header.Get("Authorization")).To(BeEmpty())
			Expect(gjson.Get(req.body, "messages.0.role").String()).To(Equal("system"))
			Expect(gjson.Get(req.body, "messages.1.content").String()).To(Equal("hello"))
			Expect(gjson.Get(req.body, "temperature").Float()).To(Equal(0.3))
			Expect(gjson.Get(req.body, "stream").Exists()).To(BeFalse())
		})

		It("fails fast for a model no enabled provider serves", func() {
			_, err := router.Route(ctx, conversation("claude-3"), registry, true)

			Expect(errors.Is(err, model.ErrModelNotSupported)).To(BeTrue())
			envelope, status := model.Envelope(err)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(envelope.Title).To(Equal("Model not supported"))
			Expect(backend.calls.Load()).To(BeZero())
		})

		It("rejects a model entry without a deployment", func() {
			cfg := registry[model.ProviderAzure]
			cfg.Models = []model.ModelConfig{{ID: "gpt-4o", Enabled: true}}
			registry[model.ProviderAzure] = cfg

			_, err := router.Route(ctx, conversation("gpt-4o"), registry, false)

			var verr *model.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(backend.calls.Load()).To(BeZero())
		})
	})

	Context("openai-compatible streaming", func() {
		var registry model.ProviderRegistry

		BeforeEach(func() {
			registry = model.ProviderRegistry{
				model.ProviderOpenAI: {
					Enabled:      true,
					APIKey:       "sk-test",
					Organization: "org-1",
					BaseURL:      backend.server.URL + "/v1",
					Models: []model.ModelConfig{
						{ID: "gpt-4o", Enabled: true},
						{ID: "o3-mini", Enabled: true},
						{ID: "text-only", Enabled: true},
					},
				},
			}
		})

		It("yields deltas until the end sentinel", func() {
			backend.replyFn = sse(
				`data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
				`data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
				`: keep-alive`,
				`data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
				`data: [DONE]`,
			)

			res, err := router.Route(ctx, conversation("gpt-4o"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(Equal([]string{"Hel", "lo"}))
			Expect(res.Stream.Next()).To(BeFalse())

			req := backend.last.Load()
			Expect(req.path).To(Equal("/v1/chat/completions"))
			Expect(req.header.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(req.header.Get("OpenAI-Organization")).To(Equal("org-1"))
			Expect(gjson.Get(req.body, "stream").Bool()).To(BeTrue())
		})

		It("closes on a finish reason and ignores anything after it", func() {
			backend.replyFn = sse(
				`data: {"choices":[{"index":0,"delta":{"content":"done"},"finish_reason":"stop"}]}`,
				`data: {not json`,
			)

			res, err := router.Route(ctx, conversation("gpt-4o"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(Equal([]string{"done"}))
		})

		It("surfaces malformed frames as parse errors", func() {
			backend.replyFn = sse(
				`data: {"choices":[{"index":0,"delta":{"content":"a"},"finish_reason":null}]}`,
				`data: {not json`,
			)

			res, err := router.Route(ctx, conversation("gpt-4o"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(tokens).To(Equal([]string{"a"}))
			var perr *model.ParseError
			Expect(errors.As(err, &perr)).To(BeTrue())
		})

		It("ends cleanly on EOF without a sentinel", func() {
			backend.replyFn = sse(`data: {"choices":[{"index":0,"delta":{"content":"partial"},"finish_reason":null}]}`)

			res, err := router.Route(ctx, conversation("gpt-4o"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(Equal([]string{"partial"}))
		})

		It("shapes reasoning requests", func() {
			backend.replyFn = sse(`data: [DONE]`)

			res, err := router.Route(ctx, conversation("o3-mini"), registry, true)
			Expect(err).NotTo(HaveOccurred())
			_, _ = collect(res.Stream)

			body := backend.last.Load().body
			Expect(gjson.Get(body, "messages.0.role").String()).To(Equal("developer"))
			Expect(gjson.Get(body, "temperature").Exists()).To(BeFalse())
			Expect(gjson.Get(body, "reasoning_effort").String()).To(Equal("medium"))
		})

		It("rejects image content for models without vision", func() {
			conv := conversation("text-only")
			conv.Messages[1].Content = model.Content{Parts: []model.ContentPart{
				{Type: model.ContentText, Text: "look"},
				{Type: model.ContentImage, ImageURL: "https://x/a.png"},
			}}

			_, err := router.Route(ctx, conv, registry, true)

			var verr *model.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(backend.calls.Load()).To(BeZero())
		})

		It("drops tool images for models without vision instead of failing", func() {
			conv := conversation("text-only")
			conv.Messages[1].Tools = []model.ToolInvocation{
				{Name: "plot", Output: &model.ToolOutput{Text: "chart ready", ImageURLs: []string{"https://x/c.png"}}},
			}

			req, err := router.Prepare(conv, registry)

			Expect(err).NotTo(HaveOccurred())
			Expect(req.HasImages()).To(BeFalse())
		})

		It("sends tool images to vision models", func() {
			registry[model.ProviderOpenAI].Models[0].Vision = true
			conv := conversation("gpt-4o")
			conv.Messages[1].Tools = []model.ToolInvocation{
				{Name: "plot", Output: &model.ToolOutput{Text: "chart ready", ImageURLs: []string{"https://x/c.png"}}},
			}

			req, err := router.Prepare(conv, registry)

			Expect(err).NotTo(HaveOccurred())
			Expect(req.HasImages()).To(BeTrue())
		})

		It("reports a user abort as an aborted transport error", func() {
			backend.replyFn = func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}
			ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			_, err := router.Route(ctx, conversation("gpt-4o"), registry, true)

			var terr *model.TransportError
			Expect(errors.As(err, &terr)).To(BeTrue())
			Expect(terr.Aborted).To(BeTrue())
			_, status := model.Envelope(err)
			Expect(status).To(Equal(http.StatusRequestTimeout))
		})
	})

	Context("provider errors", func() {
		var registry model.ProviderRegistry

		BeforeEach(func() {
			registry = model.ProviderRegistry{
				model.ProviderOpenAI: {
					Enabled: true,
					BaseURL: backend.server.URL,
					Models:  []model.ModelConfig{{ID: "gpt-4o", Enabled: true}},
				},
			}
		})

		It("surfaces type, param and code from the error body", func() {
			backend.replyFn = jsonReply(http.StatusBadRequest,
				`{"error":{"message":"temperature out of range","type":"invalid_request_error","param":"temperature","code":"invalid_value"}}`)

			_, err := router.Route(ctx, conversation("gpt-4o"), registry, false)

			envelope, status := model.Envelope(err)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(envelope).To(Equal(model.ErrorEnvelope{
				Title:   "Error from openai",
				Message: "temperature out of range",
				Type:    "invalid_request_error",
				Param:   "temperature",
				Code:    "invalid_value",
			}))
			Expect(provider.IsRetryable(err)).To(BeFalse())
		})

		It("falls back to status and raw body when the error is not JSON", func() {
			backend.replyFn = jsonReply(http.StatusServiceUnavailable, "upstream down")

			_, err := router.Route(ctx, conversation("gpt-4o"), registry, true)

			var perr *model.ProviderError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Status).To(Equal(http.StatusServiceUnavailable))
			Expect(perr.Body).To(Equal("upstream down"))
			envelope, _ := model.Envelope(err)
			Expect(envelope.Message).To(ContainSubstring("503"))
			Expect(provider.IsRetryable(err)).To(BeTrue())
		})

		It("reads bare string errors from self-hosted backends", func() {
			registry = model.ProviderRegistry{
				model.ProviderOllama: {
					Enabled: true,
					BaseURL: backend.server.URL,
					Models:  []model.ModelConfig{{ID: "llama3", Enabled: true}},
				},
			}
			backend.replyFn = jsonReply(http.StatusNotFound, `{"error":"model \"llama3\" not found"}`)

			_, err := router.Route(ctx, conversation("llama3"), registry, false)

			var perr *model.ProviderError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Message).To(Equal(`model "llama3" not found`))
			Expect(backend.last.Load().path).To(Equal("/v1/chat/completions"))
			Expect(backend.last.Load().header.Get("Authorization")).To(BeEmpty())
		})
	})

	DescribeTable("refuses to send tools whose schema cannot be encoded",
		func(name model.ProviderName, modelID string) {
			registry := model.ProviderRegistry{
				name: {
					Enabled: true,
					APIKey:  "key",
					BaseURL: backend.server.URL,
					Models:  []model.ModelConfig{{ID: modelID, Enabled: true}},
				},
			}
			req, err := router.Prepare(conversation(modelID), registry)
			Expect(err).NotTo(HaveOccurred())
			req.Tools = []provider.Tool{{
				Name:       "plot",
				Parameters: &jsonschema.Schema{Type: "object", Default: make(chan int)},
			}}

			_, _, err = router.Complete(ctx, req)

			Expect(err).To(MatchError(ContainSubstring("parameters of tool plot")))
			Expect(backend.calls.Load()).To(BeZero())
		},
		Entry("openai", model.ProviderOpenAI, "gpt-4o"),
		Entry("anthropic", model.ProviderAnthropic, "claude-sonnet"),
	)

	Context("anthropic", func() {
		var registry model.ProviderRegistry

		BeforeEach(func() {
			registry = model.ProviderRegistry{
				model.ProviderAnthropic: {
					Enabled: true,
					APIKey:  "ak",
					BaseURL: backend.server.URL,
					Models: []model.ModelConfig{
						{ID: "claude-sonnet", Enabled: true},
						{ID: "claude-sonnet-thinking", Enabled: true},
					},
				},
			}
		})

		It("streams text deltas and stops on the stop reason", func() {
			backend.replyFn = sse(
				"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude-sonnet\",\"stop_reason\":null,\"usage\":{\"input_tokens\":1,\"output_tokens\":1}}}",
				"event: ping\ndata: {\"type\":\"ping\"}",
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}",
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}",
				"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}",
				"event: message_stop\ndata: {\"type\":\"message_stop\"}",
			)

			res, err := router.Route(ctx, conversation("claude-sonnet"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(Equal([]string{"Hi", " there"}))

			req := backend.last.Load()
			Expect(req.path).To(Equal("/v1/messages"))
			Expect(req.header.Get("x-api-key")).To(Equal("ak"))
			Expect(req.header.Get("anthropic-version")).To(Equal("2023-06-01"))
			Expect(gjson.Get(req.body, "system.0.text").String()).To(Equal("be brief"))
			Expect(gjson.Get(req.body, "messages.#").Int()).To(Equal(int64(1)))
			Expect(gjson.Get(req.body, "stream").Bool()).To(BeTrue())
		})

		It("enables extended thinking for thinking models", func() {
			backend.replyFn = jsonReply(http.StatusOK,
				`{"id":"m","type":"message","role":"assistant","model":"claude-sonnet","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":1}}`)

			res, err := router.Route(ctx, conversation("claude-sonnet-thinking"), registry, false)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Completion.Content).To(Equal("ok"))
			Expect(res.Completion.FinishReason).To(Equal("stop"))

			body := backend.last.Load().body
			Expect(gjson.Get(body, "model").String()).To(Equal("claude-sonnet"))
			Expect(gjson.Get(body, "thinking.type").String()).To(Equal("enabled"))
			Expect(gjson.Get(body, "temperature").Exists()).To(BeFalse())
			Expect(gjson.Get(body, "max_tokens").Int()).To(BeNumerically(">", gjson.Get(body, "thinking.budget_tokens").Int()))
		})
	})

	Context("gemini", func() {
		It("streams candidates from the SSE endpoint", func() {
			registry := model.ProviderRegistry{
				model.ProviderGemini: {
					Enabled: true,
					APIKey:  "gk",
					BaseURL: backend.server.URL,
					Models:  []model.ModelConfig{{ID: "gemini-2.0-flash", Enabled: true}},
				},
			}
			backend.replyFn = sse(
				`data: {"candidates":[{"content":{"parts":[{"text":"Hi"}],"role":"model"}}]}`,
				`data: {"candidates":[{"content":{"parts":[{"text":"thinking...","thought":true},{"text":"!"}],"role":"model"},"finishReason":"STOP"}]}`,
			)

			res, err := router.Route(ctx, conversation("gemini-2.0-flash"), registry, true)
			Expect(err).NotTo(HaveOccurred())

			tokens, err := collect(res.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Join(tokens, "")).To(Equal("Hi!"))

			req := backend.last.Load()
			Expect(req.path).To(Equal("/v1beta/models/gemini-2.0-flash:streamGenerateContent"))
			Expect(req.query).To(Equal("alt=sse"))
			Expect(req.header.Get("x-goog-api-key")).To(Equal("gk"))
			Expect(gjson.Get(req.body, "systemInstruction.parts.0.text").String()).To(Equal("be brief"))
			Expect(gjson.Get(req.body, "contents.0.role").String()).To(Equal("user"))
		})
	})
})
