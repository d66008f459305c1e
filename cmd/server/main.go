package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"lumen.app/relay/common/id"
	"lumen.app/relay/common/logger"
	"lumen.app/relay/common/otel"
	"lumen.app/relay/core/config"
	"lumen.app/relay/internal/chat"
	"lumen.app/relay/internal/http/middleware"
	httprouter "lumen.app/relay/internal/http/router"
	"lumen.app/relay/internal/model"
	"lumen.app/relay/internal/provider"
	"lumen.app/relay/internal/queue"
	"lumen.app/relay/internal/retrieval"
	"lumen.app/relay/internal/storage"
	"lumen.app/relay/internal/tools"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	registry, err := model.LoadRegistry(cfg.LLM.ProvidersFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load provider registry", "error", err)
		os.Exit(1)
	}
	if _, def, ok := registry.DefaultModel(); ok {
		slog.InfoContext(ctx, "provider registry loaded", "default_model", def.ID)
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
	defer producer.Close()

	stopBus := queue.NewStopBus(redisClient, cfg.Pipeline.StopChannel)

	router := provider.NewRouter(provider.Options{
		ReasoningEffort: cfg.LLM.ReasoningEffort,
		MaxTokens:       cfg.LLM.MaxTokens,
	})

	deps := chat.Deps{
		Router:      router,
		Registry:    registry,
		Publisher:   producer,
		Broadcaster: stopBus,
	}
	if cfg.Presign.Enabled() {
		deps.Presigner = storage.NewPresignClient(cfg.Presign.BaseURL, cfg.Presign.APIKey, cfg.Presign.Timeout)
	}
	if cfg.Retrieval.Enabled() {
		deps.Retriever = retrieval.NewClient(cfg.Retrieval.BaseURL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
	}
	if cfg.Workflow.Enabled() {
		workflows := tools.NewWorkflowClient(cfg.Workflow.BaseURL, cfg.Workflow.APIKey)
		deps.Catalog = workflows
		deps.Tools = tools.NewOrchestrator(router, workflows, tools.Config{
			InteractiveTimeout: cfg.Tools.InteractiveTimeout,
			WorkflowTimeout:    cfg.Tools.WorkflowTimeout,
		})
	}

	svc := chat.NewService(deps)

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	if err := stopBus.Listen(listenCtx, func(turnID string) {
		svc.StopLocal(turnID)
	}); err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to stop signals", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := setupRouter(cfg, svc)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: streamed turns stay open for as long as the model produces tokens.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	stopListening()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, svc *chat.Service) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, svc, id.NewString)

	return router
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ███████╗███████╗██████╗ ██╗   ██╗███████╗██████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ██╔════╝██╔════╝██╔══██╗██║   ██║██╔════╝██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝     ███████╗█████╗  ██████╔╝██║   ██║█████╗  ██████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝      ╚════██║██╔══╝  ██╔══██╗╚██╗ ██╔╝██╔══╝  ██╔══██╗
██║  ██║███████╗███████╗██║  ██║   ██║       ███████║███████╗██║  ██║ ╚████╔╝ ███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝       ╚══════╝╚══════╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝
`
