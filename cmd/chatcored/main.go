// Command chatcored runs the chat-completion core as an HTTP service:
// config load, component wiring, then serve until a shutdown signal.
//
// Usage:
//
//	chatcored serve --config chatcore.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/chatforge/core/internal/audit"
	"github.com/chatforge/core/internal/cache"
	"github.com/chatforge/core/internal/cacheshim"
	"github.com/chatforge/core/internal/catalog"
	"github.com/chatforge/core/internal/config"
	"github.com/chatforge/core/internal/conversation"
	"github.com/chatforge/core/internal/httpapi"
	"github.com/chatforge/core/internal/mcp"
	"github.com/chatforge/core/internal/objectstore"
	"github.com/chatforge/core/internal/orchestrator"
	"github.com/chatforge/core/internal/promptanalyser"
	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/internal/rag"
	"github.com/chatforge/core/internal/rag/qdrantstore"
	"github.com/chatforge/core/internal/ratelimit"
	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/internal/repository/postgres"
	"github.com/chatforge/core/internal/repository/sqlite"
	"github.com/chatforge/core/internal/router"
	"github.com/chatforge/core/internal/telemetry"
	"github.com/chatforge/core/internal/toolregistry"
	"github.com/chatforge/core/internal/usage"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chatcored",
		Short:        "chatcored - multi-tenant AI chat completion core",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "chatcore.yaml", "path to YAML/JSON5 configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOutput, err := resolveOutput(cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("resolve logging output: %w", err)
	}
	logger := telemetry.NewLogger(telemetry.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         logOutput,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slogger := buildSlogger(cfg.Logging, logOutput)
	slog.SetDefault(slogger)

	tracer, shutdownTracer := telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	_ = tracer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slogger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	cacheStore, err := openCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	metrics := telemetry.NewPrometheusSink()

	cat := catalog.NewDefault()
	registry := provider.NewRegistry(metrics)
	if err := registerProviders(registry, cfg.Providers); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}

	rt := router.New(router.Config{Logger: slogger})

	convos := conversation.New(conversation.Config{Store: store, Logger: slogger})

	analyser := promptanalyser.New(promptanalyser.Config{}, registry)

	ragService, err := openRAG(ctx, cfg.RAG, registry)
	if err != nil {
		return fmt.Errorf("open rag store: %w", err)
	}

	mcpManager := mcp.NewManager(&cfg.Tools.MCP, slogger)
	if cfg.Tools.MCP.Enabled {
		if err := mcpManager.Start(ctx); err != nil {
			return fmt.Errorf("start mcp manager: %w", err)
		}
		defer mcpManager.Stop()
	}

	tools := toolregistry.New(toolregistry.Config{Usage: convos, MCP: toolregistry.NewManagerAdapter(mcpManager)})
	artifacts := objectstore.NewMemoryStore()
	orchestrator.RegisterWorkflowTools(tools, cfg.Tools.Sandbox, artifacts)

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}

	usageTracker := usage.NewTracker(usage.TrackerConfig{MaxAge: cfg.Usage.MaxAge, MaxCount: cfg.Usage.MaxCount})

	dedupe := cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: 5 * time.Minute, MaxSize: 10000})
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: 10,
		BurstSize:         20,
		Enabled:           true,
	})

	orch := orchestrator.New(orchestrator.Config{
		Conversations: convos,
		Catalog:       cat,
		Router:        rt,
		Providers:     registry,
		Analyser:      analyser,
		RAG:           ragService,
		Tools:         tools,
		Store:         store,
		Cache:         cacheStore,
		Logger:        logger,
		Metrics:       metrics,
		Audit:         auditLogger,
		Usage:         usageTracker,
		RequestDedupe: dedupe,
		RateLimit:     limiter,
		DefaultModel:  cfg.Router.DefaultModel,
	})
	orch.RegisterDelegationTools(tools)

	handler := httpapi.NewHandler(httpapi.Config{Orchestrator: orch, Logger: slogger})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("chatcored listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slogger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return store.Close()
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.URL)
	case "sqlite", "":
		path := cfg.URL
		if path == "" {
			path = "chatcore.db"
		}
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// openRAG builds the retrieval service over a Qdrant vector store. RAG is
// optional: an unconfigured Qdrant host leaves it nil, and the orchestrator
// skips augmentation when RAG is nil.
func openRAG(ctx context.Context, cfg config.RAGConfig, registry *provider.Registry) (*rag.Service, error) {
	if cfg.Qdrant.Host == "" {
		return nil, nil
	}
	store, err := qdrantstore.New(ctx, qdrantstore.Config{
		Host:           cfg.Qdrant.Host,
		Port:           cfg.Qdrant.Port,
		APIKey:         cfg.Qdrant.APIKey,
		UseTLS:         cfg.Qdrant.UseTLS,
		CollectionName: cfg.Qdrant.CollectionName,
		Dimension:      cfg.Qdrant.Dimension,
		Distance:       cfg.Qdrant.Distance,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	svc := rag.NewService(registry, store)
	svc.EmbeddingProvider = cfg.EmbeddingProvider
	svc.EmbeddingModel = cfg.EmbeddingModel
	return svc, nil
}

func openCache(cfg config.CacheConfig) (cacheshim.Store, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		return cacheshim.NewRedisStore(client), nil
	case "memory", "":
		return cacheshim.NewLRUStore(cfg.LRUSize), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func registerProviders(registry *provider.Registry, cfg config.ProvidersConfig) error {
	registered := false
	if cfg.Anthropic != nil {
		p, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey, BaseURL: cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel, MaxRetries: cfg.Anthropic.MaxRetries, RetryDelay: cfg.Anthropic.RetryDelay,
		})
		if err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}
		registry.RegisterChat(p, cfg.Default == "anthropic")
		registered = true
	}
	if cfg.OpenAI != nil {
		p, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL,
			DefaultModel: cfg.OpenAI.DefaultModel, MaxRetries: cfg.OpenAI.MaxRetries, RetryDelay: cfg.OpenAI.RetryDelay,
		})
		if err != nil {
			return fmt.Errorf("openai: %w", err)
		}
		registry.RegisterChat(p, cfg.Default == "openai")
		registry.RegisterImage(p, cfg.Default == "openai")
		registered = true
	}
	if cfg.Bedrock != nil {
		p, err := provider.NewBedrockProvider(context.Background(), provider.BedrockConfig{
			Region: cfg.Bedrock.Region, AccessKeyID: cfg.Bedrock.AccessKeyID, SecretAccessKey: cfg.Bedrock.SecretAccessKey,
			SessionToken: cfg.Bedrock.SessionToken, DefaultModel: cfg.Bedrock.DefaultModel,
			MaxRetries: cfg.Bedrock.MaxRetries, RetryDelay: cfg.Bedrock.RetryDelay,
		})
		if err != nil {
			return fmt.Errorf("bedrock: %w", err)
		}
		registry.RegisterChat(p, cfg.Default == "bedrock")
		registered = true
	}
	if cfg.Google != nil {
		p, err := provider.NewGoogleProvider(provider.GoogleConfig{
			APIKey: cfg.Google.APIKey, DefaultModel: cfg.Google.DefaultModel,
			MaxRetries: cfg.Google.MaxRetries, RetryDelay: cfg.Google.RetryDelay,
		})
		if err != nil {
			return fmt.Errorf("google: %w", err)
		}
		registry.RegisterChat(p, cfg.Default == "google")
		registered = true
	}
	if !registered {
		return fmt.Errorf("no providers configured")
	}
	return nil
}

// buildSlogger builds the plain *slog.Logger components that want one
// directly (conversation, router, promptanalyser), matching the level and
// format telemetry.NewLogger applies to the redacting *telemetry.Logger.
func buildSlogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// resolveOutput turns a config output string ("stdout", "stderr", or a file
// path) into an io.Writer, matching the convention internal/audit.NewLogger
// uses for its own Output field.
func resolveOutput(out string) (io.Writer, error) {
	switch {
	case out == "" || out == "stdout":
		return os.Stdout, nil
	case out == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(out, "file:"):
		path := strings.TrimPrefix(out, "file:")
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	default:
		return os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}
