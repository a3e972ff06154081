package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/felipepmaragno/chat-gateway/internal/api"
	"github.com/felipepmaragno/chat-gateway/internal/auth"
	"github.com/felipepmaragno/chat-gateway/internal/budget"
	"github.com/felipepmaragno/chat-gateway/internal/circuitbreaker"
	"github.com/felipepmaragno/chat-gateway/internal/config"
	"github.com/felipepmaragno/chat-gateway/internal/cost"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/gateway"
	"github.com/felipepmaragno/chat-gateway/internal/httputil"
	"github.com/felipepmaragno/chat-gateway/internal/memory"
	"github.com/felipepmaragno/chat-gateway/internal/notifications"
	"github.com/felipepmaragno/chat-gateway/internal/prompt"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
	"github.com/felipepmaragno/chat-gateway/internal/provider/anthropic"
	"github.com/felipepmaragno/chat-gateway/internal/provider/bedrock"
	"github.com/felipepmaragno/chat-gateway/internal/provider/google"
	"github.com/felipepmaragno/chat-gateway/internal/provider/openai"
	"github.com/felipepmaragno/chat-gateway/internal/queue"
	"github.com/felipepmaragno/chat-gateway/internal/ratelimit"
	"github.com/felipepmaragno/chat-gateway/internal/registry"
	"github.com/felipepmaragno/chat-gateway/internal/repository"
	"github.com/felipepmaragno/chat-gateway/internal/secrets"
	"github.com/felipepmaragno/chat-gateway/internal/telemetry"
	"github.com/felipepmaragno/chat-gateway/internal/usage"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const alertDedupTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting chat gateway", "addr", cfg.Addr, "version", telemetry.ServiceVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			slog.Error("failed to load aws config", "error", err)
			os.Exit(1)
		}
	}

	keys := secrets.ProviderKeys{
		OpenAI:    cfg.OpenAIAPIKey,
		Google:    cfg.GoogleAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
	}
	if cfg.ProviderSecretName != "" {
		keys, err = secrets.ResolveProviderKeys(ctx, secrets.NewAWSSecretsManager(awsCfg), cfg.ProviderSecretName, keys)
		if err != nil {
			slog.Error("failed to resolve provider credentials", "secret", cfg.ProviderSecretName, "error", err)
			os.Exit(1)
		}
	}

	var checkers []api.HealthChecker

	var store repository.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := repository.Migrate(ctx, db); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		store = repository.NewPostgresStore(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres store")
	} else {
		store = repository.NewInMemoryStore()
		slog.Info("using in-memory store")
	}

	var (
		rateLimiter ratelimit.RateLimiter
		dedup       budget.AlertDeduplicator
		breakerOpts []circuitbreaker.Option
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		rateLimiter = ratelimit.NewRedisRateLimiter(client, cfg.RateLimitWindow)
		dedup = budget.NewRedisDeduplicator(client, alertDedupTTL)
		breakerOpts = append(breakerOpts, circuitbreaker.WithFactory(func(p domain.Provider, bc circuitbreaker.Config) circuitbreaker.Breaker {
			return circuitbreaker.NewRedis(client, p, bc)
		}))
		checkers = append(checkers, api.NewRedisHealthChecker(client))
		slog.Info("using redis rate limiter, alert deduplication and circuit breakers")
	} else {
		limiter := ratelimit.NewInMemoryRateLimiter(cfg.RateLimitWindow)
		go sweepLimiter(ctx, limiter, cfg.RateLimitWindow)
		rateLimiter = limiter
		slog.Info("using in-memory rate limiter")
	}

	client := httputil.NewStreamingClient(httputil.DefaultConfig())

	var bedrockAdapter *bedrock.Adapter
	if cfg.BedrockRegion != "" {
		bedrockAdapter, err = bedrock.NewFromRegion(ctx, cfg.BedrockRegion)
		if err != nil {
			slog.Error("failed to initialize bedrock", "region", cfg.BedrockRegion, "error", err)
			os.Exit(1)
		}
	} else {
		bedrockAdapter = bedrock.New(nil)
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)
	dispatcher := provider.NewDispatcher(breakers,
		openai.New(keys.OpenAI, cfg.OpenAIBaseURL, client),
		google.New(keys.Google, cfg.GoogleBaseURL, client),
		anthropic.New(keys.Anthropic, cfg.AnthropicBaseURL, client),
		bedrockAdapter,
	)

	reg := registry.Default()
	if cfg.ModelRegistryPath != "" {
		reg, err = registry.LoadFile(cfg.ModelRegistryPath)
		if err != nil {
			slog.Error("failed to load model registry", "path", cfg.ModelRegistryPath, "error", err)
			os.Exit(1)
		}
	}
	if err := reg.Validate(dispatcher.Supported); err != nil {
		slog.Error("invalid model registry", "error", err)
		os.Exit(1)
	}

	configured := dispatcher.ConfiguredProviders()
	if len(configured) == 0 {
		slog.Warn("no provider credentials configured; every chat turn will fail with NO_PROVIDERS")
	} else {
		slog.Info("providers configured", "providers", configured)
	}

	limits := budget.DefaultLimits()
	limits.DailyBudget = cfg.DefaultDailyBudget
	limits.CreditLimit = cfg.DefaultCreditLimit
	guard := budget.NewGuard(store, limits, dedup)
	guard.OnAlert(budget.LogAlertHandler)
	if cfg.BudgetAlertTopicARN != "" {
		guard.OnAlert(notifications.AlertHandler(notifications.NewSNSNotifier(awsCfg, cfg.BudgetAlertTopicARN)))
		slog.Info("budget alerts published to sns", "topic", cfg.BudgetAlertTopicARN)
	}

	var reconcilerOpts []usage.Option
	if cfg.UsageQueueURL != "" {
		reconcilerOpts = append(reconcilerOpts, usage.WithPublisher(queue.NewSQSPublisher(awsCfg, cfg.UsageQueueURL)))
		slog.Info("usage events exported to sqs", "queue", cfg.UsageQueueURL)
	}
	reconciler := usage.NewReconciler(store, cost.NewCalculator(), reconcilerOpts...)

	pipeline := gateway.NewPipeline(gateway.Config{
		Budget:     guard,
		Registry:   reg,
		Configured: dispatcher.Configured,
		Memory:     memory.NewRetriever(store, memory.DefaultLimits()),
		Projects:   store,
		Identity:   prompt.Identity{Name: cfg.AssistantName, Developer: cfg.AssistantDeveloper},
	})

	handler := api.NewHandler(api.HandlerConfig{
		Verifier:      buildVerifier(cfg),
		RateLimiter:   rateLimiter,
		ChatRateLimit: cfg.ChatRateLimit,
		Pipeline:      pipeline,
		Dispatcher:    dispatcher,
		Registry:      reg,
		Reconciler:    reconciler,
		Checkers:      checkers,
		BreakerStates: breakers.States,
		AllowOrigin:   cfg.CORSAllowOrigin,
		BodyLimit:     cfg.RequestBodyLimit,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	reconciler.Wait()
	guard.Wait()
	cancel()

	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}

func buildVerifier(cfg *config.Config) auth.Verifier {
	var chain auth.Chain
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer))
	}
	if cfg.StaticTokens != "" {
		chain = append(chain, auth.NewStaticVerifier(auth.ParseStaticTokens(cfg.StaticTokens)))
		slog.Warn("static bearer tokens enabled; use only for development")
	}
	return chain
}

func sweepLimiter(ctx context.Context, limiter *ratelimit.InMemoryRateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				slog.Debug("swept expired rate limit windows", "count", n)
			}
		}
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
