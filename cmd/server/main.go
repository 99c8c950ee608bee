package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/avvvet/brain/internal/config"
	"github.com/avvvet/brain/internal/handlers"
	"github.com/avvvet/brain/internal/llm"
	"github.com/avvvet/brain/internal/memory"
	"github.com/avvvet/brain/internal/models"
	"github.com/avvvet/brain/internal/observability"
	"github.com/avvvet/brain/internal/orchestrator"
	"github.com/avvvet/brain/internal/policy"
	"github.com/avvvet/brain/internal/rules"
	"github.com/avvvet/brain/internal/transport"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	var envFile, engineConfig string

	flagSet := pflag.NewFlagSet("brain", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&engineConfig, "config", "", "rules and suggestions YAML (overrides ENGINE_CONFIG)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load .env file if it exists (for development)
	if err := godotenv.Load(envFile); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	log.Println("🚀 Starting brain decision service...")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if engineConfig != "" {
		cfg.EngineConfigPath = engineConfig
	}
	log.Printf("📋 Service: %s", cfg.ServiceName)
	log.Printf("📡 NATS URL: %s", cfg.NatsURL)
	log.Printf("💾 Session store: %s", cfg.SessionStore)
	log.Printf("📐 Engine config: %s", cfg.EngineConfigPath)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Tracing is optional
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
			ServiceName:  cfg.ServiceName,
			Version:      version,
			Endpoint:     cfg.OTELEndpoint,
			SessionStore: cfg.SessionStore,
			Policy:       policyKind(cfg),
			QueueGroup:   cfg.NatsQueueGroup,
			SampleRatio:  cfg.OTELSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				log.Printf("⚠️ Error flushing traces: %v", err)
			}
		}()
		log.Printf("🔭 Tracing to %s", cfg.OTELEndpoint)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	log.Println("🧠 Initializing memory manager...")
	memoryManager := memory.NewManager(store, cfg.HistoryMaxLength, logger)
	defer memoryManager.Close()
	log.Println("✅ Memory manager initialized")

	ruleSet, err := rules.LoadRuleSet(cfg.EngineConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	ruleList, err := ruleSet.Build()
	if err != nil {
		return fmt.Errorf("failed to build rules: %w", err)
	}
	engine := rules.NewEngine(logger, ruleList...)
	log.Printf("🛡️ Rule engine loaded with %d rules", len(ruleList))

	suggester, err := buildSuggester(cfg, logger)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(memoryManager, suggester, engine, orchestrator.Config{
		FallbackAction:     models.Candidate{Action: cfg.FallbackAction, Confidence: 1, Source: "fallback"},
		EscalationAction:   models.Candidate{Action: cfg.EscalationAction, Confidence: 1, Source: "escalation"},
		EscalationSeverity: cfg.EscalationSeverity,
		MaxCommitRetries:   cfg.MaxCommitRetries,
		PolicyTimeout:      cfg.PolicyTimeout,
		StoreTimeout:       cfg.StoreTimeout,
	}, logger)
	if err != nil {
		return err
	}

	decisionHandler := handlers.NewDecisionHandler(orch, orch.Config().FallbackAction, cfg.DegradeOnInfraError, logger)
	log.Println("✅ Decision handler initialized")

	// Initialize NATS transport
	log.Println("📡 Connecting to NATS...")
	natsTransport, err := transport.NewNATSTransport(cfg, decisionHandler, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize NATS transport: %w", err)
	}
	defer natsTransport.Close()

	if err := natsTransport.Start(); err != nil {
		return fmt.Errorf("failed to start NATS transport: %w", err)
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr, memoryManager, cfg.StoreTimeout)

	log.Println("✅ brain decision service is running!")
	log.Printf("👂 Listening on subject: %s", cfg.NatsRequestSubject)
	log.Printf("📊 Active sessions: %d", memoryManager.GetActiveSessionCount())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("🛑 Received signal: %v", sig)
	log.Println("🔄 Shutting down gracefully...")

	log.Printf("📊 Final session count: %d", memoryManager.GetActiveSessionCount())

	if err := natsTransport.Close(); err != nil {
		log.Printf("⚠️ Error closing NATS transport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Error stopping metrics server: %v", err)
	}

	log.Println("👋 brain decision service stopped")
	return nil
}

func openStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		log.Printf("🔌 Connecting to Redis at %s...", cfg.RedisURL)
		store, err := memory.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Println("✅ Redis connected")
		return store, nil
	case config.StoreSQLite:
		store, err := memory.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		log.Printf("✅ SQLite store at %s", cfg.SQLitePath)
		return store, nil
	default:
		log.Println("⚠️ Using in-memory session store, state is lost on restart")
		return memory.NewInMemoryStore(), nil
	}
}

func policyKind(cfg *config.Config) string {
	if cfg.AnthropicAPIKey == "" {
		return "table"
	}
	return "ensemble"
}

// buildSuggester returns the table suggester, combined with the Anthropic
// model when an API key is configured.
func buildSuggester(cfg *config.Config, logger *slog.Logger) (policy.Suggester, error) {
	table, err := policy.LoadTableSuggester(cfg.EngineConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion table: %w", err)
	}
	if cfg.AnthropicAPIKey == "" {
		log.Println("📒 No ANTHROPIC_API_KEY, using the suggestion table only")
		return table, nil
	}

	log.Printf("🤖 Initializing Anthropic model %s...", cfg.AnthropicModel)
	model, err := llm.NewAnthropicModel(llm.AnthropicConfig{
		APIKey:  cfg.AnthropicAPIKey,
		Model:   cfg.AnthropicModel,
		Timeout: cfg.AnthropicTimeout,
	})
	if err != nil {
		return nil, err
	}

	return policy.NewEnsemble(logger,
		policy.Member{Name: "table", Suggester: table, Weight: 1},
		policy.Member{Name: "llm", Suggester: policy.NewLLMSuggester(model, table.Actions(), logger), Weight: cfg.LLMWeight},
	), nil
}

func startMetricsServer(addr string, mgr *memory.Manager, storeTimeout time.Duration) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		if err := mgr.Ping(ctx); err != nil {
			slog.Warn("readiness_check_failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("⚠️ Metrics server stopped: %v", err)
		}
	}()
	log.Printf("📈 Metrics on %s/metrics, readiness on %s/readyz", addr, addr)
	return srv
}
