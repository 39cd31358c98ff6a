// Seeker research engine: plans, executes and evaluates LLM-driven research
// sessions from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/coverage"
	"github.com/codeready-toolchain/seeker/pkg/decomposer"
	"github.com/codeready-toolchain/seeker/pkg/evaluator"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/memory"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/orchestrator"
	"github.com/codeready-toolchain/seeker/pkg/reflection"
	"github.com/codeready-toolchain/seeker/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	query := flag.String("query", "", "Research query to execute")
	mode := flag.String("mode", "standard",
		"Pipeline: standard (decompose + plan), agentic (adds retrieval cycles and reflection)")
	sessionID := flag.String("session", "", "Session id (generated when empty)")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: seeker -query \"...\" [-mode standard|agentic]")
		os.Exit(2)
	}

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create LLM client
	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Select the log store: Postgres when configured, memory otherwise.
	// Postgres runs feed the bus through the NOTIFY listener so every
	// process sees one consistent stream; memory runs publish directly.
	bus := events.NewBus(nil)
	defer bus.Close()

	var store logstore.Store
	var results logstore.ResultStore
	if cfg.Database != nil {
		pgStore, err := logstore.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				slog.Error("Error closing database", "error", err)
			}
		}()

		listener := logstore.NewNotifyListener(cfg.Database.URL, bus, pgStore)
		if err := listener.Start(ctx); err != nil {
			slog.Error("Failed to start NOTIFY listener", "error", err)
			os.Exit(1)
		}
		defer listener.Stop(context.Background())

		store, results = pgStore, pgStore
		slog.Info("Connected to PostgreSQL log store")
	} else {
		memStore := logstore.NewMemoryStore(bus)
		store, results = memStore, memStore
		slog.Info("Using in-memory log store")
	}

	// 4. Optional Redis: tool-result cache plus the kb_lookup tool
	var cache *tools.ResultCache
	var kb tools.Executor
	if cfg.Redis != nil {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		cache = tools.NewResultCache(redisClient, cfg.Tools.CacheTTL)
		kb = tools.NewKBLookup(redisClient)
		slog.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
	}

	// 5. Wire the tool registry and the orchestrator
	registry := tools.NewDefaultRegistry(
		tools.NewTavilySearch(cfg.Tools, cache),
		tools.NewWebFetch(cfg.Tools, cache),
		tools.NewSynthesize(llmClient),
		kb,
	)

	orch := orchestrator.New(orchestrator.Deps{
		Client:     llmClient,
		Registry:   registry,
		Store:      store,
		Results:    results,
		Memory:     memory.NewManager(),
		Decomposer: decomposer.New(llmClient, nil),
		Analyzer:   coverage.New(llmClient, cfg.Orchestrator, nil),
		Evaluator:  evaluator.New(llmClient, cfg.LLM, nil),
		Reflector:  reflection.New(llmClient, nil),
		Config:     cfg.Orchestrator,
	})

	// 6. Stream session events to the log while the research runs
	sub := bus.Subscribe(events.FirehoseChannel)
	defer bus.Unsubscribe(sub)
	go func() {
		for entry := range sub.C {
			slog.Info("event",
				"type", entry.EventType,
				"session_id", entry.SessionID,
				"plan_id", entry.PlanID,
				"phase_id", entry.PhaseID,
				"step_id", entry.StepID)
		}
	}()

	// 7. Execute the research session
	var result *models.ResearchResult
	switch *mode {
	case "agentic":
		result, err = orch.OrchestrateAgenticResearch(ctx, *query, *sessionID)
	case "standard":
		result, err = orch.ExecuteResearch(ctx, *query, *sessionID)
	default:
		slog.Error("Unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Research failed", "error", err)
		os.Exit(1)
	}

	// 8. Print the answer and its sources
	fmt.Printf("\n%s\n", result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range result.Sources {
			fmt.Printf("  [%s] %s (%s)\n", src.Relevance, src.Title, src.URL)
		}
	}
	if result.Metadata != nil {
		slog.Info("Research completed",
			"session_id", result.SessionID,
			"duration_ms", result.Metadata.TotalExecutionTimeMs,
			"sources", len(result.Sources),
			"confidence", result.Confidence)
	}
}
