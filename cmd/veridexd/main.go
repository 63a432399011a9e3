// Command veridexd is the fact-check worker daemon. It claims check jobs
// from the Postgres queue, runs each through the verification pipeline, and
// persists the finished result.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/veridex-ai/veridex/internal/adapters"
	"github.com/veridex-ai/veridex/internal/cache"
	"github.com/veridex-ai/veridex/internal/classify"
	"github.com/veridex-ai/veridex/internal/config"
	"github.com/veridex-ai/veridex/internal/embedding"
	"github.com/veridex-ai/veridex/internal/extract"
	"github.com/veridex-ai/veridex/internal/ingest"
	"github.com/veridex-ai/veridex/internal/judge"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/pipeline"
	"github.com/veridex-ai/veridex/internal/ratelimit"
	"github.com/veridex-ai/veridex/internal/retrieve"
	"github.com/veridex-ai/veridex/internal/storage"
	"github.com/veridex-ai/veridex/internal/telemetry"
	"github.com/veridex-ai/veridex/internal/vector"
	"github.com/veridex-ai/veridex/internal/verify"
	"github.com/veridex-ai/veridex/internal/websearch"
	"github.com/veridex-ai/veridex/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("VERIDEX_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("veridexd starting", "version", version, "workers", cfg.WorkerConcurrency)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(context.Background())

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Cache: Redis when configured, otherwise a permanent-miss noop. Every
	// consumer treats a miss as "do the work", so the noop only costs calls.
	var responseCache cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		redis, err := cache.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", "error", err)
		} else {
			defer func() { _ = redis.Close() }()
			responseCache = redis
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: disabled (no REDIS_URL)")
	}

	completer := newCompleter(cfg, logger)
	embedder := newEmbedder(cfg, logger)

	// Qdrant evidence index (optional).
	var vectors retrieve.VectorStore
	if cfg.QdrantURL != "" {
		index, err := vector.New(vector.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, embedder, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = index.Close() }()
		if err := index.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		vectors = index
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	searcher := newSearcher(cfg, logger)

	// Outbound pacing shared by every adapter; most wrapped APIs are
	// free-tier and throttle hard.
	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.AdapterRateEnabled {
		mem := ratelimit.NewMemoryLimiter(cfg.AdapterRateLimit, cfg.AdapterBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
	}

	registry := newRegistry(cfg, adapters.Deps{
		Cache:   responseCache,
		Limiter: limiter,
		Logger:  logger,
	}, logger)

	ingester := ingest.New(cfg.IngestTimeout, logger)
	classifier := classify.NewClassifier(completer, logger)
	extractor := extract.New(completer, responseCache, logger, extract.Options{
		MaxClaims:                cfg.MaxClaims,
		MaxContentWords:          cfg.MaxContentWords,
		ClassifyClaims:           cfg.EnableClaimClassification,
		LegalDefaultJurisdiction: cfg.LegalDefaultJurisdiction,
	})

	var planner *retrieve.Planner
	if cfg.EnableQueryPlanning {
		planner = retrieve.NewPlanner(completer, logger, cfg.ExcludeFactCheckSites)
	}
	retriever := retrieve.New(searcher, registry, planner, embedder, completer, vectors, retrieve.Config{
		Filter: retrieve.FilterConfig{
			SourceCredibilityThreshold: cfg.SourceCredibilityThreshold,
			OutstandingSourceThreshold: cfg.OutstandingSourceThreshold,
			MaxEvidencePerDomain:       cfg.MaxEvidencePerDomain,
			MaxSourcesPerClaim:         cfg.MaxSourcesPerClaim,
			DomainDiversityThreshold:   cfg.DomainDiversityThreshold,
			EnableDeduplication:        cfg.EnableDeduplication,
			EnableSourceDiversity:      cfg.EnableSourceDiversity,
			EnableDomainCap:            cfg.EnableDomainCap,
			EnableSourceValidation:     cfg.EnableSourceValidation,
			ExcludeFactCheckSites:      cfg.ExcludeFactCheckSites,
			DropStalePlanned:           cfg.DropStalePlanned,
		},
		ClaimConcurrency:     cfg.RetrieveClaimConcurrency,
		EnableQueryPlanning:  cfg.EnableQueryPlanning,
		EnableCrossEncoder:   cfg.EnableCrossEncoder,
		EnableGlobalCap:      cfg.EnableGlobalDomainCap,
		GlobalMaxDomainRatio: cfg.GlobalMaxDomainRatio,
	}, logger)
	retriever.SetSnippetFallback(cfg.AllowSnippetFallback)

	verifier := verify.New(newScorer(cfg, completer, logger), responseCache, verify.Config{
		ClaimConcurrency: cfg.VerifyClaimConcurrency,
		BatchSize:        cfg.NLIBatchSize,
	}, logger)

	judger := judge.New(completer, responseCache, judge.Config{
		ClaimConcurrency:        cfg.JudgeClaimConcurrency,
		MinSourcesForVerdict:    cfg.MinSourcesForVerdict,
		MinCredibilityThreshold: cfg.MinCredibilityThreshold,
		MinConsensusStrength:    cfg.MinConsensusStrength,
		EnableAbstention:        cfg.EnableAbstention,
		EnableExplainability:    cfg.EnableExplainability,
	}, logger)

	pipe := pipeline.New(ingester, classifier, extractor, retriever, verifier, judger, db, pipeline.Config{
		IngestTimeout:       cfg.IngestTimeout,
		VerificationTimeout: cfg.VerificationTimeout,
		JobRetryDelay:       cfg.JobRetryDelay,
		JobMaxRetries:       cfg.JobMaxRetries,
	}, logger)

	var notifier pipeline.Notifier
	if db.NotifyConn() != nil {
		notifier = db
	} else {
		logger.Info("job notifications: disabled (no NOTIFY_URL), polling only")
	}

	worker := pipeline.NewWorker(db, notifier, pipe, cfg.WorkerConcurrency, cfg.JobPollInterval, logger)

	logger.Info("veridexd ready", "adapters", registry.Len(), "poll_interval", cfg.JobPollInterval)
	err = worker.Run(ctx)

	// Run returns ctx.Err() on signal; in-flight jobs have already drained.
	slog.Info("veridexd stopped")
	return err
}

// newCompleter builds the LLM fallback chain: OpenAI primary, Anthropic
// secondary. With no keys at all the pipeline runs entirely on its
// deterministic fallbacks.
func newCompleter(cfg config.Config, logger *slog.Logger) llm.ChatCompleter {
	var chain []llm.ChatCompleter
	if cfg.OpenAIAPIKey != "" {
		chain = append(chain, llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel))
		logger.Info("llm: openai", "model", cfg.OpenAIModel)
	}
	if cfg.AnthropicAPIKey != "" {
		chain = append(chain, llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel))
		logger.Info("llm: anthropic", "model", cfg.AnthropicModel)
	}
	if len(chain) == 0 {
		logger.Warn("llm: no provider configured, rule-based fallbacks only")
		return llm.Noop{}
	}
	return llm.NewFallback(chain...)
}

func newEmbedder(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.OpenAIAPIKey == "" {
		logger.Info("embeddings: disabled (no OPENAI_API_KEY), lexical ranking only")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	logger.Info("embeddings: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
	return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
}

func newSearcher(cfg config.Config, logger *slog.Logger) *websearch.Cascade {
	var providers []websearch.Provider
	if cfg.BraveAPIKey != "" {
		providers = append(providers, websearch.NewBrave(websearch.ProviderConfig{
			APIKey:      cfg.BraveAPIKey,
			Timeout:     cfg.SearchTimeout,
			Spacing:     cfg.SearchRequestSpacing,
			WarmupDelay: cfg.SearchWarmupDelay,
			Logger:      logger,
		}))
	}
	if cfg.SerpAPIKey != "" {
		providers = append(providers, websearch.NewSerpAPI(websearch.ProviderConfig{
			APIKey:      cfg.SerpAPIKey,
			Timeout:     cfg.SearchTimeout,
			Spacing:     cfg.SearchRequestSpacing,
			WarmupDelay: cfg.SearchWarmupDelay,
			Logger:      logger,
		}))
	}
	if len(providers) == 0 {
		logger.Warn("websearch: no provider configured, adapter evidence only")
	}
	return websearch.NewCascade(logger, providers...)
}

// newRegistry registers every adapter. Constructors for keyed APIs return a
// typed nil when their key is absent; Register drops those with a log line.
func newRegistry(cfg config.Config, deps adapters.Deps, logger *slog.Logger) *adapters.Registry {
	r := adapters.NewRegistry(logger, model.Jurisdiction(cfg.LegalDefaultJurisdiction))

	// Keyless sources.
	r.Register(adapters.NewWikipedia(deps))
	r.Register(adapters.NewWikidata(deps))
	r.Register(adapters.NewPubMed(deps))
	r.Register(adapters.NewCrossRef(deps))
	r.Register(adapters.NewSemanticScholar(deps))
	r.Register(adapters.NewOpenAlex(deps))
	r.Register(adapters.NewGOVUK(deps))
	r.Register(adapters.NewWHO(deps))
	r.Register(adapters.NewLibraryOfCongress(deps))
	r.Register(adapters.NewInternetArchive(deps))
	r.Register(adapters.NewHansard(deps))
	r.Register(adapters.NewGBIF(deps))
	r.Register(adapters.NewTransfermarkt(deps))
	r.Register(adapters.NewONS(deps))

	// Keyed sources; skipped when the key is absent.
	r.Register(adapters.NewGoogleFactCheck(cfg.GoogleFactCheckKey, deps))
	r.Register(adapters.NewGovInfo(cfg.GovInfoAPIKey, deps))
	r.Register(adapters.NewFRED(cfg.FREDAPIKey, deps))
	r.Register(adapters.NewFootballData(cfg.FootballDataAPIKey, deps))
	r.Register(adapters.NewAlphaVantage(cfg.AlphaVantageAPIKey, deps))
	r.Register(adapters.NewMarketaux(cfg.MarketauxAPIKey, deps))
	r.Register(adapters.NewCompaniesHouse(cfg.CompaniesHouseAPIKey, deps))
	r.Register(adapters.NewWeatherAPI(cfg.WeatherAPIKey, deps))
	r.Register(adapters.NewNOAA(cfg.NOAAToken, deps))

	return r
}

// newScorer picks the stance scorer: the dedicated NLI service when
// configured, otherwise LLM-based scoring over the same probability shape.
func newScorer(cfg config.Config, completer llm.ChatCompleter, logger *slog.Logger) verify.StanceScorer {
	if cfg.NLIServiceURL != "" {
		logger.Info("stance scorer: nli service", "url", cfg.NLIServiceURL, "label_order", cfg.NLILabelOrder)
		return verify.NewNLIService(cfg.NLIServiceURL, cfg.NLILabelOrder, cfg.VerificationTimeout, logger)
	}
	logger.Info("stance scorer: llm")
	return verify.NewLLMScorer(completer, logger)
}
