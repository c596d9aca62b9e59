package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/api"
	"gwi.com/wellbeing-companion/internal/auth"
	"gwi.com/wellbeing-companion/internal/chunker"
	"gwi.com/wellbeing-companion/internal/config"
	"gwi.com/wellbeing-companion/internal/core"
	"gwi.com/wellbeing-companion/internal/logger"
	"gwi.com/wellbeing-companion/internal/metrics"
	"gwi.com/wellbeing-companion/internal/store"
	"gwi.com/wellbeing-companion/internal/store/mongo"
)

func main() {
	seedFile := flag.String("seed", "", "Load keywords and content items from a JSON file and exit")
	adminToken := flag.String("admin-token", "", "Print a signed analytics token for the given subject and exit")
	flag.Parse()

	config.LoadConfig()
	cfg := &config.AppConfig

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if *adminToken != "" {
		token, err := auth.GenerateJWT(cfg.AdminJWTSecret, *adminToken, auth.DefaultTTL)
		if err != nil {
			zl.Fatal("failed to sign admin token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		zl.Fatal("failed to initialize store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer st.Close()

	if *seedFile != "" {
		f, err := os.Open(*seedFile)
		if err != nil {
			zl.Fatal("failed to open seed file", zap.String("path", *seedFile), zap.Error(err))
		}
		defer f.Close()
		nk, nc, err := store.Seed(ctx, st, f)
		if err != nil {
			zl.Fatal("seeding failed", zap.Error(err))
		}
		zl.Info("seeding complete", zap.Int("keywords", nk), zap.Int("contents", nc))
		return
	}

	if err := cfg.Validate(); err != nil {
		zl.Fatal("invalid configuration", zap.Error(err))
	}

	llmService, err := core.NewLLMService(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize LLM service", zap.Error(err))
	}
	defer llmService.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	splitter := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, cfg.EmbedMaxBytes)
	gateway := core.NewEmbeddingGateway(llmService.Embed, splitter.MaxBytes(), zl)
	retriever := core.NewRetriever(gateway, splitter, float64(cfg.EmbedRatePerSec), zl)

	prompts, err := core.LoadPromptAssembler(cfg.PromptTemplatePath)
	if err != nil {
		zl.Fatal("failed to load prompt template", zap.String("path", cfg.PromptTemplatePath), zap.Error(err))
	}

	lexicon := core.LoadLexicon(cfg.SensitiveWordsPath, zl)
	catalog := core.NewKeywordCatalog(st, cfg.KeywordCacheTTL)
	tracker := core.NewTracker(st, cfg.TrackingTimeout, zl, m)
	analyzer := core.NewAnalyzer(lexicon, catalog, tracker, zl, m)

	chatService := core.NewChatService(core.ChatDeps{
		History:           st,
		Retriever:         retriever,
		Prompts:           prompts,
		Generator:         llmService,
		Analyzer:          analyzer,
		Tracker:           tracker,
		TopK:              cfg.RetrievalTopK,
		GenerationTimeout: cfg.GenerationTimeout,
		Logger:            zl,
		Metrics:           m,
	})

	apiHandler := api.NewAPIHandler(api.Services{
		Chat:           chatService,
		Recommendation: core.NewRecommendationService(st, core.DefaultRecommendationLimit, zl),
		Translation:    core.NewTranslationService(llmService, zl),
		Analytics:      core.NewAnalyticsService(st),
		Keywords:       catalog,
		Profiles:       st,
	}, cfg.AdminJWTSecret, zl)
	router := api.NewRouter(apiHandler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), zl)

	// The corpus is embedded in the background; /chat answers 503 until ready.
	buildCtx, cancelBuild := context.WithCancel(ctx)
	defer cancelBuild()
	go func() {
		if _, err := retriever.BuildFromFile(buildCtx, cfg.DataPath); err != nil {
			zl.Error("retriever build failed", zap.Error(err))
		}
	}()

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zl.Info("starting server", zap.String("addr", serverAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server")
	cancelBuild()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	if err := tracker.Wait(shutdownCtx); err != nil {
		zl.Warn("tracking jobs still running at exit", zap.Error(err))
	}
	zl.Info("server exiting")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "", "sqlite":
		s, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		s, err := mongo.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
