package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"gazette/internal/api"
	"gazette/internal/app"
	"gazette/internal/config"
	"gazette/internal/observability"
	"gazette/internal/pipeline"
	"gazette/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{ServiceName: "gazette-api", OTLPEndpoint: cfg.OTLPEndpoint})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	if err == nil {
		err = a.Migrate(startCtx)
	}
	cancel()
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	var dispatch pipeline.IndexDispatcher
	if cfg.IndexMode == config.IndexModeTemporal {
		tc, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			logger.Fatal("dial temporal", zap.Error(err))
		}
		defer tc.Close()
		dispatch = workflows.NewTemporalDispatcher(tc, cfg.TemporalTaskQueue, a.Store, logger.Named("dispatch"))
	}

	srv := api.NewServer(api.Deps{
		Documents:      a.Store,
		Uploads:        a.Ingestor(dispatch),
		Query:          a.Query,
		Tags:           a.Tags,
		DB:             a.DB,
		FilesRoot:      a.Files.Root(),
		FilesPrefix:    cfg.FileURLBase,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger.Named("api"),
	})
	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("gazette api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("index_mode", cfg.IndexMode),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
