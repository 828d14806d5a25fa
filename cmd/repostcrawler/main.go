// Package main wires together the re:Post crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repost-crawler/internal/api"
	"github.com/JakeFAU/repost-crawler/internal/clock/system"
	"github.com/JakeFAU/repost-crawler/internal/config"
	"github.com/JakeFAU/repost-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/repost-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/repost-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/repost-crawler/internal/headless/detector"
	"github.com/JakeFAU/repost-crawler/internal/id/uuid"
	"github.com/JakeFAU/repost-crawler/internal/logging"
	"github.com/JakeFAU/repost-crawler/internal/metrics"
	memorypublisher "github.com/JakeFAU/repost-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/repost-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/repost-crawler/internal/scheduler"
	"github.com/JakeFAU/repost-crawler/internal/storage/gcs"
	"github.com/JakeFAU/repost-crawler/internal/storage/local"
	"github.com/JakeFAU/repost-crawler/internal/storage/memory"
	"github.com/JakeFAU/repost-crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runOnce := flag.Bool("once", false, "Run a single crawl and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *runOnce, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, runOnce bool, logger *zap.Logger) error {
	store, err := postgres.New(ctx, postgres.Config{
		DSN:              cfg.DB.DSN,
		MaxConns:         cfg.DB.MaxConns,
		MinConns:         cfg.DB.MinConns,
		MaxConnLifetime:  cfg.ConnLifetime(),
		PreserveLanguage: cfg.Crawler.PreserveLanguage,
	}, logger.Named("postgres"))
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	defer store.Close()

	if cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	blobs, closeBlobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBlobs()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	clock := system.New()
	fetcher, closeFetcher, err := buildFetcher(cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closeFetcher()

	languages := make([]crawler.Language, 0, len(cfg.Crawler.Languages))
	for _, code := range cfg.Crawler.Languages {
		lang, err := crawler.ParseLanguage(code)
		if err != nil {
			return fmt.Errorf("config language: %w", err)
		}
		languages = append(languages, lang)
	}

	engine := crawler.NewEngine(
		fetcher,
		store,
		store,
		blobs,
		publisher,
		clock,
		crawler.EngineConfig{
			Languages:   languages,
			BlobPrefix:  cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
		},
		logger.Named("engine"),
	)

	if runOnce {
		exec, err := engine.Run(ctx)
		if err != nil {
			return fmt.Errorf("crawl (execution %d): %w", exec.ID, err)
		}
		logger.Info("crawl complete", zap.Int64("execution_id", exec.ID))
		return nil
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler.Spec, engine, logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
		logger.Info("scheduler started", zap.String("spec", cfg.Scheduler.Spec))
	}

	idGen := uuid.New()
	server := api.NewServer(store, store, engine.Run, idGen, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Storage.Provider {
	case "gcs":
		store, err := gcs.New(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, noop, fmt.Errorf("init gcs storage: %w", err)
		}
		logger.Info("using gcs snapshot storage", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, func() {
			if cerr := store.Close(); cerr != nil {
				logger.Warn("close gcs storage", zap.Error(cerr))
			}
		}, nil
	case "local":
		store, err := local.New(cfg.Storage.LocalDir)
		if err != nil {
			return nil, noop, fmt.Errorf("init local storage: %w", err)
		}
		logger.Info("using local snapshot storage", zap.String("dir", cfg.Storage.LocalDir))
		return store, noop, nil
	case "memory":
		return memory.NewBlobStore(), noop, nil
	default:
		logger.Info("snapshot storage disabled")
		return nil, noop, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawler.Publisher, func(), error) {
	noop := func() {}
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), noop, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
	if err != nil {
		return nil, noop, fmt.Errorf("init pubsub: %w", err)
	}
	return pub, func() { _ = pub.Close() }, nil
}

func buildFetcher(cfg config.Config, clock crawler.Clock, logger *zap.Logger) (crawler.Fetcher, func(), error) {
	noop := func() {}
	var (
		detect   collyfetcher.Detector
		renderer collyfetcher.Renderer
		closeFn  = noop
	)
	if cfg.Headless.Enabled {
		detect = detector.New(cfg.Headless.MinHTMLBytes, []string{`div[class*="QuestionCard_card"]`})
		r, err := headless.New(headless.Config{
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		}, logger.Named("headless"))
		if err != nil {
			return nil, noop, fmt.Errorf("init headless renderer: %w", err)
		}
		renderer = r
		closeFn = r.Close
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Crawler.BaseURL,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, detect, renderer, clock, logger.Named("fetcher"))
	return fetcher, closeFn, nil
}
