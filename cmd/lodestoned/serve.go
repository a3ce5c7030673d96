package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/api"
	blobgcs "github.com/lodestone-search/lodestone/internal/blob/gcs"
	bloblocal "github.com/lodestone-search/lodestone/internal/blob/local"
	blobmem "github.com/lodestone-search/lodestone/internal/blob/memory"
	"github.com/lodestone-search/lodestone/internal/clock/system"
	"github.com/lodestone-search/lodestone/internal/config"
	storemem "github.com/lodestone-search/lodestone/internal/docstore/memory"
	storepg "github.com/lodestone-search/lodestone/internal/docstore/postgres"
	storesqlite "github.com/lodestone-search/lodestone/internal/docstore/sqlite"
	"github.com/lodestone-search/lodestone/internal/embedder/hashing"
	"github.com/lodestone-search/lodestone/internal/embedder/ollama"
	"github.com/lodestone-search/lodestone/internal/engine"
	eventsmem "github.com/lodestone-search/lodestone/internal/events/memory"
	eventspubsub "github.com/lodestone-search/lodestone/internal/events/pubsub"
	"github.com/lodestone-search/lodestone/internal/extractor"
	collyfetcher "github.com/lodestone-search/lodestone/internal/fetcher/colly"
	"github.com/lodestone-search/lodestone/internal/fetcher/headless"
	"github.com/lodestone-search/lodestone/internal/frontier"
	"github.com/lodestone-search/lodestone/internal/hash/sha256"
	"github.com/lodestone-search/lodestone/internal/index/lexical"
	"github.com/lodestone-search/lodestone/internal/index/vector"
	"github.com/lodestone-search/lodestone/internal/logging"
	"github.com/lodestone-search/lodestone/internal/pipeline"
	"github.com/lodestone-search/lodestone/internal/query"
)

const shutdownGrace = 15 * time.Second

// serve wires every subsystem from config and blocks until the context is
// canceled, then drains workers and flushes index snapshots.
func serve(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var closers []func()

	store, err := buildStore(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	lexPath, vecPath := indexPaths(cfg)
	lexIndex := lexical.New(lexPath)
	vecIndex := vector.New(cfg.Index.VectorDimension, vecPath)
	if lexPath != "" {
		if err := lexIndex.Load(); err != nil {
			return fmt.Errorf("load lexical snapshot: %w", err)
		}
		if err := vecIndex.Load(); err != nil {
			return fmt.Errorf("load vector snapshot: %w", err)
		}
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	blobStore, err := buildBlobStore(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(ctx, cfg, &closers, logger)
	if err != nil {
		return err
	}

	front := frontier.New(frontier.Options{
		QueueDepth:   cfg.Crawler.QueueDepth,
		PerHostRPS:   cfg.Crawler.PerHostRPS,
		PerHostBurst: cfg.Crawler.PerHostMax,
		Freshness:    cfg.FreshnessWindow(),
		MaxDepth:     cfg.Crawler.MaxDepth,
		Lenses:       buildLenses(cfg),
	}, logger.Named("frontier"))

	clock := system.New()
	indexer := pipeline.NewIndexer(store, lexIndex, vecIndex, embedder,
		publisher, clock, cfg.Events.Topic, logger.Named("indexer"))

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Extract.MaxBodyBytes,
	})

	var headlessFetcher engine.Fetcher
	var detector engine.HeadlessDetector
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("start headless fetcher: %w", err)
		}
		closers = append(closers, hf.Close)
		headlessFetcher = hf
		detector = headless.NewDetector(cfg.Headless.PromotionThresh)
	}

	extract := extractor.New(extractor.Options{
		PdfToTextPath:  cfg.Extract.PdfToTextPath,
		TimeoutSeconds: cfg.Extract.TimeoutSeconds,
		MaxBodyBytes:   cfg.Extract.MaxBodyBytes,
	}, logger.Named("extractor"))

	policy := frontier.NewRetryPolicy(cfg.Crawler.MaxRetries,
		time.Duration(cfg.Crawler.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Crawler.BackoffMaxMs)*time.Millisecond)

	workers := make([]*pipeline.Worker, cfg.Crawler.Concurrency)
	for i := range workers {
		workers[i] = pipeline.NewWorker(front, probe, headlessFetcher, detector,
			extract, blobStore, sha256.New(), clock, indexer, policy,
			pipeline.Config{
				RespectRobots: cfg.Crawler.RespectRobots,
				BlobPrefix:    cfg.Blob.Prefix,
			}, logger.Named("worker"))
	}
	dispatcher := pipeline.NewDispatcher(workers)

	executor := query.New(store, lexIndex, vecIndex, embedder, query.Options{
		Weights: query.Weights{
			Lexical:           cfg.Search.LexicalWeight,
			Semantic:          cfg.Search.SemanticWeight,
			SemanticThreshold: cfg.Search.SemanticThreshold,
		},
		DefaultLimit: cfg.Search.DefaultLimit,
		TopK:         cfg.Search.TopK,
	}, logger.Named("query"))

	server := api.NewServer(front, indexer, executor, store, api.Options{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger.Named("api"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		dispatcher.Run(ctx)
	}()

	if window := cfg.FreshnessWindow(); window > 0 {
		recrawler := pipeline.NewRecrawler(store, front, clock, 0, window,
			logger.Named("recrawler"))
		go recrawler.Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	front.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not drain in time")
	}

	if lexPath != "" {
		if err := indexer.Save(); err != nil {
			logger.Error("save index snapshots", zap.Error(err))
		}
	}
	for _, closeFn := range closers {
		closeFn()
	}
	logger.Info("stopped")
	return nil
}

func indexPaths(cfg config.Config) (string, string) {
	if cfg.Index.Dir == "" {
		return "", ""
	}
	return filepath.Join(cfg.Index.Dir, "lexical.idx"),
		filepath.Join(cfg.Index.Dir, "vector.idx")
}

func buildStore(ctx context.Context, cfg config.Config, closers *[]func()) (engine.DocumentStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return storemem.New(), nil
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "lodestone.db"
		}
		store, err := storesqlite.Open(ctx, path, cfg.Store.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		*closers = append(*closers, func() { store.Close() }) //nolint:errcheck
		return store, nil
	case "postgres":
		store, err := storepg.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		*closers = append(*closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildEmbedder(cfg config.Config) (engine.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "hash":
		return hashing.New(cfg.Index.VectorDimension), nil
	case "ollama":
		return ollama.New(cfg.Embedding.BaseURL, cfg.Embedding.Model,
			cfg.Index.VectorDimension,
			time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config, closers *[]func()) (engine.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "memory":
		return blobmem.New(), nil
	case "local":
		dir := cfg.Blob.BaseDir
		if dir == "" {
			dir = "blobs"
		}
		return bloblocal.New(dir)
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		*closers = append(*closers, func() { client.Close() }) //nolint:errcheck
		return blobgcs.New(client, cfg.Blob.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, closers *[]func(), logger *zap.Logger) (engine.Publisher, error) {
	switch cfg.Events.Backend {
	case "memory":
		return eventsmem.New(), nil
	case "pubsub":
		pub, err := eventspubsub.New(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		*closers = append(*closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		})
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

func buildLenses(cfg config.Config) []frontier.Lens {
	lenses := make([]frontier.Lens, 0, len(cfg.Lenses))
	for _, lc := range cfg.Lenses {
		lens := frontier.Lens{
			Name:          lc.Name,
			AllowHosts:    lc.AllowHosts,
			AllowPrefixes: lc.AllowPrefixes,
			DenyPrefixes:  lc.DenyPrefixes,
		}
		for label, value := range lc.Tags {
			lens.Tags = append(lens.Tags, engine.Tag{Label: label, Value: value})
		}
		lenses = append(lenses, lens)
	}
	return lenses
}
