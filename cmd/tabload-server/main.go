// Package main provides the tabload ingestion server: the trigger API, the
// job queue, and the worker pool.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/catalogd/tabload/internal/catalog"
	"github.com/catalogd/tabload/internal/config"
	"github.com/catalogd/tabload/internal/datastore"
	"github.com/catalogd/tabload/internal/detect"
	"github.com/catalogd/tabload/internal/fetch"
	"github.com/catalogd/tabload/internal/jobstore"
	"github.com/catalogd/tabload/internal/loader"
	"github.com/catalogd/tabload/internal/pipeline"
	"github.com/catalogd/tabload/internal/server"
)

func main() {
	wipeJobs := flag.Bool("wipe", false, "wipe all job data on startup (testing only)")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(log)

	log.Info("starting tabload-server", "port", cfg.ListenPort, "workers", cfg.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := jobstore.NewClient(ctx, jobstore.Config{
		URL:       cfg.JobStoreURL,
		Namespace: cfg.JobStoreNamespace,
		Database:  cfg.JobStoreDatabase,
		Username:  cfg.JobStoreUser,
		Password:  cfg.JobStorePass,
		AuthLevel: cfg.JobStoreAuthLevel,
	}, log)
	if err != nil {
		cancel()
		log.Error("failed to connect to job store", "error", err)
		os.Exit(1)
	}
	if err := store.InitSchema(ctx); err != nil {
		cancel()
		log.Error("failed to initialize job store schema", "error", err)
		os.Exit(1)
	}
	if *wipeJobs {
		if err := store.WipeData(ctx); err != nil {
			cancel()
			log.Error("failed to wipe job store", "error", err)
			os.Exit(1)
		}
	}

	engine, err := datastore.New(ctx, cfg.DatastoreURL, log)
	cancel()
	if err != nil {
		log.Error("failed to connect to datastore", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	defer store.Close(context.Background())

	fetcher, err := fetch.New(fetch.Options{
		MaxContentLength:   cfg.MaxContentLength,
		MaxExcerptLines:    cfg.MaxExcerptLines,
		MaxExcerptBytes:    cfg.MaxExcerptBytes,
		Timeout:            cfg.DownloadTimeout,
		StillProcessingMax: cfg.StillProcessingMax,
		ProxyURL:           cfg.DownloadProxy,
		SSLVerify:          cfg.SSLVerify,
	}, log)
	if err != nil {
		log.Error("failed to create fetcher", "error", err)
		os.Exit(1)
	}

	policy := detect.TimestampPolicy{DayFirst: cfg.DateDayFirst, YearFirst: cfg.DateYearFirst}
	cat := catalog.NewClient(cfg.CatalogURL, cfg.CatalogAPIKey, log)
	ldr := loader.New(engine, cfg.BatchSize, policy, log)
	queue := pipeline.NewQueue(cfg.QueueDepth)

	orchestrator := pipeline.NewOrchestrator(
		queue, store, cat, catalog.NewNotifier(log), fetcher, ldr, engine,
		pipeline.Options{
			Workers:            cfg.Workers,
			JobTimeout:         cfg.JobTimeout,
			JobTimeoutRefresh:  cfg.JobTimeoutRefresh,
			MaxRetries:         cfg.MaxRetries,
			MaxTypeGuessLength: cfg.MaxTypeGuessLength,
			ForceTypeCast:      cfg.ForceTypeCast,
			Policy:             policy,
		}, log)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator.Start(rootCtx)

	srv := server.New(store, cat, queue, server.Options{
		StillbornThreshold: cfg.StillbornThreshold,
		StaleThreshold:     cfg.StaleThreshold,
		CallbackURL:        cfg.CallbackURL + "/hook",
	}, log)

	if err := srv.Run(rootCtx, cfg.ListenPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("tabload-server stopped")
}
