package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/metrics"
	"crosspost/infrastructure/scheduler"
	httpHandler "crosspost/interfaces/http"
	"crosspost/server"
	"crosspost/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	if err := run(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application stopped with an error")
		os.Exit(2)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load env from files (non-destructive; OS env still has precedence)
	if loaded := configuration.LoadEnvFromFile("config.env", ".env"); len(loaded) > 0 {
		logger.GetLogger().WithField("files", loaded).Info("Loaded env files")
		configuration.Reload()
	}
	cfg := configuration.C
	mode := cfg.App.Mode
	if mode == "token" {
		return issueToken(os.Stdout, cfg.App, os.Getenv("TOKEN_SUBJECT"), os.Getenv("TOKEN_TTL_HOURS"))
	}
	serveAPI := mode == "api" || mode == "all"
	runWorker := mode == "worker" || mode == "all"
	if !serveAPI && !runWorker {
		return fmt.Errorf("unknown APP_MODE %q", mode)
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"mode":    mode,
		"records": cfg.Records.Backend,
		"queue":   cfg.Queue.Backend,
	}).Info("Starting crosspost")

	checks := make(map[string]httpHandler.Check)

	store, err := InitiateRecordStore(ctx, cfg, checks)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	queue, err := InitiateQueue(ctx, cfg, checks)
	if err != nil {
		return fmt.Errorf("work queue: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Close(closeCtx); err != nil {
			logger.GetLogger().WithField("error", err).Warn("Closing work queue failed")
		}
	}()
	tokenDB, tokens, err := InitiateTokenStore(cfg, checks)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	defer tokenDB.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewPrometheus("crosspost", registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	opts := []usecase.Option{usecase.WithObserver(observer)}

	publishers, connectors := InitiatePublishers(cfg, tokens)

	g, ctx := errgroup.WithContext(ctx)

	if runWorker {
		worker := usecase.NewWorker(store, queue, publishers, usecase.WorkerConfig{
			Concurrency:       cfg.Worker.Concurrency,
			PublishTimeout:    cfg.Worker.PublishTimeout(),
			PollWait:          cfg.Worker.PollWait(),
			VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		}, opts...)
		maintenance := usecase.NewMaintenanceUsecase(store, queue, InitiateDeadLetterArchive(cfg), opts...)
		janitor, err := scheduler.NewJanitor(
			scheduler.Job{
				Name:     "purge-expired",
				Schedule: cfg.Janitor.PurgeSchedule,
				Run: func(ctx context.Context) error {
					_, err := maintenance.PurgeExpired(ctx)
					return err
				},
			},
			scheduler.Job{
				Name:     "archive-dead-letters",
				Schedule: cfg.Janitor.DeadLetterSchedule,
				Run: func(ctx context.Context) error {
					_, err := maintenance.ArchiveDeadLetters(ctx, cfg.Janitor.DeadLetterBatch)
					return err
				},
			},
		)
		if err != nil {
			return fmt.Errorf("janitor: %w", err)
		}
		g.Go(func() error { return worker.Run(ctx) })
		g.Go(func() error { return janitor.Run(ctx) })
	}

	if serveAPI {
		dispatch := usecase.NewDispatchUsecase(store, queue, publishers, usecase.NewTokenAuthorizer(tokens), cfg.Records.Retention(), opts...)
		var accountHandler httpHandler.IAccountHandler
		if len(connectors) > 0 {
			accountHandler = httpHandler.NewAccountHandler(tokens, connectors...)
		}
		router := server.InitiateRouter(server.RouterConfig{
			SecretKey:      cfg.App.SecretKey,
			AllowedOrigins: cfg.App.AllowedOrigins,
			Gatherer:       registry,
		},
			httpHandler.NewHealthHandler(checks),
			httpHandler.NewPostHandler(dispatch, usecase.NewPostQueryUsecase(store)),
			accountHandler,
		)
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.App.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(httpServer, cfg.App) })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.GetLogger().Info("Application shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serve(httpServer *http.Server, app configuration.App) error {
	log := logger.GetLogger().WithFields(map[string]interface{}{"port": app.Port, "tls": app.TLSEnabled})
	var err error
	switch {
	case app.TLSEnabled && (app.TLSCertFile == "" || app.TLSKeyFile == ""):
		log.Error("TLS enabled but cert or key path empty; falling back to HTTP")
		err = httpServer.ListenAndServe()
	case app.TLSEnabled:
		log.WithFields(map[string]interface{}{"cert": app.TLSCertFile, "key": app.TLSKeyFile}).Info("Serving HTTPS")
		err = httpServer.ListenAndServeTLS(app.TLSCertFile, app.TLSKeyFile)
	default:
		log.Info("Serving HTTP")
		err = httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
