package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/api"
	"unlocker/internal/config"
	"unlocker/internal/domain"
	"unlocker/internal/identity"
	"unlocker/internal/monitoring"
	"unlocker/internal/resolver"
	"unlocker/internal/session"
	"unlocker/internal/storage"
)

func main() {
	file := flag.String("f", "", "input file containing locked links, one per line")
	link := flag.String("l", "", "individual locked link to resolve")
	serve := flag.Bool("serve", false, "run as a long-lived HTTP service")
	flag.Parse()

	modes := 0
	for _, set := range []bool{*file != "", *link != "", *serve} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of -f, -l or -serve is required")
		flag.Usage()
		os.Exit(2)
	}

	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Optional storage layer
	var pgStore *storage.PostgresStore
	if cfg.PostgresURL != "" {
		pgStore, err = storage.NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pgStore.Close()
	}
	var redisStore *storage.RedisStore
	var cooldowns session.CooldownStore
	if cfg.RedisAddr != "" {
		redisStore = storage.NewRedisStore(cfg.RedisAddr)
		cooldowns = redisStore
		defer redisStore.Close()
	}

	// Core components
	metrics := monitoring.NewMetrics()
	ids := identity.NewManager(cfg.ProxyList())
	limiter := resolver.NewHostLimiter(cfg.HostRate, cfg.HostBurst)
	core := resolver.New(cfg, ids, limiter, cooldowns, metrics, logger)

	var store resolver.ResultStore
	if pgStore != nil {
		store = pgStore
	}
	orchestrator := resolver.NewOrchestrator(cfg, core, store, metrics, logger)
	orchestrator.Start()

	if *serve {
		runServer(cfg, orchestrator, pgStore, redisStore, logger)
		return
	}

	var links []domain.LinkInput
	if *link != "" {
		links = []domain.LinkInput{{URL: *link}}
	} else {
		links, err = readLinksFromFile(*file)
		if err != nil {
			logger.Fatal("could not read links", zap.Error(err))
		}
	}
	if len(links) == 0 {
		logger.Fatal("no links to resolve")
	}

	runBatch(orchestrator, links, logger)
}

// runBatch resolves the links, prints per-link results, and exits non-zero
// if any task failed.
func runBatch(o *resolver.Orchestrator, links []domain.LinkInput, logger *zap.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tasks := o.ResolveAll(ctx, links)
	o.Stop()

	failed := 0
	for _, task := range tasks {
		label := task.Name
		if label == "" {
			label = task.SourceURL
		}
		if task.State == domain.StateResolved {
			fmt.Printf("%s: %s\n", label, task.ResolvedURL)
		} else {
			failed++
			fmt.Printf("%s: FAILED (%s)\n", label, task.ErrorKind)
		}
	}

	logger.Info("batch finished",
		zap.Int("total", len(tasks)),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

// runServer starts the HTTP API and blocks until interrupted.
func runServer(cfg *config.Config, o *resolver.Orchestrator, ps *storage.PostgresStore, rs *storage.RedisStore, logger *zap.Logger) {
	server := api.NewServer(cfg, o, ps, rs, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
