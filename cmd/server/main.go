// Command server is the action host: it runs code snippets, publishes the
// files they produce and reports each run to the monitor feed.
//
// STARTUP ORDER:
//  1. Load configuration (defaults → config file → .env → environment)
//  2. Build the logger
//  3. Load capabilities and pick the execution engine
//  4. Wire translator → publisher → notifier → service
//  5. Serve until SIGINT/SIGTERM
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/actionrunner/internal/capability"
	"github.com/sakif/actionrunner/internal/config"
	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/executor/docker"
	"github.com/sakif/actionrunner/internal/executor/goja"
	"github.com/sakif/actionrunner/internal/metrics"
	"github.com/sakif/actionrunner/internal/monitor"
	"github.com/sakif/actionrunner/internal/publish"
	"github.com/sakif/actionrunner/internal/server"
	"github.com/sakif/actionrunner/internal/service"
	"github.com/sakif/actionrunner/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.PublicDir, 0o755); err != nil {
		server.ExitOnError(logger, "failed to create public directory", err)
	}

	m := metrics.New()
	registry := capability.Load(cfg.Capabilities.Modules, cfg.Capabilities.Files, cfg.Storage.ScratchRoot, logger)

	exec, closeExec, err := newExecutor(cfg, registry, m, logger)
	server.ExitOnError(logger, "failed to start execution engine", err)
	defer closeExec()

	notifier := monitor.New(monitor.Config{
		BaseURL:        cfg.Monitor.URL,
		QueueSize:      cfg.Monitor.QueueSize,
		Workers:        cfg.Monitor.Workers,
		RequestTimeout: cfg.Monitor.RequestTimeout,
	}, m, logger)
	if n, ok := notifier.(*monitor.HTTPNotifier); ok {
		defer n.Close()
	} else {
		logger.Warn("monitor.url not set, executions will not be reported")
	}

	translator := storage.NewTranslator(cfg.Storage.ScratchRoot, cfg.Storage.PublicDir, cfg.Storage.URLPrefix)
	svc := service.NewActionService(exec, publish.New(translator, logger), notifier, m, logger)

	router := server.NewActionRouter(server.ActionDeps{
		Service:    svc,
		Translator: translator,
		Metrics:    m,
		Logger:     logger,
	})

	srv := server.New("actions", cfg.Server.Port, router, logger)
	if cfg.Execution.Timeout > 0 {
		srv.WriteTimeout = cfg.Execution.Timeout + srv.WriteTimeout
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		closeExec()
		os.Exit(1)
	}
}

// newExecutor builds the configured engine. When docker is selected but the
// daemon cannot be reached, startup fails unless execution.fallback names the
// javascript engine.
func newExecutor(cfg *config.Config, registry *capability.Registry, m *metrics.Metrics, logger *slog.Logger) (executor.Executor, func(), error) {
	if cfg.Execution.Engine == "goja" {
		logger.Info("using javascript engine")
		return goja.New(registry, cfg.Execution.Timeout, logger), func() {}, nil
	}

	dcfg := docker.Config{
		Image:       cfg.Execution.Docker.Image,
		MemoryLimit: cfg.Execution.Docker.MemoryLimit,
		CPULimit:    cfg.Execution.Docker.CPULimit,
		Timeout:     cfg.Execution.Timeout,
		PoolSize:    cfg.Execution.Docker.PoolSize,
		User:        cfg.Execution.Docker.User,
		ScratchRoot: cfg.Storage.ScratchRoot,
	}
	dexec, err := docker.New(dcfg, registry, logger)
	if err != nil {
		if cfg.Execution.Fallback != "goja" {
			return nil, nil, fmt.Errorf("docker engine: %w", err)
		}
		logger.Warn("docker engine unavailable, falling back to javascript engine",
			slog.String("error", err.Error()),
		)
		return goja.New(registry, cfg.Execution.Timeout, logger), func() {}, nil
	}

	m.WatchIdleContainers(dexec.IdleContainers)
	logger.Info("using docker engine", slog.String("image", dcfg.Image), slog.Int("pool", dcfg.PoolSize))
	return dexec, func() {
		if err := dexec.Close(); err != nil {
			logger.Warn("closing docker engine", slog.String("error", err.Error()))
		}
	}, nil
}
