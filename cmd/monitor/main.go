// Command monitor is the live monitor feed. It accepts update pings from one or
// more action hosts and pushes the table of recent executions to every open
// dashboard.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	// Embedded zoneinfo so feed.timezone resolves on minimal images.
	_ "time/tzdata"

	"github.com/sakif/actionrunner/internal/config"
	"github.com/sakif/actionrunner/internal/metrics"
	"github.com/sakif/actionrunner/internal/monitor/feed"
	"github.com/sakif/actionrunner/internal/server"
	"github.com/sakif/actionrunner/web"
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

	loc, err := time.LoadLocation(cfg.Feed.Timezone)
	if err != nil {
		server.ExitOnError(logger, "invalid feed timezone", err)
	}

	m := metrics.New()
	hub := feed.NewHub(m, logger)
	defer hub.Close()

	f, err := feed.New(feed.Options{
		Capacity:    cfg.Feed.Capacity,
		Highlighter: feed.NewChromaHighlighter(cfg.Feed.CodeLanguage, cfg.Feed.CodeStyle),
		Location:    loc,
		Broadcaster: hub,
		Metrics:     m,
		Logger:      logger,
	})
	server.ExitOnError(logger, "failed to create feed", err)

	router, err := server.NewMonitorRouter(server.MonitorDeps{
		Feed:      f,
		Hub:       hub,
		Templates: web.Templates(),
		Metrics:   m,
		Logger:    logger,
	})
	server.ExitOnError(logger, "failed to create router", err)

	logger.Info("monitor feed ready",
		slog.Int("capacity", cfg.Feed.Capacity),
		slog.String("timezone", loc.String()),
	)
	if err := server.New("monitor", cfg.Server.MonitorPort, router, logger).Start(); err != nil {
		hub.Close()
		server.ExitOnError(logger, "server error", err)
	}
}
