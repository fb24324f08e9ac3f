package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flatwatch/flatwatch/config"
	"github.com/flatwatch/flatwatch/extract"
	"github.com/flatwatch/flatwatch/fetch"
	"github.com/flatwatch/flatwatch/reconcile"
	"github.com/flatwatch/flatwatch/scheduler"
	"github.com/flatwatch/flatwatch/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()

	urlsDefault := ""
	if value, ok := config.EnvString("FLATWATCH_URLS"); ok {
		urlsDefault = value
	}
	dsnDefault := ""
	if value, ok := config.EnvString("FLATWATCH_DB_DSN"); ok {
		dsnDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("FLATWATCH_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	intervalDefault := int(defaultCfg.Interval / time.Hour)
	if value, ok, err := config.EnvInt("FLATWATCH_INTERVAL_HOURS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid FLATWATCH_INTERVAL_HOURS: %v\n", err)
		os.Exit(1)
	} else if ok {
		intervalDefault = value
	}

	urls := flag.String("urls", urlsDefault, "Comma-separated listing URLs to track")
	intervalHours := flag.Int("interval", intervalDefault, "Re-scrape interval in hours")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between requests (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Fetch timeout (seconds)")
	dbDSN := flag.String("db-dsn", dsnDefault, "Postgres DSN")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	userAgent := flag.String("user-agent", defaultCfg.UserAgent, "HTTP User-Agent header")
	respectRobots := flag.Bool("respect-robots", defaultCfg.RespectRobotsTxt, "Respect robots.txt directives")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.URLs = config.SplitURLs(*urls)
	cfg.Interval = time.Duration(*intervalHours) * time.Hour
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	cfg.DatabaseDSN = *dbDSN
	cfg.MetricsAddr = *metricsAddr
	cfg.UserAgent = *userAgent
	cfg.RespectRobotsTxt = *respectRobots
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	for _, u := range cfg.URLs {
		if _, err := extract.ForURL(u); err != nil {
			slog.Error("unsupported listing URL", slog.Any("error", err))
			os.Exit(1)
		}
	}

	slog.Info("starting tracker",
		slog.Int("urls", len(cfg.URLs)),
		slog.Duration("interval", cfg.Interval),
		slog.Duration("delay", cfg.Delay),
	)

	// A store that cannot be reached must fail the process here, not
	// silently no-op forever inside the loop.
	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		slog.Error("store initialisation failed", slog.Any("error", err))
		os.Exit(1)
	}

	engine := reconcile.New(st,
		reconcile.WithNotifier(reconcile.LogNotifier{Logger: logger}),
		reconcile.WithLogger(logger),
	)
	fetcher := fetch.New(cfg.UserAgent, cfg.Timeout, cfg.RespectRobotsTxt)
	sched := scheduler.New(cfg, fetcher, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight work")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(sched.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scrape loop failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	slog.Info("shutdown complete")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
