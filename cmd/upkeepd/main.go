package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upkeep-io/upkeep/internal/api"
	"github.com/upkeep-io/upkeep/internal/audit"
	"github.com/upkeep-io/upkeep/internal/authz"
	"github.com/upkeep-io/upkeep/internal/bot"
	"github.com/upkeep-io/upkeep/internal/classify"
	"github.com/upkeep-io/upkeep/internal/config"
	"github.com/upkeep-io/upkeep/internal/connector/telegram"
	"github.com/upkeep-io/upkeep/internal/engine"
	"github.com/upkeep-io/upkeep/internal/export"
	"github.com/upkeep-io/upkeep/internal/logbuf"
	"github.com/upkeep-io/upkeep/internal/registry"
	"github.com/upkeep-io/upkeep/internal/scheduler"
	"github.com/upkeep-io/upkeep/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("upkeepd starting", "groups", len(cfg.Telegram.GroupChats))

	// Ticket store + registry
	os.MkdirAll(cfg.Bot.DataDir, 0o755)
	dbPath := cfg.Bot.DataDir + "/tickets.db"
	st, err := store.NewSQLite(dbPath)
	if err != nil {
		logger.Error("failed to open ticket store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	if fixed, err := st.RebuildSnapshots(); err != nil {
		logger.Warn("snapshot rebuild failed", "error", err)
	} else if fixed > 0 {
		logger.Info("snapshots rebuilt", "fixed", fixed)
	}

	reg := registry.New(logger.With("component", "registry"))
	if err := reg.Load(st); err != nil {
		logger.Error("failed to load registry", "error", err)
		os.Exit(1)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	az := authz.New(cfg.Roles)
	exporter := export.NewService(st)

	// Router and connector reference each other: the router handles
	// inbound events, the connector carries outbound renderings.
	router := bot.New(bot.Config{
		Engine:     nil, // set below, after the connector exists
		Authz:      az,
		Exporter:   exporter,
		GroupChats: cfg.Telegram.GroupChats,
		AuditChat:  cfg.Telegram.AuditChat,
		Logger:     logger.With("component", "router"),
	})

	tgConn, err := telegram.New(
		telegram.Config{Token: cfg.Telegram.Token},
		router.Handle,
		logger.With("connector", "telegram"),
	)
	if err != nil {
		logger.Error("failed to init telegram connector", "error", err)
		os.Exit(1)
	}
	router.Bind(tgConn)

	// Audit sinks
	var sinks audit.Fanout
	if cfg.Telegram.AuditChat != 0 {
		sinks = append(sinks, audit.NewTelegram(tgConn, cfg.Telegram.AuditChat, logger.With("component", "audit")))
	}
	if cfg.Slack != nil {
		sinks = append(sinks, audit.NewSlack(cfg.Slack.BotToken, cfg.Slack.AuditChannel, logger.With("component", "audit")))
	}

	eng := engine.New(engine.Config{
		Registry:   reg,
		Store:      st,
		Authz:      az,
		Classifier: classify.NewKeyword(),
		Surface:    tgConn,
		Audit:      sinks,
		GroupChats: cfg.Telegram.GroupChats,
		Logger:     logger.With("component", "engine"),
	})
	router.SetEngine(eng)

	go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
	logger.Info("telegram connector started")

	// Scheduled export digest
	if cfg.Export.Schedule != "" {
		sched := scheduler.New(logger.With("component", "scheduler"))
		err := sched.AddJob("export-digest", cfg.Export.Schedule, func(jobCtx context.Context) {
			digestJob(jobCtx, exporter, sinks, logger)
		})
		if err != nil {
			logger.Error("failed to schedule export digest", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "scheduler", func() { sched.Start(ctx) })
	}

	// API server
	apiSrv := api.NewServer(st, exporter, api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	tgConn.Stop()
	logger.Info("upkeepd stopped")
}

// digestJob posts the incremental export summary to the audit sinks.
func digestJob(ctx context.Context, exporter *export.Service, sinks audit.Fanout, logger *slog.Logger) {
	_, n, err := exporter.Incremental(time.Now())
	if err != nil {
		logger.Error("export digest failed", "error", err)
		return
	}
	if n == 0 {
		logger.Info("export digest: no updates")
		return
	}
	sinks.Audit(ctx, fmt.Sprintf("📊 <b>Экспорт</b>: %d заявок обновлено с прошлого запуска", n))
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
