package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"wb-price-watcher/internal/bot"
	"wb-price-watcher/internal/config"
	"wb-price-watcher/internal/engine"
	"wb-price-watcher/internal/notify"
	"wb-price-watcher/internal/source"
	"wb-price-watcher/internal/store"
	"wb-price-watcher/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler, the Telegram bot, and the ops server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store.
	var st store.Store
	switch cfg.Database.Driver {
	case "memory":
		st = store.NewMemoryStore()
		log.Warn("using in-memory store, tracked items will not survive a restart")
	default:
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pg.Close()
		st = pg
	}

	// Price source.
	src := source.NewCardClient(
		source.WithBaseURL(cfg.Source.BaseURL),
		source.WithHTTPClient(&http.Client{Timeout: cfg.Source.Timeout}),
		source.WithRateLimit(cfg.Source.RateLimit.PerSecond, cfg.Source.RateLimit.Burst),
		source.WithMaxBatchSize(cfg.Source.MaxBatchSize),
		source.WithLogger(log),
	)

	// Notification sender and bot API. An empty token runs the service in
	// dry mode: messages are logged and the command front end is off.
	var (
		sender notify.Sender
		api    *tgbotapi.BotAPI
	)
	if cfg.Telegram.Token != "" {
		api, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("creating telegram bot: %w", err)
		}
		log.Info("telegram bot authorized", "username", api.Self.UserName)
		sender = notify.NewTelegramSender(api, notify.WithTelegramLogger(log))
	} else {
		log.Warn("no telegram token configured, running in dry mode")
		sender = notify.NewNoopSender(log)
	}

	eng := engine.New(st, src, sender,
		engine.WithLogger(log),
		engine.WithNotifyMode(engine.NotifyMode(cfg.Behavior.NotifyMode)),
		engine.WithVariantTracking(cfg.Behavior.VariantTracking == "enabled"),
		engine.WithBatchConcurrency(cfg.Engine.BatchConcurrency),
		engine.WithDispatchConcurrency(cfg.Engine.DispatchConcurrency),
		engine.WithFetchTimeout(cfg.Engine.FetchTimeout),
		engine.WithDispatchTimeout(cfg.Engine.DispatchTimeout),
		engine.WithTickTimeout(cfg.Engine.TickTimeout),
	)

	sched, err := engine.NewScheduler(eng, cfg.Schedule.CronSpec(), log)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	sched.Start()
	log.Info("scheduler started", "spec", cfg.Schedule.CronSpec())

	if api != nil {
		b := bot.New(api, st, src,
			bot.WithLogger(log),
			bot.WithVariantTracking(cfg.Behavior.VariantTracking == "enabled"),
		)
		go func() {
			if err := b.Run(ctx); err != nil {
				log.Error("bot update loop failed", "error", err)
			}
		}()
	}

	// Ops server: health, readiness, metrics.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := st.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("starting ops server", "addr", addr)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	// Let a tick in flight finish before closing the store.
	select {
	case <-sched.Stop().Done():
	case <-time.After(30 * time.Second):
		log.Warn("timed out waiting for running tick")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down ops server: %w", err)
	}

	log.Info("stopped")
	return nil
}
