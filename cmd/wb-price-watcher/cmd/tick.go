package cmd

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/spf13/cobra"

	"wb-price-watcher/internal/config"
	"wb-price-watcher/internal/engine"
	"wb-price-watcher/internal/notify"
	"wb-price-watcher/internal/source"
	"wb-price-watcher/internal/store"
	"wb-price-watcher/pkg/logger"
)

var tickDryRun bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single reconciliation pass and exit",
	RunE:  runTick,
}

func init() {
	tickCmd.Flags().BoolVar(&tickDryRun, "dry-run", false,
		"log notifications instead of sending them; pending changes are kept")
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var st store.Store
	switch cfg.Database.Driver {
	case "memory":
		st = store.NewMemoryStore()
	default:
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pg.Close()
		st = pg
	}

	src := source.NewCardClient(
		source.WithBaseURL(cfg.Source.BaseURL),
		source.WithHTTPClient(&http.Client{Timeout: cfg.Source.Timeout}),
		source.WithRateLimit(cfg.Source.RateLimit.PerSecond, cfg.Source.RateLimit.Burst),
		source.WithMaxBatchSize(cfg.Source.MaxBatchSize),
		source.WithLogger(log),
	)

	var sender notify.Sender
	if tickDryRun || cfg.Telegram.Token == "" {
		sender = notify.NewNoopSender(log)
	} else {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("creating telegram bot: %w", err)
		}
		sender = notify.NewTelegramSender(api, notify.WithTelegramLogger(log))
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

	if err := eng.Tick(ctx); err != nil {
		return fmt.Errorf("running tick: %w", err)
	}

	log.Info("tick finished")
	return nil
}
