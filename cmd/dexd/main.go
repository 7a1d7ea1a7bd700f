package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/api"
	"github.com/uhyunpark/hyperdex/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/metrics"
	"github.com/uhyunpark/hyperdex/pkg/notify"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus file when LOG_FILE is set)
	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Log.Level, "log_file", cfg.Log.File)

	// ---- Storage ----
	var store storage.Store = storage.NewInMemoryStore()
	if cfg.Storage.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Storage.DataDir)
		if err != nil {
			sugar.Fatalw("store_open_failed", "dir", cfg.Storage.DataDir, "err", err)
		}
		store = ps
	}

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.JournalFile)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "file", cfg.Storage.JournalFile, "err", err)
		}
		journal = fj
	}

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Fill delivery: WebSocket hub, plus Kafka when brokers are set ----
	hub := api.NewHub(logger)
	publishers := notify.Multi{hub}
	var kafkaPub *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kafkaPub)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- App: order matching exchange ----
	assets, err := cfg.Market.RegistryAssets()
	if err != nil {
		sugar.Fatalw("invalid_assets", "err", err)
	}
	vault := custody.NewVault()
	app, err := dex.Open(dex.Config{
		Custody:   vault,
		Store:     store,
		Journal:   journal,
		Publisher: publishers,
		Metrics:   m,
		Logger:    logger,
		Assets:    assets,
	})
	if err != nil {
		sugar.Fatalw("app_open_failed", "err", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			sugar.Warnw("app_close_failed", "err", err)
		}
		if kafkaPub != nil {
			if err := kafkaPub.Close(); err != nil {
				sugar.Warnw("kafka_close_failed", "err", err)
			}
		}
	}()

	// The vault lives in memory: back recovered balances so they stay withdrawable
	holdings, err := app.Holdings()
	if err != nil {
		sugar.Fatalw("custody_restore_failed", "err", err)
	}
	for ticker, total := range holdings {
		a, err := app.ResolveAsset(ticker)
		if err != nil {
			continue
		}
		if err := vault.SetHeld(a.Token, total); err != nil {
			sugar.Warnw("custody_restore_failed", "ticker", ticker.String(), "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	opts := []api.Option{api.WithGatherer(reg), api.WithCORSOrigins(cfg.API.CORSOrigins)}
	if cfg.Market.FaucetAmount > 0 {
		opts = append(opts, api.WithFaucet(vault, cfg.Market.FaucetAmount))
	}
	apiServer := api.NewServer(app, hub, logger, opts...)

	sugar.Infow("node_starting",
		"assets", len(app.ListAssets()),
		"quote", cfg.Market.QuoteTicker,
		"data_dir", cfg.Storage.DataDir,
		"faucet", cfg.Market.FaucetAmount > 0,
	)

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}
