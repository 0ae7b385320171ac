package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"optionflow/config"
	"optionflow/internal/aggregator"
	"optionflow/internal/archive"
	"optionflow/internal/channel"
	"optionflow/internal/expiry"
	"optionflow/internal/feed"
	"optionflow/internal/fetcher"
	"optionflow/internal/ratelimit"
	"optionflow/internal/session"
	"optionflow/internal/store"
	"optionflow/internal/symbols"
	"optionflow/logger"
	"optionflow/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Optionflow.Name,
		"version": cfg.Optionflow.Version,
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.QuestDB, cfg.Channels.RowBuffer)
	if err != nil {
		log.WithError(err).Error("failed to connect to questdb")
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("failed to apply schema")
		os.Exit(1)
	}
	if err := db.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start store writer")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels.TickBuffer)
	channels.StartMetricsReporting(ctx)

	agg, err := aggregator.New(cfg.Aggregator.Timeframes, cfg.Aggregator.HistoryLimit, channels, db)
	if err != nil {
		log.WithError(err).Error("failed to build aggregator")
		os.Exit(1)
	}
	if err := agg.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start aggregator")
		os.Exit(1)
	}

	clock, err := session.NewClock(cfg.Market.Timezone, cfg.Market.SessionOpen, cfg.Market.SessionClose)
	if err != nil {
		log.WithError(err).Error("failed to build session clock")
		os.Exit(1)
	}

	rest := feed.NewRESTClient(cfg.Feed.REST.Host, cfg.Feed.APIKey, cfg.Feed.REST.Timeout)
	resolver := symbols.NewResolver(cfg.Market)
	expiryCache := expiry.NewCache(rest, cfg.Fetcher.ExpiryTTL)
	limiter := ratelimit.NewLimiter(cfg.Fetcher.RateLimit.RequestsPerSecond, cfg.Fetcher.RateLimit.BurstSize)

	var exporter *archive.Exporter
	var fetchStore fetcher.Store = db
	if cfg.Archive.Enabled {
		exporter, err = archive.NewExporter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to build archive exporter")
			os.Exit(1)
		}
		if err := exporter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive exporter")
			os.Exit(1)
		}
		fetchStore = archivingStore{Store: db, exporter: exporter}
	} else {
		log.WithComponent("main").Info("archive disabled; skipping S3 exporter")
	}

	oiFetcher := fetcher.New(cfg, rest, expiryCache, resolver, limiter, clock, fetchStore)

	wsClient := feed.NewWSClient(cfg, channels)
	subscribeWatched(cfg, wsClient, log)
	if err := wsClient.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start websocket client")
		os.Exit(1)
	}

	startWatched(ctx, cfg, oiFetcher, log)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	done := make(chan struct{})
	go func() {
		// Let in-flight OI cycles finish before the shared context is
		// cancelled, so no ladder is written partially.
		oiFetcher.StopAll()
		cancel()
		wsClient.Stop()
		agg.Stop()
		channels.Close()
		if exporter != nil {
			exporter.Stop()
		}
		db.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("optionflow stopped")
}

// subscribeWatched registers the configured underlyings on every
// enabled stream before the first connect.
func subscribeWatched(cfg *config.Config, ws *feed.WSClient, log *logger.Log) {
	instruments := make([]feed.Instrument, 0, len(cfg.Fetcher.Watch))
	for _, symbol := range cfg.Fetcher.Watch {
		instruments = append(instruments, feed.Instrument{Exchange: cfg.Feed.Exchange, Symbol: symbol})
	}
	if len(instruments) == 0 {
		log.WithComponent("main").Info("no watched symbols configured; tick stream idle")
		return
	}

	if cfg.Feed.Streams.LTP {
		ws.Subscribe("ltp", instruments)
	}
	if cfg.Feed.Streams.Quote {
		ws.Subscribe("quote", instruments)
	}
	if cfg.Feed.Streams.Depth {
		ws.Subscribe("depth", instruments)
	}
}

// startWatched launches periodic OI tracking for each watched symbol on
// its nearest eligible expiry.
func startWatched(ctx context.Context, cfg *config.Config, f *fetcher.Fetcher, log *logger.Log) {
	for _, symbol := range cfg.Fetcher.Watch {
		expiryDate, err := f.NearestExpiry(ctx, symbol)
		if err != nil {
			log.WithComponent("main").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Error("failed to resolve expiry, skipping symbol")
			continue
		}
		if err := f.StartPeriodic(ctx, symbol, expiryDate, cfg.Fetcher.Interval); err != nil {
			log.WithComponent("main").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
				"expiry": expiryDate,
			}).Error("failed to start periodic fetch")
		}
	}
}

// archivingStore tees OI records to the S3 exporter while delegating
// everything else to the QuestDB store.
type archivingStore struct {
	*store.Store
	exporter *archive.Exporter
}

func (s archivingStore) AppendOIRecord(rec models.OIRecord) {
	s.Store.AppendOIRecord(rec)
	s.exporter.Add(rec)
}
