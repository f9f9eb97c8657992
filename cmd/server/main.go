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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moxie-stats/internal/card"
	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/derive"
	"github.com/moxie-stats/internal/handler"
	"github.com/moxie-stats/internal/kafka"
	"github.com/moxie-stats/internal/postgres"
	"github.com/moxie-stats/internal/redis"
	"github.com/moxie-stats/internal/render"
	"github.com/moxie-stats/internal/service"
	"github.com/moxie-stats/internal/upstream"
	"github.com/moxie-stats/internal/websocket"
	"github.com/moxie-stats/internal/worker"
	"github.com/moxie-stats/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobalLogger(log)
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Msg("Failed to load config file, using defaults")
	}
	log.Info().Str("base_url", cfg.App.BaseURL).Msg("Starting Moxie stats service")
	for _, name := range cfg.UnroutedUpstreams() {
		log.Warn().
			Str("setting", "upstream."+name).
			Str("base_url", cfg.App.BaseURL).
			Msg("Upstream URL points at this service, which does not serve it; set it explicitly")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Upstream clients
	limiter := upstream.NewLimiter(cfg.Upstream.RequestsPerSecond)
	price := upstream.NewPriceClient(priceSource(cfg, limiter, log), log)
	identity := upstream.NewIdentityClient(cfg.Upstream.IdentityURL, cfg.Upstream.Timeout, limiter, log)
	earnings := upstream.NewEarningsClient(cfg.Upstream.EarningsURL, cfg.Upstream.Timeout, limiter, log)

	// Card pipeline
	fonts, err := card.LoadFonts(cfg.Fonts.Dir, fontSpecs(cfg.Fonts.Faces), log)
	if err != nil {
		log.Warn().Err(err).Msg("No fonts configured, using bundled fonts")
		fonts = card.BundledFonts()
	}
	rasterizer := render.NewRasterizer(render.NewHTTPFetcher(cfg.Upstream.ImageTimeout, log), log)
	deriver := derive.NewCanonical()
	cards := service.NewCardService(price, deriver, rasterizer, fonts, card.Assets{
		BackgroundURL:    cfg.App.BackgroundImageURL,
		DefaultAvatarURL: cfg.App.DefaultAvatarURL,
	}, log)

	var frameOpts []service.FrameOption
	var checks []namedCheck

	// Initialize Redis
	var reputation *redis.ReputationStore
	if cfg.Redis.Enabled {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connecting to Redis")
		reputation, err = redis.NewReputationStore(ctx, &cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer reputation.Close()
		frameOpts = append(frameOpts, service.WithProfileStore(reputation))
		checks = append(checks, namedCheck{"redis", reputation})
	}

	// Initialize PostgreSQL
	var repo *postgres.Repository
	if cfg.Postgres.Enabled {
		log.Info().Str("host", cfg.Postgres.Host).Str("database", cfg.Postgres.Database).Msg("Connecting to PostgreSQL")
		repo, err = postgres.NewRepository(ctx, &cfg.Postgres, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		frameOpts = append(frameOpts, service.WithEarningsStore(repo), service.WithInteractionRecorder(repo))
		checks = append(checks, namedCheck{"postgres", repo})
	}

	// Snapshot job between Redis and PostgreSQL
	var scheduler *worker.Scheduler
	if reputation != nil && repo != nil {
		snapshots := worker.NewSnapshotJob(reputation, repo, cfg.Sync.BatchSize, log)

		restored, err := snapshots.RestoreIfEmpty(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to restore reputation from snapshots")
		} else if restored > 0 {
			log.Info().Int("entries", restored).Msg("Restored reputation from snapshots")
		}

		if cfg.Sync.Enabled {
			scheduler = worker.NewScheduler(log)
			if err := scheduler.AddJob(cfg.Sync.Schedule, snapshots); err != nil {
				log.Fatal().Err(err).Msg("Failed to schedule snapshot job")
			}
			scheduler.Start()
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	// Reputation ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		if reputation == nil {
			log.Warn().Msg("Kafka ingestion needs Redis, continuing without Kafka")
		} else {
			reputationService := service.NewReputationService(reputation, wsHub, price, deriver, log)
			kafkaConsumer = startConsumer(&cfg.Kafka, reputationService, log)
		}
	}

	frames := service.NewFrameService(identity, earnings, cfg.App, cfg.Upstream.Timeout, log, frameOpts...)

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(cards, frames, price, wsHub, log)
	for _, c := range checks {
		httpHandler.AddReadinessCheck(c.name, c.checker)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server")
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop Kafka consumer")
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	log.Info().Msg("Server stopped")
}

type namedCheck struct {
	name    string
	checker handler.Checker
}

// priceSource prefers the Moralis API when a key is configured
func priceSource(cfg *config.Config, limiter *rate.Limiter, log zerolog.Logger) upstream.PriceSource {
	m := cfg.Upstream.Moralis
	if m.APIKey != "" {
		log.Info().Str("chain", m.Chain).Str("token", m.TokenAddress).Msg("Using Moralis price source")
		return upstream.NewMoralisSource(m.BaseURL, m.APIKey, m.Chain, m.TokenAddress, cfg.Upstream.Timeout, limiter)
	}
	log.Info().Str("url", cfg.Upstream.PriceURL).Msg("Using HTTP price source")
	return upstream.NewHTTPPriceSource(cfg.Upstream.PriceURL, cfg.Upstream.Timeout, limiter)
}

func fontSpecs(faces []config.FontFace) []card.FontSpec {
	specs := make([]card.FontSpec, 0, len(faces))
	for _, f := range faces {
		specs = append(specs, card.FontSpec{Family: f.Family, Weight: f.Weight, File: f.File})
	}
	return specs
}

func startConsumer(cfg *config.KafkaConfig, h kafka.ReputationHandler, log zerolog.Logger) *kafka.Consumer {
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Initializing Kafka consumer")

	consumer, err := kafka.NewConsumer(cfg, h, log)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create Kafka consumer, continuing without Kafka")
		return nil
	}
	if err := consumer.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start Kafka consumer, continuing without Kafka")
		return nil
	}
	return consumer
}
