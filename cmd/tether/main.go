package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/config"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/engine"
	"github.com/gosuda/tether/internal/events"
	"github.com/gosuda/tether/internal/fx"
	"github.com/gosuda/tether/internal/keys"
	"github.com/gosuda/tether/internal/notify"
	"github.com/gosuda/tether/internal/secrets"
	"github.com/gosuda/tether/internal/server"
	"github.com/gosuda/tether/internal/store/memory"
	"github.com/gosuda/tether/internal/store/postgres"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	if cfg.Store.Backend != config.BackendPostgres {
		return memory.New(), nil
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func run() error {
	// Initialize structured logging from environment before config so that
	// config warnings are formatted too.
	setupLogging(os.Getenv("TETHER_LOG_LEVEL"), os.Getenv("TETHER_LOG_FORMAT"))

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("backend", cfg.Store.Backend).Msg("store ready")

	rates, err := fx.NewTable(cfg.FX.Rates)
	if err != nil {
		return err
	}

	// Events and policy locks go through Redis when configured so that several
	// replicas share them.
	var (
		broker events.Broker = events.NewLocalBroker()
		locker engine.Locker = engine.NewLocalLocker()
		pubs   events.Multi
	)
	if cfg.Redis.Addr != "" {
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		broker = redisstore.NewPubSub(client)
		locker = redisstore.NewLocker(client, cfg.Redis.LockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis enabled")
	}
	pubs = append(pubs, events.NewBrokerPublisher(broker))

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer kafka.Close()
		pubs = append(pubs, kafka)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka export enabled")
	}

	if cfg.Slack.BotToken != "" {
		pubs = append(pubs, notify.New(notify.NewSlackSenderFromToken(cfg.Slack.BotToken), cfg.Slack.Channel))
		log.Info().Str("channel", cfg.Slack.Channel).Msg("slack revocation alerts enabled")
	}

	var keyManager *keys.Manager
	if cfg.Vault.Passphrase != "" {
		vault, err := secrets.NewVaultFromPassphrase(cfg.Vault.Passphrase, cfg.Vault.Salt)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		keyManager = keys.NewManager(vault)
	} else {
		keyManager = keys.NewManager(nil)
		log.Warn().Msg("TETHER_VAULT_PASSPHRASE not set; generated keys are watch-only and logs are unsigned")
	}

	eng, err := engine.New(store, rates,
		engine.WithLocker(locker),
		engine.WithPublisher(events.Logged(pubs)),
		engine.WithKeyManager(keyManager),
		engine.WithLockConfig(engine.LockConfig{
			Timeout: cfg.Engine.LockTimeout,
			Retries: cfg.Engine.LockRetries,
			Backoff: cfg.Engine.LockBackoff,
		}),
	)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx, cfg, store, eng, broker)
	if err != nil {
		return err
	}

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
