package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/bus"
	"github.com/mahaj/devchat/pkg/config"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/logging"
	"github.com/mahaj/devchat/pkg/persist"
)

var _ persist.Store = (*db.Session)(nil)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closer.Close()

	if cfg.Bus != config.BusKafka {
		log.Fatal().Str("bus", cfg.Bus).Msg("the messaging service needs the kafka bus; local gateways persist themselves")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Note: In production, schema creation should be handled by migration tools
	if err := db.CreateKeyspace(cfg.Scylla.Hosts, cfg.Scylla.Keyspace); err != nil {
		log.Fatal().Err(err).Msg("failed to create keyspace")
	}
	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	if err := session.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create tables")
	}

	subscriber := bus.NewKafkaSubscriber(bus.SubscriberConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.MessagingGroup,
	})
	consumer := NewConsumer(subscriber, session)
	defer consumer.Close()

	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("starting Kafka consumer")
	if err := consumer.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("consumer stopped")
	}
}
