package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/bus"
	"github.com/mahaj/devchat/pkg/config"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/logging"
	"github.com/mahaj/devchat/pkg/persist"
	"github.com/mahaj/devchat/pkg/presence"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = "gateway.log"
	}
	closer, err := logging.Setup(cfg.Logging.Level, logFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := snowflake.NewNode(cfg.Gateway.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize snowflake node")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	typing := presence.NewTyping(rdb)
	defer typing.Close()

	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	var (
		publisher  bus.Publisher
		subscriber bus.Subscriber
	)
	switch cfg.Bus {
	case config.BusLocal:
		// single node: this process also persists what it applies
		local := bus.NewLocal()
		persister := persist.New(session)
		local.Subscribe(func(ctx context.Context, m realtime.Mutation) error {
			if err := persister.Handle(ctx, m); err != nil {
				log.Error().Err(err).Str("path", m.Path).Msg("failed to persist mutation")
			}
			return nil
		})
		publisher, subscriber = local, local
	default:
		publisher = bus.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		// Unique group for fanout (broadcast to all gateways)
		subscriber = bus.NewKafkaSubscriber(bus.SubscriberConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: "gateway-group-" + uuid.NewString(),
			Latest:  true,
		})
	}
	defer publisher.Close()
	defer subscriber.Close()

	hub := NewHub(HubConfig{
		IDs:       node,
		Publisher: publisher,
		Typing:    typing,
		Hydrator:  session,
	})
	go hub.Run(ctx)

	go func() {
		if err := subscriber.Consume(ctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("gateway consumer stopped")
			stop()
		}
	}()

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(ctx, hub, issuer, w, r)
	})
	srv := &http.Server{Addr: cfg.Gateway.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Gateway.Addr).Str("bus", cfg.Bus).Msg("gateway service starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway server failed")
	}
}
