package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/config"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/logging"
	"github.com/mahaj/devchat/pkg/objstore"
	"github.com/mahaj/devchat/pkg/presence"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	objects, err := objstore.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open object store")
	}
	defer objects.Close()

	typing := presence.NewTyping(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	defer typing.Close()

	srv := &Server{
		Users:          session,
		History:        session,
		Conversations:  session,
		Typing:         typing,
		Objects:        objects,
		Issuer:         auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		PublicURL:      cfg.API.PublicURL,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	}
	httpSrv := &http.Server{Addr: cfg.API.Addr, Handler: srv.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.API.Addr).Msg("API service starting")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("API server failed")
	}
}
