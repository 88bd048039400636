package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/bus"
	"github.com/mahaj/devchat/pkg/persist"
	"github.com/mahaj/devchat/pkg/realtime"
)

// Consumer persists every mutation read from the bus.
type Consumer struct {
	subscriber bus.Subscriber
	persister  *persist.Persister
}

func NewConsumer(subscriber bus.Subscriber, store persist.Store) *Consumer {
	return &Consumer{subscriber: subscriber, persister: persist.New(store)}
}

func (c *Consumer) Consume(ctx context.Context) error {
	return c.subscriber.Consume(ctx, c.handle)
}

func (c *Consumer) handle(ctx context.Context, m realtime.Mutation) error {
	log.Debug().Str("op", string(m.Op)).Str("path", m.Target()).Str("origin", m.Origin).Msg("received mutation")
	if err := c.persister.Handle(ctx, m); err != nil {
		log.Error().Err(err).Str("path", m.Target()).Msg("failed to persist mutation")
		return err
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.subscriber.Close()
}
