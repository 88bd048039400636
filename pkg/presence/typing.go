// Package presence mirrors the ephemeral typing markers into Redis so
// services without a realtime tree can answer "who is typing".
package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/devchat/pkg/model"
)

// Typing stores one hash per channel: typing:{channelId} uid -> name.
type Typing struct {
	redis *redis.Client
}

func NewTyping(rdb *redis.Client) *Typing {
	return &Typing{redis: rdb}
}

func key(channelID string) string {
	return "typing:" + channelID
}

func (t *Typing) Set(ctx context.Context, channelID, uid, name string) error {
	if err := t.redis.HSet(ctx, key(channelID), uid, name).Err(); err != nil {
		return fmt.Errorf("set typing %s/%s: %w", channelID, uid, err)
	}
	return nil
}

func (t *Typing) Remove(ctx context.Context, channelID, uid string) error {
	if err := t.redis.HDel(ctx, key(channelID), uid).Err(); err != nil {
		return fmt.Errorf("remove typing %s/%s: %w", channelID, uid, err)
	}
	return nil
}

// Clear drops every marker of a channel.
func (t *Typing) Clear(ctx context.Context, channelID string) error {
	return t.redis.Del(ctx, key(channelID)).Err()
}

// List returns the users typing in a channel ordered by id.
func (t *Typing) List(ctx context.Context, channelID string) ([]model.TypingUser, error) {
	m, err := t.redis.HGetAll(ctx, key(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list typing %s: %w", channelID, err)
	}
	out := make([]model.TypingUser, 0, len(m))
	for uid, name := range m {
		out = append(out, model.TypingUser{ID: uid, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Typing) Close() error {
	return t.redis.Close()
}
