// Package persist writes realtime mutations into durable storage, routing
// each written path to the table that backs it.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// Store is the durable side; *db.Session implements it.
type Store interface {
	SaveMessage(ctx context.Context, private bool, channelID, key string, body json.RawMessage) error
	DeleteMessage(ctx context.Context, private bool, channelID, key string) error
	DeleteChannelMessages(ctx context.Context, private bool, channelID string) error
	SaveChannel(ctx context.Context, id string, body json.RawMessage) error
	DeleteChannel(ctx context.Context, id string) error
	SetUserName(ctx context.Context, uid, name string) error
	SetUserAvatar(ctx context.Context, uid, avatar string) error
	SaveColor(ctx context.Context, uid, id string, c model.ColorPair) error
	DeleteColor(ctx context.Context, uid, id string) error
	SaveStarred(ctx context.Context, uid, channelID string, body json.RawMessage) error
	DeleteStarred(ctx context.Context, uid, channelID string) error
	TouchConversation(ctx context.Context, sender, recipient string, at time.Time) error
}

type Persister struct {
	store Store
}

func New(store Store) *Persister {
	return &Persister{store: store}
}

// write is a single path assignment; a nil or null value deletes.
type write struct {
	segs  []string
	value json.RawMessage
}

func (w write) deletes() bool {
	return len(w.value) == 0 || string(w.value) == "null"
}

func expand(m realtime.Mutation) []write {
	switch m.Op {
	case realtime.OpUpdate:
		out := make([]write, 0, len(m.Fields))
		for k, v := range m.Fields {
			out = append(out, write{segs: model.SplitPath(path.Join(m.Path, k)), value: v})
		}
		return out
	case realtime.OpRemove:
		return []write{{segs: model.SplitPath(m.Path)}}
	default:
		return []write{{segs: model.SplitPath(m.Target()), value: m.Value}}
	}
}

// Handle persists one mutation. Typing markers and presence flags are
// ephemeral and never stored. Every write is attempted; the errors are
// joined.
func (p *Persister) Handle(ctx context.Context, m realtime.Mutation) error {
	var errs []error
	for _, w := range expand(m) {
		if len(w.segs) == 0 {
			continue
		}
		var err error
		switch w.segs[0] {
		case model.MessagesRoot:
			err = p.message(ctx, false, m, w)
		case model.PrivateMessagesRoot:
			err = p.message(ctx, true, m, w)
		case model.ChannelsRoot:
			err = p.channel(ctx, w)
		case model.UsersRoot:
			err = p.user(ctx, w)
		case model.TypingRoot, model.PresenceRoot:
			log.Debug().Strs("path", w.segs).Msg("skipping persistence for ephemeral path")
		default:
			log.Warn().Strs("path", w.segs).Msg("no table for path")
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Persister) message(ctx context.Context, private bool, m realtime.Mutation, w write) error {
	switch len(w.segs) {
	case 2:
		channelID := w.segs[1]
		if w.deletes() {
			return p.store.DeleteChannelMessages(ctx, private, channelID)
		}
		var children map[string]json.RawMessage
		if err := json.Unmarshal(w.value, &children); err != nil {
			return err
		}
		var errs []error
		for key, body := range children {
			errs = append(errs, p.saveMessage(ctx, private, m, channelID, key, body))
		}
		return errors.Join(errs...)
	case 3:
		if w.deletes() {
			return p.store.DeleteMessage(ctx, private, w.segs[1], w.segs[2])
		}
		return p.saveMessage(ctx, private, m, w.segs[1], w.segs[2], w.value)
	}
	log.Debug().Strs("path", w.segs).Msg("skipping partial message write")
	return nil
}

func (p *Persister) saveMessage(ctx context.Context, private bool, m realtime.Mutation, channelID, key string, body json.RawMessage) error {
	if err := p.store.SaveMessage(ctx, private, channelID, key, body); err != nil {
		return err
	}
	if !private {
		return nil
	}
	a, b, ok := model.Participants(channelID)
	if !ok {
		return nil
	}
	sender := m.Origin
	if sender == "" {
		var msg model.Message
		if err := json.Unmarshal(body, &msg); err == nil {
			sender = msg.User.ID
		}
	}
	var recipient string
	switch sender {
	case a:
		recipient = b
	case b:
		recipient = a
	default:
		return nil
	}
	at := m.Time
	if at.IsZero() {
		at = time.Now()
	}
	return p.store.TouchConversation(ctx, sender, recipient, at)
}

func (p *Persister) channel(ctx context.Context, w write) error {
	if len(w.segs) != 2 {
		log.Debug().Strs("path", w.segs).Msg("skipping partial channel write")
		return nil
	}
	if w.deletes() {
		return p.store.DeleteChannel(ctx, w.segs[1])
	}
	return p.store.SaveChannel(ctx, w.segs[1], w.value)
}

func (p *Persister) user(ctx context.Context, w write) error {
	if len(w.segs) < 2 {
		return nil
	}
	uid := w.segs[1]
	if len(w.segs) == 2 {
		if w.deletes() {
			return nil
		}
		var profile struct {
			Name   *string `json:"name"`
			Avatar *string `json:"avatar"`
		}
		if err := json.Unmarshal(w.value, &profile); err != nil {
			return err
		}
		var errs []error
		if profile.Name != nil {
			errs = append(errs, p.store.SetUserName(ctx, uid, *profile.Name))
		}
		if profile.Avatar != nil {
			errs = append(errs, p.store.SetUserAvatar(ctx, uid, *profile.Avatar))
		}
		return errors.Join(errs...)
	}

	switch w.segs[2] {
	case "name", "avatar":
		if len(w.segs) != 3 {
			return nil
		}
		var s string
		if !w.deletes() {
			if err := json.Unmarshal(w.value, &s); err != nil {
				return err
			}
		}
		if w.segs[2] == "name" {
			return p.store.SetUserName(ctx, uid, s)
		}
		return p.store.SetUserAvatar(ctx, uid, s)

	case "colors":
		return p.colors(ctx, uid, w)

	case "starred":
		switch len(w.segs) {
		case 3:
			if w.deletes() {
				return p.store.DeleteStarred(ctx, uid, "")
			}
		case 4:
			if w.deletes() {
				return p.store.DeleteStarred(ctx, uid, w.segs[3])
			}
			return p.store.SaveStarred(ctx, uid, w.segs[3], w.value)
		}
	}
	log.Debug().Strs("path", w.segs).Msg("skipping user write")
	return nil
}

func (p *Persister) colors(ctx context.Context, uid string, w write) error {
	switch len(w.segs) {
	case 3:
		if w.deletes() {
			return p.store.DeleteColor(ctx, uid, "")
		}
	case 4:
		if w.deletes() {
			return p.store.DeleteColor(ctx, uid, w.segs[3])
		}
		var c model.ColorPair
		if err := json.Unmarshal(w.value, &c); err != nil {
			return err
		}
		return p.store.SaveColor(ctx, uid, w.segs[3], c)
	}
	log.Debug().Strs("path", w.segs).Msg("skipping color write")
	return nil
}
