package views

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// ChannelsPanel lists the public channels and selects the first one that
// arrives.
type ChannelsPanel struct {
	DB     Database
	Store  *Store
	User   model.User
	Errors ErrorList

	mu        sync.Mutex
	channels  []model.Channel
	active    string
	firstLoad bool
	subs      subscriptions
}

func (p *ChannelsPanel) Mount() error {
	p.mu.Lock()
	p.firstLoad = true
	p.mu.Unlock()

	l, err := p.DB.On(model.ChannelsRoot, realtime.ChildAdded, p.channelAdded)
	if err != nil {
		p.Errors.Add(err)
		return err
	}
	p.mu.Lock()
	p.subs.add(l)
	p.mu.Unlock()
	return nil
}

func (p *ChannelsPanel) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs.release(p.DB)
}

func (p *ChannelsPanel) channelAdded(snap realtime.Snapshot) {
	var ch model.Channel
	if err := snap.Decode(&ch); err != nil {
		log.Warn().Err(err).Str("key", snap.Key).Msg("skipping malformed channel")
		return
	}
	ch.ID = snap.Key

	p.mu.Lock()
	p.channels = append(p.channels, ch)
	first := p.firstLoad
	p.firstLoad = false
	p.mu.Unlock()

	if first {
		p.ChangeChannel(ch)
	}
}

func (p *ChannelsPanel) Channels() []model.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Channel(nil), p.channels...)
}

func (p *ChannelsPanel) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *ChannelsPanel) ChangeChannel(ch model.Channel) {
	p.mu.Lock()
	p.active = ch.ID
	p.mu.Unlock()
	p.Store.Dispatch(SetCurrentChannel{Channel: &ch})
	p.Store.Dispatch(SetPrivateChannel{Private: false})
}

// AddChannel creates a channel owned by the current user and returns its id.
func (p *ChannelsPanel) AddChannel(ctx context.Context, name, details string) (string, error) {
	name, details = strings.TrimSpace(name), strings.TrimSpace(details)
	if name == "" || details == "" {
		p.Errors.Add(ErrChannelFields)
		return "", ErrChannelFields
	}
	key, err := p.DB.Push(ctx, model.ChannelsRoot, model.Channel{
		Name:      name,
		Details:   details,
		CreatedBy: p.User.Author(),
	})
	if err != nil {
		p.Errors.Add(err)
		return "", err
	}
	return key, nil
}
