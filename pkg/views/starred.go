package views

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

type StarredPanel struct {
	DB     Database
	Store  *Store
	User   model.User
	Errors ErrorList

	mu      sync.Mutex
	starred []model.Channel
	active  string
	subs    subscriptions
}

func (p *StarredPanel) Mount() error {
	path := model.StarredPath(p.User.UID)
	added, err := p.DB.On(path, realtime.ChildAdded, p.starAdded)
	if err != nil {
		p.Errors.Add(err)
		return err
	}
	removed, err := p.DB.On(path, realtime.ChildRemoved, p.starRemoved)
	if err != nil {
		p.DB.Off(added)
		p.Errors.Add(err)
		return err
	}
	p.mu.Lock()
	p.subs.add(added)
	p.subs.add(removed)
	p.mu.Unlock()
	return nil
}

func (p *StarredPanel) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs.release(p.DB)
}

func (p *StarredPanel) starAdded(snap realtime.Snapshot) {
	var s model.StarredChannel
	if err := snap.Decode(&s); err != nil {
		log.Warn().Err(err).Str("key", snap.Key).Msg("skipping malformed starred channel")
		return
	}
	ch := model.Channel{
		ID:        snap.Key,
		Name:      s.Name,
		Details:   s.Details,
		CreatedBy: model.Author{Name: s.CreatedBy.Name, Avatar: s.CreatedBy.Avatar},
	}
	p.mu.Lock()
	p.starred = append(p.starred, ch)
	p.mu.Unlock()
}

func (p *StarredPanel) starRemoved(snap realtime.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.starred[:0]
	for _, ch := range p.starred {
		if ch.ID != snap.Key {
			out = append(out, ch)
		}
	}
	p.starred = out
}

func (p *StarredPanel) Channels() []model.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Channel(nil), p.starred...)
}

func (p *StarredPanel) ChangeChannel(ch model.Channel) {
	p.mu.Lock()
	p.active = ch.ID
	p.mu.Unlock()
	p.Store.Dispatch(SetCurrentChannel{Channel: &ch})
	p.Store.Dispatch(SetPrivateChannel{Private: false})
}

func (p *StarredPanel) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
