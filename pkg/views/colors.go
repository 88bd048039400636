package views

import (
	"context"
	"sync"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// ColorPanel shows the user's saved themes, newest first.
type ColorPanel struct {
	DB     Database
	Store  *Store
	User   model.User
	Errors ErrorList

	mu     sync.Mutex
	colors []model.ColorPair
	subs   subscriptions
}

func (p *ColorPanel) Mount() error {
	l, err := p.DB.On(model.ColorsPath(p.User.UID), realtime.ChildAdded, func(snap realtime.Snapshot) {
		var c model.ColorPair
		if err := snap.Decode(&c); err != nil {
			return
		}
		p.mu.Lock()
		p.colors = append([]model.ColorPair{c}, p.colors...)
		p.mu.Unlock()
	})
	if err != nil {
		p.Errors.Add(err)
		return err
	}
	p.mu.Lock()
	p.subs.add(l)
	p.mu.Unlock()
	return nil
}

func (p *ColorPanel) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs.release(p.DB)
}

func (p *ColorPanel) Colors() []model.ColorPair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ColorPair(nil), p.colors...)
}

func (p *ColorPanel) Save(ctx context.Context, primary, secondary string) error {
	if primary == "" || secondary == "" {
		p.Errors.Add(ErrColorsRequired)
		return ErrColorsRequired
	}
	if _, err := p.DB.Push(ctx, model.ColorsPath(p.User.UID), model.ColorPair{Primary: primary, Secondary: secondary}); err != nil {
		p.Errors.Add(err)
		return err
	}
	return nil
}

func (p *ColorPanel) Select(c model.ColorPair) {
	p.Store.Dispatch(SetColors{Primary: c.Primary, Secondary: c.Secondary})
}
