package views

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// DirectUser is a row of the direct messages list.
type DirectUser struct {
	UID    string
	Name   string
	Avatar string
	Online bool
}

// DirectMessages lists every other user with an online marker, and
// publishes this user's own presence while connected.
type DirectMessages struct {
	DB     Database
	Store  *Store
	User   model.User
	Errors ErrorList

	mu     sync.Mutex
	users  []DirectUser
	online map[string]bool
	active string
	subs   subscriptions
}

func (d *DirectMessages) Mount(ctx context.Context) error {
	d.mu.Lock()
	d.online = make(map[string]bool)
	d.mu.Unlock()

	on := []struct {
		path    string
		event   realtime.Event
		handler realtime.Handler
	}{
		{model.PresenceRoot, realtime.ChildAdded, func(s realtime.Snapshot) { d.setStatus(s.Key, true) }},
		{model.PresenceRoot, realtime.ChildRemoved, func(s realtime.Snapshot) { d.setStatus(s.Key, false) }},
		{model.UsersRoot, realtime.ChildAdded, d.userAdded},
	}
	for _, o := range on {
		l, err := d.DB.On(o.path, o.event, o.handler)
		if err != nil {
			d.mu.Lock()
			d.subs.release(d.DB)
			d.mu.Unlock()
			d.Errors.Add(err)
			return err
		}
		d.mu.Lock()
		d.subs.add(l)
		d.mu.Unlock()
	}

	cancel := d.DB.OnConnected(func(connected bool) {
		if !connected {
			return
		}
		p := model.PresencePath(d.User.UID)
		if err := d.DB.Set(ctx, p, true); err != nil {
			d.Errors.Add(err)
			return
		}
		if err := d.DB.OnDisconnectRemove(ctx, p); err != nil {
			log.Error().Err(err).Msg("failed to register presence removal")
			d.Errors.Add(err)
		}
	})
	d.mu.Lock()
	d.subs.addCancel(cancel)
	d.mu.Unlock()
	return nil
}

func (d *DirectMessages) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs.release(d.DB)
}

func (d *DirectMessages) userAdded(snap realtime.Snapshot) {
	if snap.Key == d.User.UID {
		return
	}
	var p model.Profile
	if err := snap.Decode(&p); err != nil {
		log.Warn().Err(err).Str("uid", snap.Key).Msg("skipping malformed user")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, DirectUser{
		UID:    snap.Key,
		Name:   p.Name,
		Avatar: p.Avatar,
		Online: d.online[snap.Key],
	})
}

func (d *DirectMessages) setStatus(uid string, online bool) {
	if uid == d.User.UID {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[uid] = online
	for i := range d.users {
		if d.users[i].UID == uid {
			d.users[i].Online = online
		}
	}
}

func (d *DirectMessages) Users() []DirectUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DirectUser(nil), d.users...)
}

func (d *DirectMessages) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// ChangeChannel opens the conversation with u.
func (d *DirectMessages) ChangeChannel(u DirectUser) {
	ch := model.Channel{ID: model.DirectChannelID(d.User.UID, u.UID), Name: u.Name}
	d.mu.Lock()
	d.active = u.UID
	d.mu.Unlock()
	d.Store.Dispatch(SetCurrentChannel{Channel: &ch})
	d.Store.Dispatch(SetPrivateChannel{Private: true})
}
