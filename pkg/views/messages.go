package views

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// CountUniqueUsers counts the distinct author names in msgs.
func CountUniqueUsers(msgs []model.Message) int {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.User.Name] = struct{}{}
	}
	return len(seen)
}

// UniqueUsersLabel renders the header count: "1 user", otherwise "N users".
func UniqueUsersLabel(n int) string {
	if n == 1 {
		return "1 user"
	}
	return fmt.Sprintf("%d users", n)
}

// CountUserPosts tallies messages per author name. The avatar is the one
// carried by the author's first message.
func CountUserPosts(msgs []model.Message) model.UserPosts {
	posts := make(model.UserPosts)
	for _, m := range msgs {
		s, ok := posts[m.User.Name]
		if !ok {
			s.Avatar = m.User.Avatar
		}
		s.Count++
		posts[m.User.Name] = s
	}
	return posts
}

// searchPattern compiles term as a case-insensitive regular expression.
// Terms that are not valid expressions match literally.
func searchPattern(term string) *regexp.Regexp {
	re, err := regexp.Compile("(?i)" + term)
	if err != nil {
		return regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
	}
	return re
}

// FilterMessages returns the messages whose content or author name matches
// term. An empty term returns every message.
func FilterMessages(msgs []model.Message, term string) []model.Message {
	if term == "" {
		return append([]model.Message(nil), msgs...)
	}
	re := searchPattern(term)
	var out []model.Message
	for _, m := range msgs {
		if (m.Content != "" && re.MatchString(m.Content)) || re.MatchString(m.User.Name) {
			out = append(out, m)
		}
	}
	return out
}

// MessagesView follows the messages and typing markers of one channel.
type MessagesView struct {
	DB      Database
	Store   *Store
	User    model.User
	Channel model.Channel
	Private bool
	Errors  ErrorList

	mu          sync.Mutex
	messages    []model.Message
	loading     bool
	uniqueUsers string
	searchTerm  string
	results     []model.Message
	typing      []model.TypingUser
	starred     bool
	subs        subscriptions
}

func (v *MessagesView) messagesPath() string {
	return model.MessagesPath(v.Channel.ID, v.Private)
}

// Mount subscribes to new messages, typing markers and the connection
// state, and loads whether the channel is starred.
func (v *MessagesView) Mount(ctx context.Context) error {
	v.mu.Lock()
	v.loading = true
	v.uniqueUsers = UniqueUsersLabel(0)
	v.mu.Unlock()

	typingPath := model.TypingChannelPath(v.Channel.ID)
	on := []struct {
		path    string
		event   realtime.Event
		handler realtime.Handler
	}{
		{v.messagesPath(), realtime.ChildAdded, v.messageAdded},
		{typingPath, realtime.ChildAdded, v.typingAdded},
		{typingPath, realtime.ChildRemoved, v.typingRemoved},
	}
	for _, o := range on {
		l, err := v.DB.On(o.path, o.event, o.handler)
		if err != nil {
			v.mu.Lock()
			v.subs.release(v.DB)
			v.mu.Unlock()
			v.Errors.Add(err)
			return err
		}
		v.mu.Lock()
		v.subs.add(l)
		v.mu.Unlock()
	}

	cancel := v.DB.OnConnected(func(connected bool) {
		if !connected {
			return
		}
		if err := v.DB.OnDisconnectRemove(ctx, model.TypingPath(v.Channel.ID, v.User.UID)); err != nil {
			log.Error().Err(err).Msg("failed to register typing removal")
			v.Errors.Add(err)
		}
	})
	v.mu.Lock()
	v.subs.addCancel(cancel)
	v.mu.Unlock()

	return v.loadStarred(ctx)
}

// Unmount removes every listener Mount registered.
func (v *MessagesView) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs.release(v.DB)
}

func (v *MessagesView) loadStarred(ctx context.Context) error {
	snap, err := v.DB.Once(ctx, model.StarredPath(v.User.UID))
	if err != nil {
		v.Errors.Add(err)
		return err
	}
	if !snap.Exists() {
		return nil
	}
	var starred map[string]any
	if err := snap.Decode(&starred); err != nil {
		return err
	}
	_, ok := starred[v.Channel.ID]
	v.mu.Lock()
	v.starred = ok
	v.mu.Unlock()
	return nil
}

func (v *MessagesView) messageAdded(snap realtime.Snapshot) {
	var m model.Message
	if err := snap.Decode(&m); err != nil {
		log.Warn().Err(err).Str("key", snap.Key).Msg("skipping malformed message")
		return
	}
	m.Key = snap.Key

	v.mu.Lock()
	v.messages = append(v.messages, m)
	v.loading = false
	v.uniqueUsers = UniqueUsersLabel(CountUniqueUsers(v.messages))
	if v.searchTerm != "" {
		v.results = FilterMessages(v.messages, v.searchTerm)
	}
	posts := CountUserPosts(v.messages)
	v.mu.Unlock()

	v.Store.Dispatch(SetUserPosts{Posts: posts})
}

func (v *MessagesView) typingAdded(snap realtime.Snapshot) {
	if snap.Key == v.User.UID {
		return
	}
	var name string
	if err := snap.Decode(&name); err != nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, u := range v.typing {
		if u.ID == snap.Key {
			return
		}
	}
	v.typing = append(v.typing, model.TypingUser{ID: snap.Key, Name: name})
}

func (v *MessagesView) typingRemoved(snap realtime.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.typing[:0]
	for _, u := range v.typing {
		if u.ID != snap.Key {
			out = append(out, u)
		}
	}
	v.typing = out
}

// Search sets the live filter. Displayed returns the filtered messages
// while a term is set.
func (v *MessagesView) Search(term string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.searchTerm = term
	v.results = FilterMessages(v.messages, term)
}

func (v *MessagesView) Displayed() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.searchTerm != "" {
		return append([]model.Message(nil), v.results...)
	}
	return append([]model.Message(nil), v.messages...)
}

func (v *MessagesView) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Message(nil), v.messages...)
}

func (v *MessagesView) UniqueUsers() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uniqueUsers
}

func (v *MessagesView) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

func (v *MessagesView) TypingUsers() []model.TypingUser {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.TypingUser(nil), v.typing...)
}

func (v *MessagesView) Starred() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.starred
}

// Header is the channel name as shown above the messages.
func (v *MessagesView) Header() string {
	return model.DisplayName(&v.Channel, v.Private)
}

// ToggleStar flips the starred state of the channel and persists it.
func (v *MessagesView) ToggleStar(ctx context.Context) error {
	v.mu.Lock()
	v.starred = !v.starred
	starred := v.starred
	v.mu.Unlock()

	var err error
	if starred {
		err = v.DB.Update(ctx, model.StarredPath(v.User.UID), map[string]any{
			v.Channel.ID: v.Channel.Starred(),
		})
	} else {
		err = v.DB.Remove(ctx, model.StarredPath(v.User.UID)+"/"+v.Channel.ID)
	}
	if err != nil {
		log.Error().Err(err).Str("channel", v.Channel.ID).Msg("failed to update starred channels")
		v.Errors.Add(err)
	}
	return err
}
