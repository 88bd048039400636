package views

import (
	"sync"

	"github.com/mahaj/devchat/pkg/avatar"
	"github.com/mahaj/devchat/pkg/model"
)

// State is everything the screens share.
type State struct {
	User    UserState
	Channel ChannelState
	Colors  ColorsState
}

type UserState struct {
	CurrentUser *model.User
	IsLoading   bool
}

type ChannelState struct {
	CurrentChannel   *model.Channel
	IsPrivateChannel bool
	UserPosts        model.UserPosts
}

type ColorsState struct {
	PrimaryColor   string
	SecondaryColor string
}

func initialState() State {
	return State{
		User: UserState{IsLoading: true},
		Colors: ColorsState{
			PrimaryColor:   model.DefaultPrimaryColor,
			SecondaryColor: model.DefaultSecondaryColor,
		},
	}
}

// Action is dispatched to the Store.
type Action interface {
	action()
}

type SetUser struct{ User model.User }
type ClearUser struct{}
type SetCurrentChannel struct{ Channel *model.Channel }
type SetPrivateChannel struct{ Private bool }
type SetUserPosts struct{ Posts model.UserPosts }
type SetColors struct{ Primary, Secondary string }

func (SetUser) action()           {}
func (ClearUser) action()         {}
func (SetCurrentChannel) action() {}
func (SetPrivateChannel) action() {}
func (SetUserPosts) action()      {}
func (SetColors) action()         {}

func reduceUser(s UserState, a Action) UserState {
	switch a := a.(type) {
	case SetUser:
		u := a.User
		u.PhotoURL = avatar.ReformatURL(u.PhotoURL)
		return UserState{CurrentUser: &u}
	case ClearUser:
		return UserState{}
	}
	return s
}

func reduceChannel(s ChannelState, a Action) ChannelState {
	switch a := a.(type) {
	case SetCurrentChannel:
		s.CurrentChannel = a.Channel
	case SetPrivateChannel:
		s.IsPrivateChannel = a.Private
	case SetUserPosts:
		s.UserPosts = a.Posts
	}
	return s
}

func reduceColors(s ColorsState, a Action) ColorsState {
	if a, ok := a.(SetColors); ok {
		return ColorsState{PrimaryColor: a.Primary, SecondaryColor: a.Secondary}
	}
	return s
}

// Store holds State and notifies subscribers after every dispatch.
type Store struct {
	mu     sync.Mutex
	state  State
	seq    int
	notify map[int]func(State)
}

func NewStore() *Store {
	return &Store{state: initialState(), notify: make(map[int]func(State))}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.state = State{
		User:    reduceUser(s.state.User, a),
		Channel: reduceChannel(s.state.Channel, a),
		Colors:  reduceColors(s.state.Colors, a),
	}
	state := s.state
	fns := make([]func(State), 0, len(s.notify))
	for _, fn := range s.notify {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Subscribe calls fn after each dispatch until the returned func is called.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.notify[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.notify, id)
		s.mu.Unlock()
	}
}
