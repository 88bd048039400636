package views

import (
	"fmt"
	"sync"

	"github.com/mahaj/devchat/pkg/model"
)

const (
	RouteHome     = "/"
	RouteLogin    = "/login"
	RouteRegister = "/register"
)

// Shell tracks the active route and reacts to sign in and sign out.
type Shell struct {
	Store *Store

	mu    sync.Mutex
	route string
}

func NewShell(store *Store) *Shell {
	return &Shell{Store: store, route: RouteHome}
}

func (s *Shell) Navigate(route string) error {
	switch route {
	case RouteHome, RouteLogin, RouteRegister:
	default:
		return fmt.Errorf("unknown route %q", route)
	}
	s.mu.Lock()
	s.route = route
	s.mu.Unlock()
	return nil
}

func (s *Shell) Route() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// AuthStateChanged is called with the signed in user, or nil after sign
// out.
func (s *Shell) AuthStateChanged(u *model.User) {
	if u != nil {
		s.Store.Dispatch(SetUser{User: *u})
		_ = s.Navigate(RouteHome)
		return
	}
	_ = s.Navigate(RouteLogin)
	s.Store.Dispatch(ClearUser{})
}

// View names what to render: "loading" until the auth state is known,
// then the route.
func (s *Shell) View() string {
	if s.Store.State().User.IsLoading {
		return "loading"
	}
	return s.Route()
}
