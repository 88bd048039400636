package views

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/devchat/pkg/model"
)

func TestStoreReducers(t *testing.T) {
	s := NewStore()
	st := s.State()
	assert.True(t, st.User.IsLoading)
	assert.Equal(t, model.DefaultPrimaryColor, st.Colors.PrimaryColor)

	var seen []State
	unsubscribe := s.Subscribe(func(st State) { seen = append(seen, st) })

	s.Dispatch(SetUser{User: model.User{UID: "u1", DisplayName: "ann", PhotoURL: "http://gravatar/com/avatar/x"}})
	st = s.State()
	assert.False(t, st.User.IsLoading)
	assert.Equal(t, "http://gravatar.com/avatar/x", st.User.CurrentUser.PhotoURL)

	ch := &model.Channel{ID: "c1", Name: "go"}
	s.Dispatch(SetCurrentChannel{Channel: ch})
	s.Dispatch(SetPrivateChannel{Private: true})
	s.Dispatch(SetUserPosts{Posts: model.UserPosts{"ann": {Count: 1}}})
	s.Dispatch(SetColors{Primary: "#111", Secondary: "#222"})

	st = s.State()
	assert.Equal(t, ch, st.Channel.CurrentChannel)
	assert.True(t, st.Channel.IsPrivateChannel)
	assert.Equal(t, 1, st.Channel.UserPosts.Total())
	assert.Equal(t, ColorsState{PrimaryColor: "#111", SecondaryColor: "#222"}, st.Colors)
	assert.Len(t, seen, 5)

	unsubscribe()
	s.Dispatch(ClearUser{})
	assert.Nil(t, s.State().User.CurrentUser)
	assert.False(t, s.State().User.IsLoading)
	assert.Len(t, seen, 5)
}

func TestShellRoutes(t *testing.T) {
	s := NewShell(NewStore())
	assert.Equal(t, "loading", s.View())

	u := model.User{UID: "u1"}
	s.AuthStateChanged(&u)
	assert.Equal(t, RouteHome, s.View())

	s.AuthStateChanged(nil)
	assert.Equal(t, RouteLogin, s.View())
	assert.Nil(t, s.Store.State().User.CurrentUser)

	assert.NoError(t, s.Navigate(RouteRegister))
	assert.Error(t, s.Navigate("/admin"))
	assert.Equal(t, RouteRegister, s.Route())
}

func TestErrorListMentions(t *testing.T) {
	var l ErrorList
	l.Add(nil)
	assert.Empty(t, l.Errors())
	l.Add(errors.New("The password is invalid"))
	assert.True(t, l.Mentions("password"))
	assert.True(t, l.Mentions("PASSWORD"))
	assert.False(t, l.Mentions("email"))
	l.Reset()
	assert.False(t, l.Mentions("password"))
}
