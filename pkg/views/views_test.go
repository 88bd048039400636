package views_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/devchat/pkg/client"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
	"github.com/mahaj/devchat/pkg/views"
)

var (
	ann = model.User{UID: "ann", Email: "ann@example.com", DisplayName: "Ann", PhotoURL: "a.png"}
	bo  = model.User{UID: "bo", Email: "bo@example.com", DisplayName: "Bo", PhotoURL: "b.png"}
)

func newTree(t *testing.T) *realtime.Tree {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return realtime.NewTree(node)
}

type fakeAuth struct {
	users    map[string]model.User
	password string
	signOuts int
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (model.User, error) {
	u, ok := f.users[email]
	if !ok {
		return model.User{}, errors.New("There is no user corresponding to this email")
	}
	if password != f.password {
		return model.User{}, errors.New("The password is invalid")
	}
	return u, nil
}

func (f *fakeAuth) SignUp(_ context.Context, username, email, _ string) (model.User, error) {
	if _, ok := f.users[email]; ok {
		return model.User{}, errors.New("The email address is already in use by another account")
	}
	u := model.User{UID: "new-" + username, Email: email, DisplayName: username, PhotoURL: "http://gravatar/com/avatar/1"}
	f.users[email] = u
	return u, nil
}

func (f *fakeAuth) UpdateProfile(_ context.Context, displayName, photoURL *string) (model.User, error) {
	u := ann
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if photoURL != nil {
		u.PhotoURL = *photoURL
	}
	return u, nil
}

func (f *fakeAuth) SignOut() { f.signOuts++ }

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
	block   bool
}

func (f *fakeStorage) Upload(ctx context.Context, p, _ string, data []byte, progress views.Progress) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.fail != nil {
		return "", f.fail
	}
	if progress != nil {
		progress(int64(len(data))/2, int64(len(data)))
		progress(int64(len(data)), int64(len(data)))
	}
	f.mu.Lock()
	f.objects[p] = data
	f.mu.Unlock()
	return "http://files.test/files/" + p, nil
}

func TestLoginForm(t *testing.T) {
	auth := &fakeAuth{users: map[string]model.User{"ann@example.com": ann}, password: "secret1"}
	shell := views.NewShell(views.NewStore())
	f := &views.LoginForm{Auth: auth, Shell: shell}

	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, views.ErrEmptyFields)

	f.Email, f.Password = "nobody@example.com", "secret1"
	_, err = f.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, f.InputError("email"))
	assert.False(t, f.InputError("password"))

	f.Email, f.Password = "ann@example.com", "nope"
	_, err = f.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, f.InputError("password"))

	f.Password = "secret1"
	u, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ann", u.UID)
	assert.Empty(t, f.Errors.Errors())
	assert.Equal(t, views.RouteHome, shell.View())
	assert.False(t, f.Loading())
}

func TestRegisterFormSavesProfile(t *testing.T) {
	auth := &fakeAuth{users: map[string]model.User{}}
	db := client.NewLocal(newTree(t), "s1")
	shell := views.NewShell(views.NewStore())
	f := &views.RegisterForm{
		Auth:  auth,
		Shell: shell,
		Connect: func(context.Context, model.User) (views.Database, error) {
			return db, nil
		},
		Username: "cy",
		Email:    "cy@example.com",
	}
	ctx := context.Background()

	_, err := f.Submit(ctx)
	assert.ErrorIs(t, err, views.ErrEmptyFields)

	f.Password, f.PasswordConfirmation = "12345", "12345"
	_, err = f.Submit(ctx)
	assert.ErrorIs(t, err, views.ErrInvalidPassword)
	assert.True(t, f.InputError("password"))

	f.Password, f.PasswordConfirmation = "secret1", "secret2"
	_, err = f.Submit(ctx)
	assert.ErrorIs(t, err, views.ErrInvalidPassword)

	f.PasswordConfirmation = "secret1"
	u, err := f.Submit(ctx)
	require.NoError(t, err)

	snap, err := db.Once(ctx, model.UserPath(u.UID))
	require.NoError(t, err)
	var p model.Profile
	require.NoError(t, snap.Decode(&p))
	assert.Equal(t, model.Profile{Name: "cy", Avatar: "http://gravatar/com/avatar/1"}, p)
	assert.Equal(t, "http://gravatar.com/avatar/1", shell.Store.State().User.CurrentUser.PhotoURL)

	_, err = f.Submit(ctx)
	require.Error(t, err)
	assert.True(t, f.InputError("email"))
}

func TestChannelsPanel(t *testing.T) {
	db := client.NewLocal(newTree(t), "s1")
	store := views.NewStore()
	p := &views.ChannelsPanel{DB: db, Store: store, User: ann}
	ctx := context.Background()

	_, err := p.AddChannel(ctx, "go", "")
	assert.ErrorIs(t, err, views.ErrChannelFields)

	first, err := p.AddChannel(ctx, "go", "gophers")
	require.NoError(t, err)

	require.NoError(t, p.Mount())
	_, err = p.AddChannel(ctx, "rust", "crabs")
	require.NoError(t, err)

	chans := p.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, first, chans[0].ID)
	assert.Equal(t, "Ann", chans[0].CreatedBy.Name)
	assert.Equal(t, first, p.Active())
	assert.Equal(t, first, store.State().Channel.CurrentChannel.ID)
	assert.False(t, store.State().Channel.IsPrivateChannel)

	p.ChangeChannel(chans[1])
	assert.Equal(t, "rust", store.State().Channel.CurrentChannel.Name)

	p.Unmount()
	assert.Equal(t, 0, db.Tree().Listeners(model.ChannelsRoot))
	_, err = p.AddChannel(ctx, "zig", "zags")
	require.NoError(t, err)
	assert.Len(t, p.Channels(), 2)
}

func TestDirectMessagesPresence(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	boDB := client.NewLocal(tree, "bo-session")
	require.NoError(t, boDB.Set(ctx, model.UserPath("bo"), model.Profile{Name: "Bo", Avatar: "b.png"}))
	require.NoError(t, boDB.Set(ctx, model.UserPath("ann"), model.Profile{Name: "Ann"}))

	annDB := client.NewLocal(tree, "ann-session")
	store := views.NewStore()
	d := &views.DirectMessages{DB: annDB, Store: store, User: ann}
	require.NoError(t, d.Mount(ctx))

	users := d.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "bo", users[0].UID)
	assert.False(t, users[0].Online)

	_, ok := tree.Get(model.PresencePath("ann"))
	assert.True(t, ok)

	require.NoError(t, boDB.Set(ctx, model.PresencePath("bo"), true))
	require.NoError(t, boDB.OnDisconnectRemove(ctx, model.PresencePath("bo")))
	assert.True(t, d.Users()[0].Online)

	require.NoError(t, boDB.Disconnect())
	assert.False(t, d.Users()[0].Online)

	d.ChangeChannel(d.Users()[0])
	st := store.State()
	assert.Equal(t, "dm:ann:bo", st.Channel.CurrentChannel.ID)
	assert.Equal(t, "Bo", st.Channel.CurrentChannel.Name)
	assert.True(t, st.Channel.IsPrivateChannel)

	require.NoError(t, annDB.Disconnect())
	_, ok = tree.Get(model.PresencePath("ann"))
	assert.False(t, ok)

	d.Unmount()
	assert.Equal(t, 0, tree.Listeners(model.PresenceRoot))
	assert.Equal(t, 0, tree.Listeners(model.UsersRoot))
}

func TestStarredAndColorPanels(t *testing.T) {
	db := client.NewLocal(newTree(t), "s1")
	store := views.NewStore()
	ctx := context.Background()

	starred := &views.StarredPanel{DB: db, Store: store, User: ann}
	require.NoError(t, starred.Mount())

	ch := model.Channel{ID: "c1", Name: "go", Details: "gophers", CreatedBy: model.Author{Name: "Bo", Avatar: "b.png"}}
	mv := &views.MessagesView{DB: db, Store: store, User: ann, Channel: ch}
	require.NoError(t, mv.Mount(ctx))
	assert.False(t, mv.Starred())

	require.NoError(t, mv.ToggleStar(ctx))
	assert.True(t, mv.Starred())
	require.Len(t, starred.Channels(), 1)
	assert.Equal(t, "c1", starred.Channels()[0].ID)
	assert.Equal(t, "Bo", starred.Channels()[0].CreatedBy.Name)

	// a new view of the same channel sees the star
	mv2 := &views.MessagesView{DB: db, Store: store, User: ann, Channel: ch}
	require.NoError(t, mv2.Mount(ctx))
	assert.True(t, mv2.Starred())
	mv2.Unmount()

	require.NoError(t, mv.ToggleStar(ctx))
	assert.Empty(t, starred.Channels())
	mv.Unmount()
	starred.Unmount()

	colors := &views.ColorPanel{DB: db, Store: store, User: ann}
	require.NoError(t, colors.Mount())
	assert.ErrorIs(t, colors.Save(ctx, "#000", ""), views.ErrColorsRequired)
	require.NoError(t, colors.Save(ctx, "#111", "#aaa"))
	require.NoError(t, colors.Save(ctx, "#222", "#bbb"))

	got := colors.Colors()
	require.Len(t, got, 2)
	assert.Equal(t, "#222", got[0].Primary)
	colors.Select(got[1])
	assert.Equal(t, "#111", store.State().Colors.PrimaryColor)
	colors.Unmount()
	assert.Equal(t, 0, db.Tree().Listeners(model.ColorsPath("ann")))
}

func TestMessagesViewAndForm(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	annDB := client.NewLocal(tree, "ann-session")
	boDB := client.NewLocal(tree, "bo-session")
	store := views.NewStore()
	ch := model.Channel{ID: "general", Name: "general"}

	v := &views.MessagesView{DB: annDB, Store: store, User: ann, Channel: ch}
	require.NoError(t, v.Mount(ctx))
	assert.True(t, v.Loading())
	assert.Equal(t, "0 users", v.UniqueUsers())
	assert.Equal(t, "#general", v.Header())

	annForm := &views.MessageForm{DB: annDB, User: ann, Channel: ch}
	boForm := &views.MessageForm{DB: boDB, User: bo, Channel: ch}

	assert.ErrorIs(t, annForm.Send(ctx), views.ErrEmptyMessage)
	assert.True(t, annForm.Errors.Mentions("message"))

	// typing markers of others show up, our own does not
	require.NoError(t, annForm.SetDraft(ctx, "hel"))
	require.NoError(t, boForm.SetDraft(ctx, "yo"))
	assert.Equal(t, []model.TypingUser{{ID: "bo", Name: "Bo"}}, v.TypingUsers())

	require.NoError(t, annForm.SetDraft(ctx, "hello :smile: :nope:"))
	require.NoError(t, annForm.Send(ctx))
	assert.Empty(t, annForm.Draft())
	_, typing := tree.Get(model.TypingPath("general", "ann"))
	assert.False(t, typing)

	require.NoError(t, boForm.Send(ctx))
	assert.Empty(t, v.TypingUsers())

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello :smile: :nope:", msgs[0].Content)
	assert.Greater(t, msgs[0].Timestamp, int64(0))
	assert.NotEmpty(t, msgs[0].Key)
	assert.False(t, v.Loading())
	assert.Equal(t, "2 users", v.UniqueUsers())

	posts := store.State().Channel.UserPosts
	assert.Equal(t, 2, posts.Total())
	assert.Equal(t, "b.png", posts["Bo"].Avatar)

	v.Search("YO")
	require.Len(t, v.Displayed(), 1)
	assert.Equal(t, "Bo", v.Displayed()[0].User.Name)
	v.Search("")
	assert.Len(t, v.Displayed(), 2)

	// the view's typing marker is removed when the session drops
	require.NoError(t, annForm.SetDraft(ctx, "again"))
	require.NoError(t, annDB.Disconnect())
	_, typing = tree.Get(model.TypingPath("general", "ann"))
	assert.False(t, typing)

	v.Unmount()
	assert.Equal(t, 0, tree.Listeners(model.MessagesPath("general", false)))
	assert.Equal(t, 0, tree.Listeners(model.TypingChannelPath("general")))
}

func TestMessageFormEmoji(t *testing.T) {
	f := &views.MessageForm{}
	assert.Equal(t, " 😄", f.AddEmoji("smile"))
	assert.Equal(t, " 😄 :not_a_real_code:", f.AddEmoji(":not_a_real_code:"))
	assert.Equal(t, f.Draft(), " 😄 :not_a_real_code:")
}

func TestMessageFormUpload(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	db := client.NewLocal(tree, "s1")
	storage := &fakeStorage{objects: make(map[string][]byte)}
	ch := model.Channel{ID: model.DirectChannelID("ann", "bo"), Name: "Bo"}
	f := &views.MessageForm{DB: db, Storage: storage, User: ann, Channel: ch, Private: true}

	require.NoError(t, f.Upload(ctx, []byte("jpeg"), "image/jpeg"))
	assert.Equal(t, views.UploadDone, f.UploadState())
	assert.Equal(t, float64(100), f.PercentUploaded())

	require.Len(t, storage.objects, 1)
	for p := range storage.objects {
		assert.Contains(t, p, "chat/private/dm:ann:bo/")
	}
	raw, ok := tree.Get(model.MessagesPath(ch.ID, true))
	require.True(t, ok)
	assert.Contains(t, string(raw), "http://files.test/files/chat/private/dm:ann:bo/")

	storage.fail = errors.New("disk full")
	assert.Error(t, f.Upload(ctx, []byte("jpeg"), "image/jpeg"))
	assert.Equal(t, views.UploadError, f.UploadState())
	assert.True(t, f.Errors.Mentions("disk full"))
}

func TestMessageFormUnmountCancelsUpload(t *testing.T) {
	db := client.NewLocal(newTree(t), "s1")
	f := &views.MessageForm{DB: db, Storage: &fakeStorage{block: true}, User: ann, Channel: model.Channel{ID: "general"}}

	done := make(chan error, 1)
	go func() { done <- f.Upload(context.Background(), []byte("x"), "image/jpeg") }()
	require.Eventually(t, func() bool { return f.UploadState() == views.UploadUploading }, time.Second, 5*time.Millisecond)

	f.Unmount()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, views.UploadError, f.UploadState())
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUserPanelAvatar(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	db := client.NewLocal(tree, "s1")
	storage := &fakeStorage{objects: make(map[string][]byte)}
	auth := &fakeAuth{users: map[string]model.User{}}
	shell := views.NewShell(views.NewStore())
	p := &views.UserPanel{DB: db, Auth: auth, Storage: storage, Shell: shell, User: ann}

	_, err := p.UploadAvatar(ctx)
	assert.ErrorIs(t, err, views.ErrNoImage)

	_, err = p.LoadImage(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)

	preview, err := p.LoadImage(bytes.NewReader(testPNG(t, 300, 200)))
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(preview))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 120), img.Bounds())

	url, err := p.UploadAvatar(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://files.test/files/avatar/users/ann", url)
	assert.Contains(t, storage.objects, "avatar/users/ann")
	assert.Equal(t, url, shell.Store.State().User.CurrentUser.PhotoURL)

	raw, ok := tree.Get("users/ann/avatar")
	require.True(t, ok)
	assert.JSONEq(t, `"`+url+`"`, string(raw))
	assert.Nil(t, p.Preview())

	p.SignOut()
	assert.Equal(t, 1, auth.signOuts)
	assert.Equal(t, views.RouteLogin, shell.View())
}

// flakyDB fails every On after the first ok calls.
type flakyDB struct {
	views.Database
	ok    int
	calls int
}

var errSubscribe = errors.New("subscribe refused")

func (f *flakyDB) On(p string, event realtime.Event, h realtime.Handler) (views.Listener, error) {
	f.calls++
	if f.calls > f.ok {
		return nil, errSubscribe
	}
	return f.Database.On(p, event, h)
}

func TestMountFailureReleasesListeners(t *testing.T) {
	ctx := context.Background()

	t.Run("messages view", func(t *testing.T) {
		tree := newTree(t)
		db := &flakyDB{Database: client.NewLocal(tree, "ann-session"), ok: 2}
		v := &views.MessagesView{DB: db, Store: views.NewStore(), User: ann, Channel: model.Channel{ID: "general", Name: "general"}}

		require.ErrorIs(t, v.Mount(ctx), errSubscribe)
		assert.Equal(t, 0, tree.Listeners(model.MessagesPath("general", false)))
		assert.Equal(t, 0, tree.Listeners(model.TypingChannelPath("general")))
		assert.NotEmpty(t, v.Errors.Errors())
		v.Unmount()
	})

	t.Run("direct messages", func(t *testing.T) {
		tree := newTree(t)
		db := &flakyDB{Database: client.NewLocal(tree, "ann-session"), ok: 2}
		d := &views.DirectMessages{DB: db, Store: views.NewStore(), User: ann}

		require.ErrorIs(t, d.Mount(ctx), errSubscribe)
		assert.Equal(t, 0, tree.Listeners(model.PresenceRoot))
		assert.Equal(t, 0, tree.Listeners(model.UsersRoot))
		_, ok := tree.Get(model.PresencePath("ann"))
		assert.False(t, ok)
	})
}
