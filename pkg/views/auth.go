package views

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
)

// LoginForm signs an existing account in.
type LoginForm struct {
	Auth  Auth
	Shell *Shell

	Email    string
	Password string
	Errors   ErrorList

	mu      sync.Mutex
	loading bool
}

func (f *LoginForm) valid() bool {
	return strings.TrimSpace(f.Email) != "" && f.Password != ""
}

// InputError reports whether an error concerns the named input, so the
// field can be highlighted.
func (f *LoginForm) InputError(field string) bool {
	return f.Errors.Mentions(field)
}

func (f *LoginForm) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *LoginForm) setLoading(v bool) {
	f.mu.Lock()
	f.loading = v
	f.mu.Unlock()
}

func (f *LoginForm) Submit(ctx context.Context) (*model.User, error) {
	if !f.valid() {
		f.Errors.Add(ErrEmptyFields)
		return nil, ErrEmptyFields
	}
	f.Errors.Reset()
	f.setLoading(true)
	defer f.setLoading(false)

	u, err := f.Auth.SignIn(ctx, f.Email, f.Password)
	if err != nil {
		log.Debug().Err(err).Msg("sign in failed")
		f.Errors.Add(err)
		return nil, err
	}
	if f.Shell != nil {
		f.Shell.AuthStateChanged(&u)
	}
	return &u, nil
}

// RegisterForm creates an account and publishes its profile under
// users/{uid}.
type RegisterForm struct {
	Auth  Auth
	Shell *Shell
	// Connect opens the realtime database once the account exists.
	Connect func(ctx context.Context, u model.User) (Database, error)

	Username             string
	Email                string
	Password             string
	PasswordConfirmation string
	Errors               ErrorList

	mu      sync.Mutex
	loading bool
}

func (f *RegisterForm) InputError(field string) bool {
	return f.Errors.Mentions(field)
}

func (f *RegisterForm) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *RegisterForm) setLoading(v bool) {
	f.mu.Lock()
	f.loading = v
	f.mu.Unlock()
}

func (f *RegisterForm) validate() error {
	if strings.TrimSpace(f.Username) == "" || strings.TrimSpace(f.Email) == "" ||
		f.Password == "" || f.PasswordConfirmation == "" {
		return ErrEmptyFields
	}
	if len(f.Password) < 6 || len(f.PasswordConfirmation) < 6 || f.Password != f.PasswordConfirmation {
		return ErrInvalidPassword
	}
	return nil
}

func (f *RegisterForm) Submit(ctx context.Context) (*model.User, error) {
	if err := f.validate(); err != nil {
		f.Errors.Add(err)
		return nil, err
	}
	f.Errors.Reset()
	f.setLoading(true)
	defer f.setLoading(false)

	u, err := f.Auth.SignUp(ctx, f.Username, f.Email, f.Password)
	if err != nil {
		f.Errors.Add(err)
		return nil, err
	}
	if err := f.saveUser(ctx, u); err != nil {
		log.Error().Err(err).Str("uid", u.UID).Msg("failed to save user profile")
		f.Errors.Add(err)
		return &u, err
	}
	if f.Shell != nil {
		f.Shell.AuthStateChanged(&u)
	}
	return &u, nil
}

func (f *RegisterForm) saveUser(ctx context.Context, u model.User) error {
	if f.Connect == nil {
		return nil
	}
	db, err := f.Connect(ctx, u)
	if err != nil {
		return err
	}
	return db.Set(ctx, model.UserPath(u.UID), model.Profile{Name: u.DisplayName, Avatar: u.PhotoURL})
}
