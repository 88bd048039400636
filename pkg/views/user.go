package views

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/avatar"
	"github.com/mahaj/devchat/pkg/model"
)

// UserPanel changes the avatar and signs out.
type UserPanel struct {
	DB      Database
	Auth    Auth
	Storage Storage
	Shell   *Shell
	User    model.User
	Errors  ErrorList

	mu      sync.Mutex
	preview []byte
}

// LoadImage crops the largest centered square of the image and keeps it as
// the avatar preview.
func (p *UserPanel) LoadImage(r io.Reader) ([]byte, error) {
	img, err := avatar.Decode(r)
	if err != nil {
		p.Errors.Add(err)
		return nil, err
	}
	blob, err := avatar.EncodeJPEG(avatar.CropSquare(img, avatar.Size))
	if err != nil {
		p.Errors.Add(err)
		return nil, err
	}
	p.mu.Lock()
	p.preview = blob
	p.mu.Unlock()
	return blob, nil
}

func (p *UserPanel) Preview() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preview
}

// UploadAvatar stores the preview, points the profile and users/{uid} at
// it and returns the new photo URL.
func (p *UserPanel) UploadAvatar(ctx context.Context) (string, error) {
	blob := p.Preview()
	if len(blob) == 0 {
		p.Errors.Add(ErrNoImage)
		return "", ErrNoImage
	}
	url, err := p.Storage.Upload(ctx, model.AvatarObject(p.User.UID), avatar.ContentType, blob, nil)
	if err != nil {
		p.Errors.Add(err)
		return "", err
	}

	u, err := p.Auth.UpdateProfile(ctx, nil, &url)
	if err != nil {
		log.Error().Err(err).Msg("failed to update profile photo")
		p.Errors.Add(err)
	} else {
		p.User = u
		if p.Shell != nil {
			p.Shell.Store.Dispatch(SetUser{User: u})
		}
	}

	if err := p.DB.Update(ctx, model.UserPath(p.User.UID), map[string]any{"avatar": url}); err != nil {
		log.Error().Err(err).Msg("failed to update user avatar")
		p.Errors.Add(err)
		return url, err
	}
	p.mu.Lock()
	p.preview = nil
	p.mu.Unlock()
	return url, err
}

func (p *UserPanel) SignOut() {
	p.Auth.SignOut()
	if p.Shell != nil {
		p.Shell.AuthStateChanged(nil)
	}
}
