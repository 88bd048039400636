package views

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/emoji"
	"github.com/mahaj/devchat/pkg/model"
)

type UploadState string

const (
	UploadIdle      UploadState = ""
	UploadUploading UploadState = "uploading"
	UploadDone      UploadState = "done"
	UploadError     UploadState = "error"
)

// outgoing is the message body written by the composer. The timestamp is
// filled in by the gateway.
type outgoing struct {
	Timestamp any          `json:"timestamp"`
	User      model.Author `json:"user"`
	Content   string       `json:"content,omitempty"`
	Image     string       `json:"image,omitempty"`
}

// MessageForm is the composer below the messages.
type MessageForm struct {
	DB      Database
	Storage Storage
	User    model.User
	Channel model.Channel
	Private bool
	Errors  ErrorList

	mu           sync.Mutex
	draft        string
	sending      bool
	uploadState  UploadState
	percent      float64
	cancelUpload context.CancelFunc
}

func (f *MessageForm) Draft() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

func (f *MessageForm) typingPath() string {
	return model.TypingPath(f.Channel.ID, f.User.UID)
}

// SetDraft replaces the draft and updates this user's typing marker: set
// while the draft has text, removed once it is empty.
func (f *MessageForm) SetDraft(ctx context.Context, text string) error {
	f.mu.Lock()
	f.draft = text
	f.mu.Unlock()
	return f.syncTyping(ctx, text)
}

func (f *MessageForm) syncTyping(ctx context.Context, text string) error {
	var err error
	if text != "" {
		err = f.DB.Set(ctx, f.typingPath(), f.User.DisplayName)
	} else {
		err = f.DB.Remove(ctx, f.typingPath())
	}
	if err != nil {
		f.Errors.Add(err)
	}
	return err
}

// AddEmoji appends a shortcode to the draft and converts known shortcodes.
func (f *MessageForm) AddEmoji(code string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = emoji.Append(f.draft, code)
	return f.draft
}

func (f *MessageForm) message(content, image string) outgoing {
	return outgoing{
		Timestamp: ServerTimestamp,
		User:      f.User.Author(),
		Content:   content,
		Image:     image,
	}
}

// Send pushes the draft as a message, clears it and removes the typing
// marker.
func (f *MessageForm) Send(ctx context.Context) error {
	f.mu.Lock()
	draft := f.draft
	if strings.TrimSpace(draft) == "" {
		f.mu.Unlock()
		f.Errors.Add(ErrEmptyMessage)
		return ErrEmptyMessage
	}
	f.sending = true
	f.mu.Unlock()

	_, err := f.DB.Push(ctx, model.MessagesPath(f.Channel.ID, f.Private), f.message(draft, ""))

	f.mu.Lock()
	f.sending = false
	if err == nil && f.draft == draft {
		f.draft = ""
	}
	f.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("channel", f.Channel.ID).Msg("failed to send message")
		f.Errors.Add(err)
		return err
	}
	f.Errors.Reset()
	if err := f.DB.Remove(ctx, f.typingPath()); err != nil {
		f.Errors.Add(err)
	}
	return nil
}

func (f *MessageForm) Sending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sending
}

// Upload stores an image attachment and posts it as a message. The upload
// runs until it finishes, ctx is done or the form is unmounted.
func (f *MessageForm) Upload(ctx context.Context, data []byte, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if f.uploadState == UploadUploading {
		f.mu.Unlock()
		return nil
	}
	f.uploadState = UploadUploading
	f.percent = 0
	f.cancelUpload = cancel
	f.mu.Unlock()

	p := model.ChatObject(f.Channel.ID, f.Private, uuid.NewString())
	url, err := f.Storage.Upload(ctx, p, contentType, data, func(sent, total int64) {
		if total <= 0 {
			return
		}
		f.mu.Lock()
		f.percent = float64(sent) / float64(total) * 100
		f.mu.Unlock()
	})
	if err == nil {
		_, err = f.DB.Push(ctx, model.MessagesPath(f.Channel.ID, f.Private), f.message("", url))
	}

	f.mu.Lock()
	f.cancelUpload = nil
	if err != nil {
		f.uploadState = UploadError
	} else {
		f.uploadState = UploadDone
	}
	f.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("path", p).Msg("upload failed")
		f.Errors.Add(err)
	}
	return err
}

func (f *MessageForm) UploadState() UploadState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadState
}

// PercentUploaded is the progress of the current or last upload.
func (f *MessageForm) PercentUploaded() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.percent
}

// Unmount cancels an upload in flight.
func (f *MessageForm) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelUpload != nil {
		f.cancelUpload()
		f.cancelUpload = nil
	}
}
