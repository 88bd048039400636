package main

import (
	"errors"
	"fmt"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

var ErrForbidden = errors.New("forbidden")

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// authorizeRead decides whether uid may listen to or read p.
func authorizeRead(uid, p string) error {
	segs := model.SplitPath(p)
	if len(segs) == 0 {
		return forbidden("the root cannot be read")
	}
	switch segs[0] {
	case model.PrivateMessagesRoot:
		if len(segs) < 2 || !model.IsParticipant(segs[1], uid) {
			return forbidden("%s is not your conversation", p)
		}
	case model.UsersRoot, model.ChannelsRoot, model.MessagesRoot, model.TypingRoot, model.PresenceRoot:
	default:
		return forbidden("unknown root %q", segs[0])
	}
	return nil
}

// authorizeWrite checks every path a mutation writes.
func authorizeWrite(uid string, m realtime.Mutation) error {
	for _, p := range m.Touched() {
		if err := authorizePath(uid, p); err != nil {
			return err
		}
	}
	return nil
}

func authorizePath(uid, p string) error {
	segs := model.SplitPath(p)
	if len(segs) == 0 {
		return forbidden("the root cannot be written")
	}
	switch segs[0] {
	case model.UsersRoot, model.PresenceRoot:
		if len(segs) < 2 || segs[1] != uid {
			return forbidden("%s belongs to another user", p)
		}
	case model.TypingRoot:
		if len(segs) < 3 || segs[2] != uid {
			return forbidden("%s is not your typing marker", p)
		}
	case model.MessagesRoot:
		if len(segs) < 3 {
			return forbidden("messages are written one at a time")
		}
	case model.PrivateMessagesRoot:
		if len(segs) < 3 || !model.IsParticipant(segs[1], uid) {
			return forbidden("%s is not your conversation", p)
		}
	case model.ChannelsRoot:
		if len(segs) < 2 {
			return forbidden("channels are written one at a time")
		}
	default:
		return forbidden("unknown root %q", segs[0])
	}
	return nil
}
