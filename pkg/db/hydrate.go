package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahaj/devchat/pkg/model"
)

// HistoryLimit bounds how many messages a channel is hydrated with.
const HistoryLimit = 500

type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetChannels
	TargetUsers
	TargetMessages
	TargetPrivateMessages
	TargetColors
	TargetStarred
)

// Target is a realtime path whose subtree is backed by Scylla.
type Target struct {
	Kind TargetKind
	ID   string // channel id or uid
}

// Classify maps a realtime path to the Scylla data behind it.
func Classify(p string) Target {
	segs := model.SplitPath(p)
	switch len(segs) {
	case 1:
		switch segs[0] {
		case model.ChannelsRoot:
			return Target{Kind: TargetChannels}
		case model.UsersRoot:
			return Target{Kind: TargetUsers}
		}
	case 2:
		switch segs[0] {
		case model.MessagesRoot:
			return Target{Kind: TargetMessages, ID: segs[1]}
		case model.PrivateMessagesRoot:
			return Target{Kind: TargetPrivateMessages, ID: segs[1]}
		}
	case 3:
		if segs[0] != model.UsersRoot {
			break
		}
		switch segs[2] {
		case "colors":
			return Target{Kind: TargetColors, ID: segs[1]}
		case "starred":
			return Target{Kind: TargetStarred, ID: segs[1]}
		}
	}
	return Target{}
}

func rowsObject(rows []Row) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		if json.Valid(r.Body) {
			obj[r.Key] = r.Body
		}
	}
	return json.Marshal(obj)
}

// Hydrate loads the persisted subtree at p as JSON. Paths that are not
// backed by Scylla yield nil.
func (s *Session) Hydrate(ctx context.Context, p string) (json.RawMessage, error) {
	t := Classify(p)
	switch t.Kind {
	case TargetChannels:
		rows, err := s.ChannelRows(ctx)
		if err != nil {
			return nil, err
		}
		return rowsObject(rows)
	case TargetUsers:
		profiles, err := s.Profiles(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(profiles)
	case TargetMessages, TargetPrivateMessages:
		rows, err := s.MessageRows(ctx, t.Kind == TargetPrivateMessages, t.ID, HistoryLimit)
		if err != nil {
			return nil, err
		}
		return rowsObject(rows)
	case TargetColors:
		colors, err := s.Colors(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(colors)
	case TargetStarred:
		rows, err := s.StarredRows(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return rowsObject(rows)
	case TargetNone:
		return nil, nil
	}
	return nil, fmt.Errorf("hydrate %s: unknown target", p)
}
