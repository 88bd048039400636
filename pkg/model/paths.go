package model

import (
	"path"
	"strings"
)

// Realtime database roots.
const (
	UsersRoot           = "users"
	ChannelsRoot        = "channels"
	MessagesRoot        = "messages"
	PrivateMessagesRoot = "privateMessages"
	TypingRoot          = "typing"
	PresenceRoot        = "presence"
	ConnectedPath       = ".info/connected"
)

func UserPath(uid string) string     { return path.Join(UsersRoot, uid) }
func ColorsPath(uid string) string   { return path.Join(UsersRoot, uid, "colors") }
func StarredPath(uid string) string  { return path.Join(UsersRoot, uid, "starred") }
func PresencePath(uid string) string { return path.Join(PresenceRoot, uid) }

// MessagesPath is the message list of a channel; direct conversations live
// under privateMessages.
func MessagesPath(channelID string, private bool) string {
	if private {
		return path.Join(PrivateMessagesRoot, channelID)
	}
	return path.Join(MessagesRoot, channelID)
}

func TypingChannelPath(channelID string) string { return path.Join(TypingRoot, channelID) }

func TypingPath(channelID, uid string) string { return path.Join(TypingRoot, channelID, uid) }

// Object storage paths.
const (
	AvatarPrefix      = "avatar/users"
	PublicChatPrefix  = "chat/public"
	PrivateChatPrefix = "chat/private"
)

func AvatarObject(uid string) string { return path.Join(AvatarPrefix, uid) }

// ChatObject is where an image attachment for a channel is uploaded.
func ChatObject(channelID string, private bool, id string) string {
	if private {
		return path.Join(PrivateChatPrefix, channelID, id+".jpg")
	}
	return path.Join(PublicChatPrefix, id+".jpg")
}

// SplitPath returns the non-empty segments of a slash separated path.
func SplitPath(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
