package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/devchat/pkg/realtime"
)

func TestAuthorizeRead(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"channels", true},
		{"messages/general", true},
		{"users", true},
		{"typing/general", true},
		{"presence", true},
		{"privateMessages/dm:ann:bo", true},
		{"privateMessages/dm:bo:cy", false},
		{"privateMessages", false},
		{"secrets", false},
		{"", false},
	}
	for _, tt := range tests {
		err := authorizeRead("ann", tt.path)
		if tt.ok {
			assert.NoError(t, err, tt.path)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, tt.path)
		}
	}
}

func TestAuthorizeWrite(t *testing.T) {
	tests := []struct {
		name string
		m    realtime.Mutation
		ok   bool
	}{
		{"own profile", realtime.Mutation{Op: realtime.OpSet, Path: "users/ann"}, true},
		{"own avatar", realtime.Mutation{Op: realtime.OpSet, Path: "users/ann/avatar"}, true},
		{"other profile", realtime.Mutation{Op: realtime.OpSet, Path: "users/bo/name"}, false},
		{"all users", realtime.Mutation{Op: realtime.OpRemove, Path: "users"}, false},
		{"own presence", realtime.Mutation{Op: realtime.OpSet, Path: "presence/ann"}, true},
		{"other presence", realtime.Mutation{Op: realtime.OpRemove, Path: "presence/bo"}, false},
		{"own typing", realtime.Mutation{Op: realtime.OpSet, Path: "typing/general/ann"}, true},
		{"other typing", realtime.Mutation{Op: realtime.OpRemove, Path: "typing/general/bo"}, false},
		{"typing channel", realtime.Mutation{Op: realtime.OpRemove, Path: "typing/general"}, false},
		{"push message", realtime.Mutation{Op: realtime.OpPush, Path: "messages/general", Key: "0001"}, true},
		{"wipe channel", realtime.Mutation{Op: realtime.OpRemove, Path: "messages/general"}, false},
		{"own conversation", realtime.Mutation{Op: realtime.OpPush, Path: "privateMessages/dm:ann:bo", Key: "0001"}, true},
		{"other conversation", realtime.Mutation{Op: realtime.OpPush, Path: "privateMessages/dm:bo:cy", Key: "0001"}, false},
		{"new channel", realtime.Mutation{Op: realtime.OpPush, Path: "channels", Key: "0001"}, true},
		{"all channels", realtime.Mutation{Op: realtime.OpSet, Path: "channels"}, false},
		{"update mixes owners", realtime.Mutation{Op: realtime.OpUpdate, Path: "users", Fields: map[string]json.RawMessage{
			"ann/name": json.RawMessage(`"a"`),
			"bo/name":  json.RawMessage(`"b"`),
		}}, false},
		{"unknown root", realtime.Mutation{Op: realtime.OpSet, Path: "admin/flags"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeWrite("ann", tt.m)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}
