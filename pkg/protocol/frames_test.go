package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/devchat/pkg/realtime"
)

func TestParseSubscribe(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"subscribe","id":7,"data":{"sub":3,"path":"messages/general","event":"child_added"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, env.Type)
	assert.Equal(t, uint64(7), env.ID)

	var sub Subscribe
	require.NoError(t, env.Decode(&sub))
	assert.Equal(t, Subscribe{Sub: 3, Path: "messages/general", Event: realtime.ChildAdded}, sub)
}

func TestParseRejectsBadFrames(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"id":1}`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)

	env, err := ParseEnvelope([]byte(`{"type":"set","id":1}`))
	require.NoError(t, err)
	var w Write
	assert.Error(t, env.Decode(&w))
}

func TestEncodeEvent(t *testing.T) {
	raw, err := Encode(TypeEvent, 0, Event{Sub: 1, Event: realtime.Value, Path: "users/u1", Key: "u1", Value: json.RawMessage(`{"name":"ann"}`)})
	require.NoError(t, err)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Zero(t, env.ID)

	var ev Event
	require.NoError(t, env.Decode(&ev))
	snap := ev.Snapshot()
	assert.Equal(t, "u1", snap.Key)
	assert.True(t, snap.Exists())
	assert.JSONEq(t, `{"name":"ann"}`, string(snap.Value))
}

func TestErrorFrame(t *testing.T) {
	e := &Error{Code: ErrCodeForbidden, Message: "users/u2 belongs to another user"}
	assert.Equal(t, "forbidden: users/u2 belongs to another user", e.Error())
}
