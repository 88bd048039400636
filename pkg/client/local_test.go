package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
)

func TestLocal(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	l := NewLocal(realtime.NewTree(node), "s1")
	l.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	var added []string
	lis, err := l.On("messages/general", realtime.ChildAdded, func(s realtime.Snapshot) { added = append(added, s.Key) })
	require.NoError(t, err)

	key, err := l.Push(ctx, "messages/general", map[string]any{"timestamp": map[string]string{".sv": "timestamp"}})
	require.NoError(t, err)
	assert.Equal(t, []string{key}, added)

	snap, err := l.Once(ctx, "messages/general/"+key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":42}`, string(snap.Value))

	l.Off(lis)
	_, err = l.Push(ctx, "messages/general", "x")
	require.NoError(t, err)
	assert.Len(t, added, 1)

	var states []bool
	cancel := l.OnConnected(func(c bool) { states = append(states, c) })
	require.NoError(t, l.Set(ctx, "typing/general/u1", "ann"))
	require.NoError(t, l.OnDisconnectRemove(ctx, "typing/general/u1"))
	require.NoError(t, l.Disconnect())
	assert.Equal(t, []bool{true, false}, states)
	_, ok := l.Tree().Get("typing/general/u1")
	assert.False(t, ok)
	cancel()

	_, err = l.On("bad//path", realtime.Value, func(realtime.Snapshot) {})
	assert.ErrorIs(t, err, realtime.ErrInvalidPath)
}
