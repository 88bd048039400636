package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTest(t)

	obj, err := s.Put("avatar/users/u1", "image/jpeg", []byte("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), obj.Size)

	got, data, err := s.Get("/avatar/users/u1")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, []byte("jpegbytes"), data)

	// overwrite keeps a single object
	_, err = s.Put("avatar/users/u1", "image/jpeg", []byte("new"))
	require.NoError(t, err)
	_, data, err = s.Get("avatar/users/u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestNotFoundAndDelete(t *testing.T) {
	s := openTest(t)

	_, _, err := s.Get("chat/public/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put("chat/public/a.jpg", "image/jpeg", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, s.Delete("chat/public/a.jpg"))

	_, err = s.Stat("chat/public/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidPaths(t *testing.T) {
	s := openTest(t)
	for _, p := range []string{"", "/", "../etc/passwd", "a//b"} {
		_, err := s.Put(p, "text/plain", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestList(t *testing.T) {
	s := openTest(t)
	for _, p := range []string{"chat/private/dm:a:b/2.jpg", "chat/private/dm:a:b/1.jpg", "chat/public/3.jpg"} {
		_, err := s.Put(p, "image/jpeg", []byte(p))
		require.NoError(t, err)
	}

	objs, err := s.List("chat/private/dm:a:b")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "chat/private/dm:a:b/1.jpg", objs[0].Path)
	assert.Equal(t, "chat/private/dm:a:b/2.jpg", objs[1].Path)
}
