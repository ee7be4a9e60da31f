package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "photos"), "http://127.0.0.1:8080/")
	require.NoError(t, err)

	content := []byte("not really a jpeg")
	meta, err := s.Put(ctx, "2026/IMG_1.jpg", "", bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, ValidateFileMetadata(meta))

	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, meta.SHA256)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, "image/jpeg", meta.MIME)
	assert.Equal(t, "http://127.0.0.1:8080/media/2026/IMG_1.jpg", meta.URL)
	assert.Equal(t, want, meta.ToMap()["sha256"])

	rc, err := s.Get(ctx, "2026/IMG_1.jpg")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, s.Delete(ctx, "2026/IMG_1.jpg"))
	_, err = os.Stat(meta.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_RejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	for _, name := range []string{"", "../x.jpg", "a/../../x.jpg", "/etc/passwd", ".", ".."} {
		_, err := s.Put(ctx, name, "image/jpeg", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	assert.ErrorIs(t, s.Delete(ctx, "../x"), ErrInvalidName)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestLocalStorage_PartialWriteRemoved(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "IMG.jpg", "image/jpeg", failingReader{})
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "IMG.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalStorage_Walk(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	for _, n := range []string{"a.jpg", "sub/b.png"} {
		_, err := s.Put(ctx, n, "", strings.NewReader(n))
		require.NoError(t, err)
	}

	var names []string
	require.NoError(t, s.Walk(ctx, func(o Object) error {
		names = append(names, o.Name)
		assert.False(t, o.ModTime.IsZero())
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"a.jpg", "sub/b.png"}, names)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Walk(cancelled, func(Object) error { return nil }), context.Canceled)
}

func TestLocalOpener(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "photos", "2026")
	open := LocalOpener("http://box/")

	s, err := open(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	meta, err := s.Put(context.Background(), "IMG.jpg", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://box/media/IMG.jpg", meta.URL)
	assert.Equal(t, filepath.Join(dir, "IMG.jpg"), meta.Path)
}

func TestFilePolicy(t *testing.T) {
	p := CapturePolicy(1)

	assert.NoError(t, p.ValidateFile("IMG.jpg", "image/jpeg", 1000))
	assert.NoError(t, p.ValidateFile("IMG.PNG", "image/png; q=1", 1000))
	assert.Error(t, p.ValidateFile("IMG.jpg", "image/jpeg", 2*1024*1024))
	assert.ErrorIs(t, p.ValidateFile("IMG.gif", "image/gif", 10), ErrPolicyViolation)
	assert.Error(t, p.ValidateFile("IMG.jpg", "video/mp4", 10))

	var none *FilePolicy
	assert.NoError(t, none.ValidateFile("x", "y", 1<<40))
}
