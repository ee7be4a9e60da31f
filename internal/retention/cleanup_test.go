package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartbox/internal/config"
	"smartbox/internal/storage"
)

type fixed struct{ m *config.Model }

func (f fixed) Snapshot() *config.Model { return f.m.Clone() }

var now = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

func setup(t *testing.T, enable bool, days int) (fixed, string) {
	t.Helper()
	root := t.TempDir()
	doc := config.Document{
		Application: config.ApplicationDoc{Language: "de", LogLevel: "info"},
		Dicom:       config.DicomDoc{AETitle: "SMARTBOX", StationName: "S1", Modality: "XC", LocalPort: 11112},
		Storage: config.StorageDoc{
			PhotosPath:        filepath.Join(root, "photos"),
			VideosPath:        filepath.Join(root, "videos"),
			DicomPath:         filepath.Join(root, "missing"),
			RetentionDays:     days,
			EnableAutoCleanup: enable,
		},
		Pacs:        config.PacsDoc{Host: "localhost", Port: 104, CalledAETitle: "ORTHANC", CallingAETitle: "SMARTBOX"},
		MwlSettings: config.MwlDoc{Host: "localhost", Port: 105, CalledAETitle: "ORTHANC", CallingAETitle: "SMARTBOX", QueryPeriod: "today"},
		Video:       config.VideoDoc{Resolution: "1920x1080", FrameRate: 30, Codec: "h264", JpegQuality: 90},
	}
	m, err := config.New(doc)
	require.NoError(t, err)
	return fixed{m}, root
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))
	mt := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func TestRun_RemovesExpired(t *testing.T) {
	cfg, root := setup(t, true, 7)
	old := filepath.Join(root, "photos", "2026-02-01", "IMG_old.jpg")
	fresh := filepath.Join(root, "photos", "2026-03-09", "IMG_new.jpg")
	oldVideo := filepath.Join(root, "videos", "v.mp4")
	touch(t, old, 8*24*time.Hour)
	touch(t, fresh, 24*time.Hour)
	touch(t, oldVideo, 30*24*time.Hour)

	var hooked int
	s := NewService(cfg, "", zap.NewNop(), WithClock(func() time.Time { return now }), WithRemovedHook(func(n int) { hooked = n }))
	res, err := s.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RemovedFiles)
	assert.Equal(t, int64(10), res.RemovedBytes)
	assert.Equal(t, 2, hooked)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldVideo)
	assert.FileExists(t, fresh)
	assert.Equal(t, 2, res.ToMap()["removedFiles"])
}

// readOnly refuses to delete one object.
type readOnly struct {
	storage.Storage
	name string
}

func (r readOnly) Delete(ctx context.Context, name string) error {
	if name == r.name {
		return errors.New("read-only file system")
	}
	return r.Storage.Delete(ctx, name)
}

func TestRun_DeleteFailureCounted(t *testing.T) {
	cfg, root := setup(t, true, 7)
	stuck := filepath.Join(root, "photos", "2026-02-01", "IMG_stuck.jpg")
	gone := filepath.Join(root, "photos", "2026-02-01", "IMG_gone.jpg")
	touch(t, stuck, 10*24*time.Hour)
	touch(t, gone, 10*24*time.Hour)

	var opened []string
	open := func(dir string) (storage.Storage, error) {
		opened = append(opened, dir)
		s, err := storage.NewLocalStorage(dir, "")
		if err != nil {
			return nil, err
		}
		return readOnly{Storage: s, name: "2026-02-01/IMG_stuck.jpg"}, nil
	}

	s := NewService(cfg, "", zap.NewNop(), WithClock(func() time.Time { return now }), WithStorage(open))
	res, err := s.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RemovedFiles)
	assert.Equal(t, 1, res.Errors)
	assert.FileExists(t, stuck)
	assert.NoFileExists(t, gone)
	// the dicom directory does not exist and is never opened
	assert.Equal(t, []string{filepath.Join(root, "photos")}, opened)
}

func TestRun_DisabledSkips(t *testing.T) {
	cfg, root := setup(t, false, 7)
	old := filepath.Join(root, "photos", "IMG_old.jpg")
	touch(t, old, 100*24*time.Hour)

	s := NewService(cfg, "", zap.NewNop(), WithClock(func() time.Time { return now }))
	res, err := s.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.FileExists(t, old)

	// a forced run from the UI ignores the flag
	res, err = s.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedFiles)
}

func TestRun_ZeroRetentionNeverRemoves(t *testing.T) {
	cfg, root := setup(t, false, 0)
	old := filepath.Join(root, "photos", "IMG_old.jpg")
	touch(t, old, 100*24*time.Hour)

	res, err := NewService(cfg, "", zap.NewNop()).Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.FileExists(t, old)
}

func TestStartStop(t *testing.T) {
	cfg, _ := setup(t, true, 7)

	s := NewService(cfg, "*/1 * * * * *", zap.NewNop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()

	bad := NewService(cfg, "not a schedule", zap.NewNop())
	assert.Error(t, bad.Start())
	bad.Stop()
}
