// Package capture takes still images from a video device and stores them.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"smartbox/internal/storage"
)

var ErrDeviceNotFound = errors.New("capture device not found")

// Info describes a device to the UI.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Frame is one encoded still image.
type Frame struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Device is a source of still images.
type Device interface {
	Info() Info
	Capture(ctx context.Context, quality int) (Frame, error)
}

// Manager owns the known devices and writes captures to media storage.
type Manager struct {
	log    *zap.Logger
	open   storage.Opener
	policy *storage.FilePolicy
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string]Device
}

// NewManager stores captures through open, after checking them against
// policy.
func NewManager(log *zap.Logger, open storage.Opener, policy *storage.FilePolicy, devices ...Device) *Manager {
	m := &Manager{
		log:     log,
		open:    open,
		policy:  policy,
		now:     time.Now,
		devices: make(map[string]Device, len(devices)),
	}
	for _, d := range devices {
		m.devices[d.Info().ID] = d
	}
	return m
}

// Devices lists the known devices ordered by id.
func (m *Manager) Devices() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the device with id, or the first device when id is empty.
func (m *Manager) Resolve(id string) (Device, error) {
	if id == "" {
		devices := m.Devices()
		if len(devices) == 0 {
			return nil, ErrDeviceNotFound
		}
		id = devices[0].ID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return d, nil
}

// Capture takes one image from deviceID and stores it below dir in a
// per-day folder.
func (m *Manager) Capture(ctx context.Context, deviceID, dir string, quality int) (storage.FileMetadata, error) {
	dev, err := m.Resolve(deviceID)
	if err != nil {
		return storage.FileMetadata{}, err
	}

	frame, err := dev.Capture(ctx, quality)
	if err != nil {
		return storage.FileMetadata{}, fmt.Errorf("capture from %s: %w", dev.Info().ID, err)
	}

	now := m.now().UTC()
	name := path.Join(now.Format("2006-01-02"), "IMG_"+ulid.Make().String()+extension(frame.ContentType))
	if err := m.policy.ValidateFile(name, frame.ContentType, int64(len(frame.Data))); err != nil {
		return storage.FileMetadata{}, fmt.Errorf("capture rejected: %w", err)
	}

	store, err := m.open(dir)
	if err != nil {
		return storage.FileMetadata{}, fmt.Errorf("open media store: %w", err)
	}
	meta, err := store.Put(ctx, name, frame.ContentType, bytes.NewReader(frame.Data))
	if err != nil {
		return storage.FileMetadata{}, err
	}
	if err := storage.ValidateFileMetadata(meta); err != nil {
		return storage.FileMetadata{}, err
	}

	m.log.Info("Image captured",
		zap.String("device", dev.Info().ID),
		zap.String("name", meta.Name),
		zap.Int64("size", meta.Size),
		zap.String("sha256", meta.SHA256),
	)
	return meta, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}
