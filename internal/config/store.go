package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DocumentValidator checks the structure of a raw document before it is
// decoded.
type DocumentValidator interface {
	ValidateDocument(ctx context.Context, raw []byte) error
}

// LoadError reports a document that could not be used in full. The model
// returned next to it is still usable: either all defaults (Err set) or the
// document with the offending fields left at their defaults (Fields set).
type LoadError struct {
	Path   string
	Err    error
	Fields []error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %v", e.Path, e.Err)
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("load %s: %d invalid field(s): %s", e.Path, len(e.Fields), strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err}
	}
	return e.Fields
}

// Load reads the document at path over defaults. It always returns a usable
// model unless the defaults themselves are invalid.
func Load(ctx context.Context, path string, defaults Document, validator DocumentValidator) (*Model, error) {
	base, err := New(defaults)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return base, &LoadError{Path: path, Err: err}
	}

	if validator != nil {
		if err := validator.ValidateDocument(ctx, raw); err != nil {
			return base, &LoadError{Path: path, Err: err}
		}
	}

	doc, unknown, err := decodeDocument(raw, defaults)
	if err != nil {
		return base, &LoadError{Path: path, Err: err}
	}

	m := base.Clone()
	errs := m.apply(doc)
	m.unknown = unknown
	m.Version = doc.Version
	m.LastModified = doc.LastModified

	// Cross-field failures fall back to the default section.
	if m.Pacs.enabled && m.Pacs.host == "" {
		errs = append(errs, invalid("pacs.host", Required, ""))
		m.Pacs = base.Pacs
	}
	if m.MwlSettings.enabled && m.MwlSettings.host == "" {
		errs = append(errs, invalid("mwl.host", Required, ""))
		m.MwlSettings = base.MwlSettings
	}

	if len(errs) > 0 {
		return m, &LoadError{Path: path, Fields: errs}
	}
	return m, nil
}

// Store owns the single live model and its document on disk.
type Store struct {
	path      string
	defaults  Document
	validator DocumentValidator
	log       *zap.Logger

	mu    sync.RWMutex
	model *Model

	// saving admits one writer at a time; later writers queue on it.
	saving chan struct{}

	listenersMu sync.Mutex
	listeners   []func(*Model)

	now           func() time.Time
	onSave        func(err error)
	beforeReplace func(tmpPath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithValidator checks documents structurally before decoding.
func WithValidator(v DocumentValidator) Option {
	return func(s *Store) { s.validator = v }
}

// WithClock overrides the clock used for LastModified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSaveObserver is called after every write attempt with its result.
func WithSaveObserver(fn func(err error)) Option {
	return func(s *Store) { s.onSave = fn }
}

// Open loads the document at path. A non-nil *LoadError is informational:
// the store is usable and holds defaults for whatever could not be loaded.
func Open(ctx context.Context, path string, defaults Document, log *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		defaults: defaults,
		log:      log,
		saving:   make(chan struct{}, 1),
		now:      time.Now,
		onSave:   func(error) {},
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := Load(ctx, path, defaults, s.validator)
	if m == nil {
		return nil, err
	}
	s.model = m

	if err != nil {
		log.Warn("Configuration loaded with errors, using defaults where needed",
			zap.String("path", path),
			zap.Error(err),
		)
	} else {
		log.Info("Configuration loaded", zap.String("path", path), zap.Int("version", m.Version))
	}
	return s, err
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the live model.
func (s *Store) Snapshot() *Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Clone()
}

// OnChange registers a listener called with a snapshot after every
// successful write.
func (s *Store) OnChange(fn func(*Model)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// Update mutates a copy of the live model with fn, validates it, writes it
// and only then makes it live. On any error the live model is unchanged.
func (s *Store) Update(ctx context.Context, fn func(m *Model) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	next := s.Snapshot()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.Version++
	return s.commit(next)
}

// Save writes the live model as is.
func (s *Store) Save(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	next := s.Snapshot()
	next.Version++
	return s.commit(next)
}

// Reset replaces the live model with defaults, keeping the version counter
// moving forward.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	next, err := New(s.defaults)
	if err != nil {
		return err
	}
	next.Version = s.Snapshot().Version + 1
	return s.commit(next)
}

// Export returns the live document, indented.
func (s *Store) Export() ([]byte, error) {
	return json.MarshalIndent(s.Snapshot(), "", "  ")
}

// Import replaces the live model with raw when raw carries a newer version.
// It reports whether the import was applied. Any invalid field rejects the
// whole import.
func (s *Store) Import(ctx context.Context, raw []byte) (bool, error) {
	if s.validator != nil {
		if err := s.validator.ValidateDocument(ctx, raw); err != nil {
			return false, err
		}
	}
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()

	current := s.Snapshot()
	doc, unknown, err := decodeDocument(raw, current.Document())
	if err != nil {
		return false, err
	}
	if doc.Version <= current.Version {
		return false, nil
	}

	next := current.Clone()
	if errs := next.apply(doc); len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	if err := next.Validate(); err != nil {
		return false, err
	}
	next.unknown = unknown
	next.Version = doc.Version
	return true, s.commit(next)
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.saving <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for save: %w", ctx.Err())
	}
}

func (s *Store) release() { <-s.saving }

// commit persists next and swaps it in. Callers hold the save slot.
func (s *Store) commit(next *Model) error {
	next.LastModified = s.now().UTC()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data = append(data, '\n')

	err = s.writeAtomic(data)
	s.onSave(err)
	if err != nil {
		s.log.Error("Failed to save configuration", zap.String("path", s.path), zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.model = next
	s.mu.Unlock()

	s.log.Info("Configuration saved", zap.String("path", s.path), zap.Int("version", next.Version))
	s.notify(next)
	return nil
}

func (s *Store) notify(m *Model) {
	s.listenersMu.Lock()
	listeners := append([]func(*Model){}, s.listeners...)
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(m.Clone())
	}
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the target, so readers see either the old or the new document.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		_ = tmp.Close()
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", s.path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", s.path, err)
	}

	if s.beforeReplace != nil {
		if err := s.beforeReplace(tmpPath); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", s.path, err)
	}
	renamed = true
	return nil
}
