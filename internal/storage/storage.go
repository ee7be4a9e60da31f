// Package storage keeps captured media on the local filesystem.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidName is returned for object names that would escape the base
// directory.
var ErrInvalidName = errors.New("invalid object name")

// Storage is what capture and retention need from a media store.
type Storage interface {
	Put(ctx context.Context, objectName, contentType string, reader io.Reader) (FileMetadata, error)
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectName string) error
	Walk(ctx context.Context, fn func(Object) error) error
}

// Object is a stored file as seen by Walk.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// LocalStorage keeps objects as plain files below baseDir.
type LocalStorage struct {
	baseDir string
	baseURL string
}

// NewLocalStorage creates baseDir if missing. baseURL prefixes object URLs.
func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Opener returns the store rooted at dir.
type Opener func(dir string) (Storage, error)

// LocalOpener opens a LocalStorage per directory. Object URLs are prefixed
// with baseURL.
func LocalOpener(baseURL string) Opener {
	return func(dir string) (Storage, error) {
		s, err := NewLocalStorage(dir, baseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *LocalStorage) resolve(objectName string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectName))
	if objectName == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, objectName)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Put writes the object and returns its metadata. The content is hashed
// while it is written; a partially written file is removed.
func (s *LocalStorage) Put(ctx context.Context, objectName, contentType string, reader io.Reader) (FileMetadata, error) {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return FileMetadata{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return FileMetadata{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to create file: %w", err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(file, hash), reader)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return FileMetadata{}, fmt.Errorf("failed to write file: %w", err)
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fullPath))
	}
	return FileMetadata{
		Name:      filepath.ToSlash(objectName),
		Path:      fullPath,
		URL:       s.baseURL + "/media/" + filepath.ToSlash(objectName),
		Size:      size,
		MIME:      contentType,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *LocalStorage) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) Delete(ctx context.Context, objectName string) error {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Walk visits every regular file below the base directory. It stops early
// when ctx is done or fn returns an error.
func (s *LocalStorage) Walk(ctx context.Context, fn func(Object) error) error {
	return filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		return fn(Object{Name: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
	})
}
