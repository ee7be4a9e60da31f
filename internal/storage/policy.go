package storage

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// ErrPolicyViolation wraps every reason a file is refused by a FilePolicy.
var ErrPolicyViolation = errors.New("file policy violation")

// FilePolicy constrains what may be written to media storage.
type FilePolicy struct {
	MaxFileMB  *float64 `json:"maxFileMB,omitempty"`
	MimeTypes  []string `json:"mime,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// CapturePolicy is the policy applied to images coming from a capture
// device.
func CapturePolicy(maxFileMB float64) *FilePolicy {
	return &FilePolicy{
		MaxFileMB:  &maxFileMB,
		MimeTypes:  []string{"image/*"},
		Extensions: []string{"jpg", "jpeg", "png"},
	}
}

// ValidateFile checks name, type and size against the policy. A nil policy
// allows everything.
func (fp *FilePolicy) ValidateFile(fileName, contentType string, fileSizeBytes int64) error {
	if fp == nil {
		return nil
	}

	if fp.MaxFileMB != nil {
		maxBytes := int64(*fp.MaxFileMB * 1024 * 1024)
		if fileSizeBytes > maxBytes {
			return fmt.Errorf("%w: %d bytes exceeds maximum of %d bytes (%.2f MB)",
				ErrPolicyViolation, fileSizeBytes, maxBytes, *fp.MaxFileMB)
		}
	}

	if len(fp.MimeTypes) > 0 && !fp.matchesMimeType(contentType) {
		return fmt.Errorf("%w: content type %s not in %v", ErrPolicyViolation, contentType, fp.MimeTypes)
	}

	if len(fp.Extensions) > 0 && !fp.matchesExtension(fileName) {
		return fmt.Errorf("%w: extension of %s not in %v", ErrPolicyViolation, fileName, fp.Extensions)
	}

	return nil
}

// matchesMimeType supports wildcard patterns like "image/*" and ignores
// media type parameters.
func (fp *FilePolicy) matchesMimeType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	for _, allowed := range fp.MimeTypes {
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

func (fp *FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range fp.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
