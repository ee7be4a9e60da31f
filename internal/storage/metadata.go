package storage

import (
	"fmt"
	"time"
)

// FileMetadata describes a stored capture.
type FileMetadata struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	MIME      string    `json:"mime"`
	SHA256    string    `json:"sha256,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidateFileMetadata rejects metadata without a name or path.
func ValidateFileMetadata(meta FileMetadata) error {
	if meta.Name == "" {
		return fmt.Errorf("file name is required")
	}
	if meta.Path == "" {
		return fmt.Errorf("file path is required")
	}
	if meta.Size < 0 {
		return fmt.Errorf("file size must be non-negative")
	}
	return nil
}

// ToMap converts FileMetadata to the shape handlers return to the UI
func (m FileMetadata) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"name":      m.Name,
		"path":      m.Path,
		"url":       m.URL,
		"size":      m.Size,
		"mime":      m.MIME,
		"createdAt": m.CreatedAt.Format(time.RFC3339),
	}
	if m.SHA256 != "" {
		result["sha256"] = m.SHA256
	}
	return result
}
