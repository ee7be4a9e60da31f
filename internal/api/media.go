package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"smartbox/internal/storage"
)

// getMedia serves captured images from the configured photos directory.
func (d Dependencies) getMedia(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "name required", d.Log)
		return
	}

	stor, err := storage.NewLocalStorage(d.Store.Snapshot().Storage.PhotosPath(), d.BaseURL)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "storage_unavailable", "Storage unavailable", d.Log)
		return
	}

	rc, err := stor.Get(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		WriteError(w, http.StatusBadRequest, "invalid_name", "Invalid media name", d.Log)
		return
	case errors.Is(err, os.ErrNotExist):
		WriteError(w, http.StatusNotFound, "not_found", "Media not found", d.Log)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "read_failed", "Could not read media", d.Log)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		d.Log.Warn("Media write interrupted", zap.String("name", name), zap.Error(err))
	}
}
