package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/grocery/internal/blob"
)

// ImageSource streams stored images.
type ImageSource interface {
	Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error)
}

// ImagesHandler serves stored item photos. Keys are never reused, so
// responses are cacheable forever.
type ImagesHandler struct {
	Source ImageSource
}

// Get handles GET /images/{key...}.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, body, err := h.Source.Open(r.Context(), r.PathValue("key"))
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to open image", "key", r.PathValue("key"), "error", err)
		http.Error(w, "failed to read image", http.StatusBadGateway)
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, body); err != nil {
		slog.Debug("image stream interrupted", "key", info.Key, "error", err)
	}
}
