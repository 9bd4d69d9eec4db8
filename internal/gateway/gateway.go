// Package gateway stores item photos and derives their inline thumbnails.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/grocery/internal/blob"
	"github.com/erazemk/grocery/internal/imaging"
)

// Prefix is the namespace every uploaded image key lives under.
const Prefix = "itemImages/"

// ErrUpload wraps every failed upload.
var ErrUpload = errors.New("image upload failed")

// Gateway uploads images to a blob store and hands out URLs under baseURL.
type Gateway struct {
	blobs   blob.Store
	baseURL string
}

// New returns a gateway whose URLs are baseURL + "/" + key.
func New(blobs blob.Store, baseURL string) *Gateway {
	return &Gateway{blobs: blobs, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload re-encodes image as JPEG, stores it under a fresh key and returns
// its URL.
func (g *Gateway) Upload(ctx context.Context, image []byte) (string, error) {
	processed, err := imaging.Process(bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	key := Prefix + uuid.NewString() + ".jpg"
	if _, err := g.blobs.Put(ctx, key, bytes.NewReader(processed.Data), blob.PutOptions{ContentType: processed.MIME}); err != nil {
		return "", fmt.Errorf("%w: storing %s: %w", ErrUpload, key, err)
	}

	slog.Info("image uploaded", "key", key, "bytes", len(processed.Data), "driver", g.blobs.Driver())
	return g.URL(key), nil
}

// Thumbnail returns a base64 thumbnail no wider than imaging.ThumbnailWidth
// whose image bytes never exceed image's, or false when image cannot be
// decoded.
func (g *Gateway) Thumbnail(image []byte) (string, bool) {
	return Thumbnail(image)
}

// Thumbnail is Gateway.Thumbnail without a gateway.
func Thumbnail(image []byte) (string, bool) {
	thumb, err := imaging.Thumbnail(image)
	if err != nil {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(thumb.Data), true
}

// URL returns the public URL of key.
func (g *Gateway) URL(key string) string {
	return g.baseURL + "/" + key
}

// KeyForURL returns the blob key of a URL handed out by this gateway.
func (g *Gateway) KeyForURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, g.baseURL+"/")
	if !ok || !strings.HasPrefix(key, Prefix) || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// Delete removes the image behind url. URLs this gateway did not hand out
// are left alone.
func (g *Gateway) Delete(ctx context.Context, url string) error {
	key, ok := g.KeyForURL(url)
	if !ok {
		slog.Debug("skipping delete of foreign image", "url", url)
		return nil
	}
	deleted, err := g.blobs.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", key, err)
	}
	if deleted {
		slog.Info("image deleted", "key", key)
	}
	return nil
}

// Open streams the stored image under key. Keys outside Prefix are not found.
func (g *Gateway) Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if !strings.HasPrefix(key, Prefix) || strings.Contains(key, "..") {
		return blob.Info{}, nil, blob.ErrNotFound
	}
	return g.blobs.Get(ctx, key)
}
