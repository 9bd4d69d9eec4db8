// Package imaging validates uploaded photos and re-encodes them as JPEG for
// storage or as small inline thumbnails.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// MaxDimension is the maximum width or height for stored images.
const MaxDimension = 1024

// JPEGQuality is the compression quality for stored images.
const JPEGQuality = 70

// ThumbnailWidth is the maximum thumbnail width.
const ThumbnailWidth = 300

// ThumbnailQuality is the compression quality for thumbnails.
const ThumbnailQuality = 50

// MaxUploadSize caps how much image data is read.
const MaxUploadSize = 20 << 20

// ErrUnsupported is returned for anything that is not a JPEG or PNG.
var ErrUnsupported = errors.New("unsupported image format")

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// ProcessResult contains the processed image data.
type ProcessResult struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Process validates the format by sniffing bytes, downscales anything
// larger than MaxDimension, and re-encodes as JPEG.
func Process(r io.Reader) (*ProcessResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("image larger than %d bytes", MaxUploadSize)
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return encode(fit(img, MaxDimension, MaxDimension), JPEGQuality)
}

// Thumbnail returns a copy no wider than ThumbnailWidth and no larger in
// bytes than data. Narrower images keep their size; when re-encoding one
// would not shrink it, data itself is returned.
func Thumbnail(data []byte) (*ProcessResult, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	small := fit(img, ThumbnailWidth, 0)
	result, err := encode(small, ThumbnailQuality)
	if err != nil {
		return nil, err
	}
	if len(result.Data) <= len(data) {
		return result, nil
	}

	if small.Bounds() == img.Bounds() {
		return &ProcessResult{
			Data:   data,
			MIME:   http.DetectContentType(data),
			Width:  result.Width,
			Height: result.Height,
		}, nil
	}

	// Flat artwork compresses better losslessly.
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err == nil && buf.Len() < len(result.Data) {
		result = &ProcessResult{Data: buf.Bytes(), MIME: "image/png", Width: result.Width, Height: result.Height}
	}
	return result, nil
}

// Decode sniffs the actual MIME type from bytes, not trusting client
// headers, and decodes the image.
func Decode(data []byte) (image.Image, error) {
	detected := http.DetectContentType(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("%w: %s (only JPEG and PNG accepted)", ErrUnsupported, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func encode(img image.Image, quality int) (*ProcessResult, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	b := img.Bounds()
	return &ProcessResult{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// fit scales img down, preserving aspect ratio, so that it is at most
// maxW wide and maxH high. A zero bound is unconstrained. Images already
// within bounds are returned as is.
func fit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		scale = min(scale, float64(maxH)/float64(h))
	}
	if scale == 1.0 {
		return img
	}

	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	// Register decoders (jpeg is registered by default, but be explicit).
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
