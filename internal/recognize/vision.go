package recognize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"
)

// ErrNoResponse is returned when the API answers without a result for the image.
var ErrNoResponse = errors.New("empty annotate response")

// Vision recognizes text with Google Cloud Vision TEXT_DETECTION.
type Vision struct {
	service *vision.Service
}

// NewVision creates a client with the given options.
func NewVision(ctx context.Context, opts ...option.ClientOption) (*Vision, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision service: %w", err)
	}
	return &Vision{service: svc}, nil
}

// NewVisionFromCredentialsFile creates a client from a service account JSON file.
func NewVisionFromCredentialsFile(ctx context.Context, path string) (*Vision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	config, err := google.JWTConfigFromJSON(data, vision.CloudVisionScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	return NewVision(ctx, option.WithTokenSource(config.TokenSource(ctx)))
}

// NewVisionFromAPIKey creates a client authenticated by an API key.
func NewVisionFromAPIKey(ctx context.Context, key string) (*Vision, error) {
	return NewVision(ctx, option.WithAPIKey(key))
}

// Recognize returns the detected lines, top to bottom and left to right.
func (v *Vision) Recognize(ctx context.Context, image []byte) ([]string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}
	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("annotating image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, ErrNoResponse
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, fmt.Errorf("annotating image: %s (code %d)", r.Error.Message, r.Error.Code)
	}
	if len(r.TextAnnotations) < 2 {
		return []string{}, nil
	}
	// The first annotation is the whole text block; the rest are words.
	return groupLines(r.TextAnnotations[1:]), nil
}

type word struct {
	text       string
	minX       int64
	minY, maxY int64
}

func toWord(a *vision.EntityAnnotation) word {
	w := word{text: a.Description}
	if a.BoundingPoly == nil || len(a.BoundingPoly.Vertices) == 0 {
		return w
	}
	first := true
	for _, v := range a.BoundingPoly.Vertices {
		if v == nil {
			continue
		}
		if first {
			w.minX, w.minY, w.maxY = v.X, v.Y, v.Y
			first = false
			continue
		}
		w.minX = min(w.minX, v.X)
		w.minY = min(w.minY, v.Y)
		w.maxY = max(w.maxY, v.Y)
	}
	return w
}

// groupLines joins words whose vertical centre falls inside the current
// line's extent, then orders each line's words left to right.
func groupLines(annotations []*vision.EntityAnnotation) []string {
	words := make([]word, 0, len(annotations))
	for _, a := range annotations {
		if a == nil || strings.TrimSpace(a.Description) == "" {
			continue
		}
		words = append(words, toWord(a))
	}
	sort.SliceStable(words, func(i, j int) bool {
		if words[i].minY != words[j].minY {
			return words[i].minY < words[j].minY
		}
		return words[i].minX < words[j].minX
	})

	var lines [][]word
	var lineMaxY int64
	for _, w := range words {
		centre := (w.minY + w.maxY) / 2
		if len(lines) > 0 && centre <= lineMaxY {
			lines[len(lines)-1] = append(lines[len(lines)-1], w)
			lineMaxY = max(lineMaxY, w.maxY)
			continue
		}
		lines = append(lines, []word{w})
		lineMaxY = w.maxY
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].minX < line[j].minX })
		texts := make([]string, len(line))
		for i, w := range line {
			texts[i] = w.text
		}
		out = append(out, strings.Join(texts, " "))
	}
	return out
}
