// Package recognize extracts text lines from item photos to pre-fill forms.
package recognize

import (
	"context"
	"log/slog"
)

// Recognizer returns the text lines found in an image, top to bottom.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]string, error)
}

// Nop recognizes nothing. Used when no recognition backend is configured.
type Nop struct{}

func (Nop) Recognize(context.Context, []byte) ([]string, error) {
	return []string{}, nil
}

// Async runs r in its own goroutine. The channel yields exactly one result
// and is then closed; failures are logged and yield an empty result.
func Async(ctx context.Context, r Recognizer, image []byte) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		defer close(out)
		lines, err := r.Recognize(ctx, image)
		if err != nil {
			slog.Warn("text recognition failed", "error", err)
			lines = []string{}
		}
		if lines == nil {
			lines = []string{}
		}
		out <- lines
	}()
	return out
}
