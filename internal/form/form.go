// Package form holds the add and edit item forms: the values a user has
// entered, validation, and the save sequence (upload, thumbnail, write).
package form

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erazemk/grocery/internal/model"
)

// Timings of transient UI state.
const (
	MessageDuration = 3 * time.Second
	CloseDelay      = 1500 * time.Millisecond
)

// User-facing messages.
const (
	MsgAdded           = "Item added successfully!"
	MsgAddFailed       = "Failed to add item. Please try again."
	MsgUpdateFailed    = "Failed to update item. Please try again."
	MsgInvalidQuantity = "Invalid quantity entered."
)

// ErrBusy is returned by Save while a previous save is still running.
var ErrBusy = errors.New("save already in progress")

// Store writes items.
type Store interface {
	Add(ctx context.Context, item model.Item) bool
	Update(ctx context.Context, item model.Item, clear ...model.Field) error
}

// Images uploads photos and derives thumbnails.
type Images interface {
	Upload(ctx context.Context, image []byte) (string, error)
	Thumbnail(image []byte) (string, bool)
	Delete(ctx context.Context, url string) error
}

// ValidationError lists the fields that block saving.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid " + strings.Join(e.Fields, ", ")
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Message is a transient notice shown after a save.
type Message struct {
	Text    string    `json:"text"`
	IsError bool      `json:"isError"`
	Expires time.Time `json:"expires"`
}

// Active reports whether the message is still showing at now.
func (m Message) Active(now time.Time) bool {
	return m.Text != "" && now.Before(m.Expires)
}

// Result is the outcome of a save the UI acts on.
type Result struct {
	Saved      bool          `json:"saved"`
	Message    Message       `json:"message"`
	Close      bool          `json:"close"`
	CloseAfter time.Duration `json:"closeAfter"`
}

// Fields are the form values as entered. Quantity stays text until save.
type Fields struct {
	Name           string
	Quantity       string
	Category       string
	HasExpiration  bool
	ExpirationDate time.Time
	Description    string
	Image          []byte
}

// ApplyRecognized fills an empty name with the first recognized line, or
// otherwise appends all lines to the description.
func (f *Fields) ApplyRecognized(lines []string) {
	if len(lines) == 0 {
		return
	}
	if f.Name == "" {
		f.Name = lines[0]
		return
	}
	text := strings.Join(lines, "\n")
	if f.Description != "" {
		f.Description += "\n"
	}
	f.Description += text
}

func (f *Fields) quantity() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(f.Quantity))
	return n, err == nil && n > 0
}

// Validate returns a *ValidationError naming every invalid field.
func (f *Fields) Validate() error {
	var bad []string
	if strings.TrimSpace(f.Name) == "" {
		bad = append(bad, "name")
	}
	if _, ok := f.quantity(); !ok {
		bad = append(bad, "quantity")
	}
	if model.ParseCategory(f.Category) == nil {
		bad = append(bad, "category")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

func (f *Fields) expiration() *time.Time {
	if !f.HasExpiration {
		return nil
	}
	d := f.ExpirationDate
	return &d
}

// state is the transient state shared by both forms.
type state struct {
	loading atomic.Bool
	now     func() time.Time

	mu      sync.Mutex
	message Message
}

// Loading reports whether a save is running.
func (s *state) Loading() bool {
	return s.loading.Load()
}

// Message returns the current notice, if it has not expired.
func (s *state) Message() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.message.Active(s.clock()) {
		return Message{}, false
	}
	return s.message, true
}

func (s *state) show(text string, isError bool) Message {
	m := Message{Text: text, IsError: isError, Expires: s.clock().Add(MessageDuration)}
	s.mu.Lock()
	s.message = m
	s.mu.Unlock()
	return m
}

func (s *state) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *state) begin() error {
	if !s.loading.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *state) end() {
	s.loading.Store(false)
}

// disabled is the save-button predicate.
func disabled(f *Fields, s *state) bool {
	return s.Loading() || f.Validate() != nil
}
