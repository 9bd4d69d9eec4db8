package model

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by collections when no document has the given id.
var ErrNotFound = errors.New("item not found")

// Item is a single grocery record. Optional fields are nil when absent.
type Item struct {
	ID             string     `json:"id,omitempty"`
	Name           string     `json:"name"`
	Quantity       int        `json:"quantity"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	Category       *string    `json:"category,omitempty"`
	ImageURL       *string    `json:"imageURL,omitempty"`
	ThumbnailData  *string    `json:"thumbnailData,omitempty"`
	Description    *string    `json:"description,omitempty"`
}

// Persisted reports whether the backing store has assigned an id.
func (i Item) Persisted() bool {
	return i.ID != ""
}

// SameRecord reports whether both items refer to the same stored record.
// Items without an id are never the same record, not even as themselves.
func (i Item) SameRecord(other Item) bool {
	return i.ID != "" && i.ID == other.ID
}

// Clone returns a copy of i whose optional fields point at fresh values,
// so neither copy can change the other.
func (i Item) Clone() Item {
	if i.ExpirationDate != nil {
		t := *i.ExpirationDate
		i.ExpirationDate = &t
	}
	i.Category = cloneString(i.Category)
	i.ImageURL = cloneString(i.ImageURL)
	i.ThumbnailData = cloneString(i.ThumbnailData)
	i.Description = cloneString(i.Description)
	return i
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// CategoryName returns the category, or "" when unset.
func (i Item) CategoryName() string {
	if i.Category == nil {
		return ""
	}
	return *i.Category
}

// Field names an optional document field that can be cleared on update.
type Field string

// Optional document fields.
const (
	FieldExpirationDate Field = "expirationDate"
	FieldCategory       Field = "category"
	FieldImageURL       Field = "imageURL"
	FieldThumbnailData  Field = "thumbnailData"
	FieldDescription    Field = "description"
)

// Known categories offered by the add and edit forms.
var Categories = []string{
	"Dairy",
	"Bakery",
	"Meat & Seafood",
	"Breakfast",
	"Frozen Foods",
	"Snacks",
	"Beverages",
	"Spices & Cereals",
	"Other",
}

// KnownCategory reports whether name is one of Categories.
func KnownCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// ParseCategory turns form input into an optional category.
// Blank input means unset.
func ParseCategory(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
