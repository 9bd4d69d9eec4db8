package form

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/erazemk/grocery/internal/model"
)

// Edit is the form for an existing item.
type Edit struct {
	Fields
	state

	// RemoveImage drops the current photo and thumbnail.
	RemoveImage bool

	original model.Item
	store    Store
	images   Images
}

// NewEdit seeds the form from item. Categories outside model.Categories
// start unset and must be chosen again.
func NewEdit(item model.Item, store Store, images Images) *Edit {
	return &Edit{Fields: FieldsFor(item), original: item, store: store, images: images}
}

// FieldsFor returns the form values that show item.
func FieldsFor(item model.Item) Fields {
	f := Fields{Name: item.Name, Quantity: strconv.Itoa(item.Quantity)}
	if c := item.CategoryName(); model.KnownCategory(c) {
		f.Category = c
	}
	if item.ExpirationDate != nil {
		f.HasExpiration = true
		f.ExpirationDate = *item.ExpirationDate
	}
	if item.Description != nil {
		f.Description = *item.Description
	}
	return f
}

// Original returns the item the form was opened for.
func (e *Edit) Original() model.Item {
	return e.original
}

// Disabled reports whether saving is currently blocked.
func (e *Edit) Disabled() bool {
	return disabled(&e.Fields, &e.state)
}

// Save writes the changed item. A new photo replaces the old one, whose
// blob is deleted once the write succeeds. The form closes right after the
// write whether it succeeded or not.
func (e *Edit) Save(ctx context.Context) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	if err := e.begin(); err != nil {
		return Result{}, err
	}
	defer e.end()
	return e.save(ctx)
}

// Submit replaces the form's values with f and saves them. While another
// save is running it returns ErrBusy and leaves the values alone.
func (e *Edit) Submit(ctx context.Context, f Fields, removeImage bool) (Result, error) {
	if err := e.begin(); err != nil {
		return Result{}, err
	}
	defer e.end()

	e.Fields = f
	e.RemoveImage = removeImage
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	return e.save(ctx)
}

func (e *Edit) save(ctx context.Context) (Result, error) {
	quantity, _ := e.quantity()
	item := model.Item{
		ID:             e.original.ID,
		Name:           e.Name,
		Quantity:       quantity,
		ExpirationDate: e.expiration(),
		Category:       model.ParseCategory(e.Category),
		Description:    model.StringPtr(e.Description),
	}

	var clear []model.Field
	if item.ExpirationDate == nil {
		clear = append(clear, model.FieldExpirationDate)
	}
	if item.Description == nil {
		clear = append(clear, model.FieldDescription)
	}

	replaced := false
	switch {
	case len(e.Image) > 0:
		url, err := e.images.Upload(ctx, e.Image)
		if err != nil {
			slog.Warn("keeping previous image", "id", item.ID, "error", err)
			break
		}
		item.ImageURL = &url
		if thumb, ok := e.images.Thumbnail(e.Image); ok {
			item.ThumbnailData = &thumb
		} else {
			clear = append(clear, model.FieldThumbnailData)
		}
		replaced = true
	case e.RemoveImage:
		clear = append(clear, model.FieldImageURL, model.FieldThumbnailData)
		replaced = true
	}

	if err := e.store.Update(ctx, item, clear...); err != nil {
		if item.ImageURL != nil {
			e.deleteImage(ctx, *item.ImageURL)
		}
		return Result{Message: e.show(MsgUpdateFailed, true), Close: true}, nil
	}

	if replaced && e.original.ImageURL != nil {
		e.deleteImage(ctx, *e.original.ImageURL)
	}
	return Result{Saved: true, Close: true}, nil
}

func (e *Edit) deleteImage(ctx context.Context, url string) {
	if err := e.images.Delete(ctx, url); err != nil {
		slog.Warn("failed to delete image", "url", url, "error", err)
	}
}
