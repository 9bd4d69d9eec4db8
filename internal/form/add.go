package form

import (
	"context"
	"errors"
	"log/slog"

	"github.com/erazemk/grocery/internal/model"
)

// Add is the form for a new item.
type Add struct {
	Fields
	state

	store  Store
	images Images
}

// NewAdd returns an empty add form.
func NewAdd(store Store, images Images) *Add {
	return &Add{store: store, images: images}
}

// Disabled reports whether saving is currently blocked.
func (a *Add) Disabled() bool {
	return disabled(&a.Fields, &a.state)
}

// Save validates, uploads the photo if there is one, and writes the item.
// A failed upload is logged and the item is saved without a photo.
// Validation failures are returned as *ValidationError before anything is
// written.
func (a *Add) Save(ctx context.Context) (Result, error) {
	if err := a.check(); err != nil {
		return Result{}, err
	}
	if err := a.begin(); err != nil {
		return Result{}, err
	}
	defer a.end()
	return a.save(ctx)
}

// Submit replaces the form's values with f and saves them. While another
// save is running it returns ErrBusy and leaves the values alone.
func (a *Add) Submit(ctx context.Context, f Fields) (Result, error) {
	if err := a.begin(); err != nil {
		return Result{}, err
	}
	defer a.end()

	a.Fields = f
	if err := a.check(); err != nil {
		return Result{}, err
	}
	return a.save(ctx)
}

func (a *Add) check() error {
	err := a.Validate()
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Has("quantity") {
		a.show(MsgInvalidQuantity, true)
	}
	return err
}

func (a *Add) save(ctx context.Context) (Result, error) {
	quantity, _ := a.quantity()
	item := model.Item{
		Name:           a.Name,
		Quantity:       quantity,
		ExpirationDate: a.expiration(),
		Category:       model.ParseCategory(a.Category),
		Description:    model.StringPtr(a.Description),
	}

	if len(a.Image) > 0 {
		url, err := a.images.Upload(ctx, a.Image)
		if err != nil {
			slog.Warn("saving item without image", "name", a.Name, "error", err)
		} else {
			item.ImageURL = &url
			if thumb, ok := a.images.Thumbnail(a.Image); ok {
				item.ThumbnailData = &thumb
			}
		}
	}

	if !a.store.Add(ctx, item) {
		if item.ImageURL != nil {
			if err := a.images.Delete(ctx, *item.ImageURL); err != nil {
				slog.Warn("failed to delete unused image", "url", *item.ImageURL, "error", err)
			}
		}
		return Result{Message: a.show(MsgAddFailed, true)}, nil
	}

	return Result{
		Saved:      true,
		Message:    a.show(MsgAdded, false),
		Close:      true,
		CloseAfter: CloseDelay,
	}, nil
}
