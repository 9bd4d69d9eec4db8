package api

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/grocery/internal/form"
	"github.com/erazemk/grocery/internal/imaging"
	"github.com/erazemk/grocery/internal/inventory"
	"github.com/erazemk/grocery/internal/model"
)

// DateLayout is the wire format of expiration dates in forms.
const DateLayout = "2006-01-02"

// maxFormSize caps multipart bodies: one image plus the text fields.
const maxFormSize = imaging.MaxUploadSize + 1<<20

// ItemsHandler handles the item endpoints.
type ItemsHandler struct {
	inventory *inventory.Store
	forms     *formSessions
}

// NewItemsHandler returns a handler writing through inv with photos in images.
func NewItemsHandler(inv *inventory.Store, images form.Images) *ItemsHandler {
	return &ItemsHandler{inventory: inv, forms: newFormSessions(inv, images)}
}

type itemsResponse struct {
	Items []model.Item `json:"items"`
}

type removeRequest struct {
	IDs []string `json:"ids"`
}

type removeResponse struct {
	Removed []string          `json:"removed"`
	Skipped int               `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

type validationResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// List handles GET /api/items. ?q= filters by name.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.inventory.Search(r.URL.Query().Get("q"))
	jsonResponse(w, http.StatusOK, itemsResponse{Items: items})
}

// Create handles POST /api/items. The new item shows up in the list once
// the inventory has observed the write, so success is 202.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	var fields form.Fields
	if err := readFields(r, &fields, false); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.forms.add(username(r)).Submit(r.Context(), fields)
	if writeSaveError(w, err) {
		return
	}
	if !result.Saved {
		jsonResponse(w, http.StatusBadGateway, result)
		return
	}
	jsonResponse(w, http.StatusAccepted, result)
}

// Update handles PUT /api/items/{id}. Fields missing from the form keep
// their current values.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.inventory.Lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	edit, err := h.forms.openEdit(item)
	if writeSaveError(w, err) {
		return
	}
	defer h.forms.closeEdit(edit)

	fields := form.FieldsFor(edit.Original())
	if err := readFields(r, &fields, true); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := edit.Submit(r.Context(), fields, r.FormValue("remove_image") == "true")
	if writeSaveError(w, err) {
		return
	}
	if !result.Saved {
		jsonResponse(w, http.StatusBadGateway, result)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// Delete handles DELETE /api/items. Each id is removed independently;
// failures are reported per id.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		jsonError(w, http.StatusBadRequest, "ids required")
		return
	}

	items := make([]model.Item, 0, len(req.IDs))
	for _, id := range req.IDs {
		if item, ok := h.inventory.Lookup(id); ok {
			items = append(items, item)
			continue
		}
		items = append(items, model.Item{ID: id})
	}

	result := h.inventory.Remove(r.Context(), items)
	resp := removeResponse{Removed: result.Removed, Skipped: result.Skipped, Failed: map[string]string{}}
	for id, err := range result.Failed {
		resp.Failed[id] = err.Error()
	}
	jsonResponse(w, http.StatusOK, resp)
}

// readFields copies the multipart values into f. With partial set, absent
// keys leave f untouched.
func readFields(r *http.Request, f *form.Fields, partial bool) error {
	values := r.MultipartForm.Value
	set := func(key string, dst *string) {
		if v, ok := values[key]; ok && len(v) > 0 {
			*dst = v[0]
		} else if !partial {
			*dst = ""
		}
	}
	set("name", &f.Name)
	set("quantity", &f.Quantity)
	set("category", &f.Category)
	set("description", &f.Description)

	if v, ok := values["expiration_date"]; ok && len(v) > 0 {
		if strings.TrimSpace(v[0]) == "" {
			f.HasExpiration = false
		} else {
			d, err := time.Parse(DateLayout, strings.TrimSpace(v[0]))
			if err != nil {
				return errors.New("expiration_date must be YYYY-MM-DD")
			}
			f.HasExpiration = true
			f.ExpirationDate = d
		}
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return errors.New("invalid image upload")
	}
	defer file.Close()
	data, err := readImage(file)
	if err != nil {
		return err
	}
	f.Image = data
	return nil
}

func readImage(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, imaging.MaxUploadSize+1))
	if err != nil {
		return nil, errors.New("failed to read image")
	}
	if len(data) > imaging.MaxUploadSize {
		return nil, errors.New("image too large")
	}
	return data, nil
}

// writeSaveError reports a rejected save and returns true if it wrote a response.
func writeSaveError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonResponse(w, http.StatusBadRequest, validationResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, form.ErrBusy):
		jsonError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("save failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}
