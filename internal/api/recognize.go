package api

import (
	"net/http"

	"github.com/erazemk/grocery/internal/form"
	"github.com/erazemk/grocery/internal/recognize"
)

// RecognizeHandler handles POST /api/recognize.
type RecognizeHandler struct {
	Recognizer recognize.Recognizer
}

type recognizeResponse struct {
	Lines       []string `json:"lines"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

// Recognize reads text off the uploaded image. When the form's current
// name and description are sent along, the response carries them with the
// recognized text applied. Recognition failures yield no lines.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()
	data, err := readImage(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	lines := <-recognize.Async(r.Context(), h.Recognizer, data)
	if r.Context().Err() != nil {
		return
	}

	fields := form.Fields{Name: r.FormValue("name"), Description: r.FormValue("description")}
	fields.ApplyRecognized(lines)
	jsonResponse(w, http.StatusOK, recognizeResponse{
		Lines:       lines,
		Name:        fields.Name,
		Description: fields.Description,
	})
}
