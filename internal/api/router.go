package api

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/grocery/internal/form"
	"github.com/erazemk/grocery/internal/inventory"
	"github.com/erazemk/grocery/internal/recognize"
)

// Images is the storage gateway as the API uses it.
type Images interface {
	form.Images
	ImageSource
}

// Deps are the components the API serves.
type Deps struct {
	DB         *sql.DB
	JWTSecret  string
	Inventory  *inventory.Store
	Images     Images
	Recognizer recognize.Recognizer
	Watch      *WatchHandler
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	itemsHandler := NewItemsHandler(d.Inventory, d.Images)
	recognizeHandler := &RecognizeHandler{Recognizer: d.Recognizer}
	imagesHandler := &ImagesHandler{Source: d.Images}

	watch := d.Watch
	if watch == nil {
		watch = NewWatchHandler(d.Inventory)
	}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /images/{key...}", imagesHandler.Get)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(http.HandlerFunc(itemsHandler.Create)))
	mux.Handle("DELETE /api/items", authMW(http.HandlerFunc(itemsHandler.Delete)))
	mux.Handle("PUT /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Update)))
	mux.Handle("GET /api/items/watch", authMW(http.HandlerFunc(watch.Watch)))
	mux.Handle("GET /api/forms/add", authMW(http.HandlerFunc(itemsHandler.AddForm)))

	mux.Handle("POST /api/recognize", authMW(http.HandlerFunc(recognizeHandler.Recognize)))

	return mux
}
