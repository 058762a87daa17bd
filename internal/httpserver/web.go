package httpserver

import (
	"embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed all:static
var embedFS embed.FS

// webRouter serves the bundled chat UI. Authentication for the page
// itself is left to the UI's own fetch calls against /api/*, which do
// carry the session cookie — the HTML shell has nothing privileged in
// it.
func webRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) { serveHTML(w, "static/index.html") })

	return r
}

func serveHTML(w http.ResponseWriter, filepath string) {
	htmlContent, err := embedFS.ReadFile(filepath)
	if err != nil {
		http.Error(w, "Internal Server Error: Could not load page.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(htmlContent)
}
