package handlers

import (
	"io/fs"
	"net/http"

	roundtable "github.com/MegaGrindStone/roundtable"
	"github.com/go-chi/chi/v5"
)

// Routes wires every handler of m, plus the embedded static assets, into a router.
func (m Main) Routes() (http.Handler, error) {
	staticFS, err := fs.Sub(roundtable.StaticFS, "static")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	r := chi.NewRouter()

	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	r.Get("/", m.HandleHome)
	r.Post("/rooms", m.HandleJoin)
	r.Get("/rooms/{viewID}", m.HandleRoom)
	r.Post("/rooms/{viewID}/draft", m.HandleDraft)
	r.Post("/rooms/{viewID}/blur", m.HandleBlur)
	r.Post("/rooms/{viewID}/submit", m.HandleSubmit)
	r.Post("/rooms/{viewID}/leave", m.HandleLeave)
	r.Get("/sse", m.HandleSSE)

	return r, nil
}
