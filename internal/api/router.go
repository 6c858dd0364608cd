package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notation/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Delete("/notes", h.DeleteNotes)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)
	r.Post("/notes/{id}/rename", h.RenameNote)

	// Labels.
	r.Get("/labels", h.Labels)
	r.Post("/labels/add", h.AddLabels)
	r.Post("/labels/remove", h.RemoveLabels)

	// Catalog maintenance.
	r.Post("/undo", h.Undo)
	r.Post("/scan", h.Scan)
	r.Post("/flush", h.Flush)
	r.Get("/status", h.Status)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
