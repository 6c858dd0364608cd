package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notation/internal/noteservice"
	"github.com/starford/notation/internal/sorting"
	"github.com/starford/notation/internal/undo"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

func etag(sum string) string { return `"` + sum + `"` }

// ListNotes handles GET /api/notes.
//
//	@Summary		List the visible notes in sort order
//	@Tags			notes
//	@Produce		json
//	@Param			q		query		string	false	"Filter text; every word must match title, body or a label"
//	@Param			labels	query		string	false	"Comma-separated labels a note must carry"
//	@Param			sort	query		string	false	"Sort column"	Enums(title, modified, created, size, labels)
//	@Param			dir		query		string	false	"Sort direction"	Enums(asc, desc)
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	NoteListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := noteservice.ListQuery{Query: q.Get("q")}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	query.Offset, _ = strconv.Atoi(q.Get("offset"))
	if raw := q.Get("labels"); raw != "" {
		query.Labels = strings.Split(raw, ",")
	}
	if raw := q.Get("sort"); raw != "" {
		col, err := sorting.ParseColumn(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		query.Sort = col
	}
	if raw := q.Get("dir"); raw != "" {
		dir, err := sorting.ParseDirection(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		query.Direction = dir
	}

	items, total, err := h.svc.ListNotes(r.Context(), query)
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	w.Header().Set("ETag", etag(note.Checksum))
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req.Title, req.Body, req.Labels)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	w.Header().Set("ETag", etag(note.Checksum))
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note body with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Note id"
//	@Param			If-Match	header		string				false	"Checksum of the body being replaced"
//	@Param			body		body		UpdateNoteRequest	true	"New body"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	note, err := h.svc.UpdateNote(r.Context(), id, *req.Body, ifMatch)
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	w.Header().Set("ETag", etag(note.Checksum))
	writeJSON(w, http.StatusOK, note)
}

// RenameNote handles POST /api/notes/{id}/rename.
//
//	@Summary		Retitle a note, move its file and rewrite links to it
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Note id"
//	@Param			body	body		RenameNoteRequest	true	"New title"
//	@Success		200		{object}	RenameResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/rename [post]
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RenameNoteRequest
	if !decode(w, r, &req) {
		return
	}
	note, relinked, err := h.svc.RenameNote(r.Context(), id, req.Title)
	if err != nil {
		writeError(w, "rename note", err)
		return
	}
	writeJSON(w, http.StatusOK, RenameResponse{Note: note, Relinked: relinked})
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteNotes(r.Context(), id); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotes handles DELETE /api/notes.
//
//	@Summary		Delete several notes as one undoable action
//	@Tags			notes
//	@Accept			json
//	@Param			body	body	DeleteNotesRequest	true	"Note ids"
//	@Success		204		"Notes deleted"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [delete]
func (h *Handler) DeleteNotes(w http.ResponseWriter, r *http.Request) {
	var req DeleteNotesRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.DeleteNotes(r.Context(), req.IDs...); err != nil {
		writeError(w, "delete notes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Labels handles GET /api/labels.
//
//	@Summary		List labels with usage counts
//	@Tags			labels
//	@Produce		json
//	@Success		200	{object}	LabelsResponse
//	@Security		BearerAuth
//	@Router			/labels [get]
func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.svc.Labels(r.Context())
	if err != nil {
		writeError(w, "labels", err)
		return
	}
	writeJSON(w, http.StatusOK, LabelsResponse{Labels: labels})
}

// AddLabels handles POST /api/labels/add.
//
//	@Summary		Tag notes
//	@Tags			labels
//	@Accept			json
//	@Param			body	body	LabelsRequest	true	"Notes and labels"
//	@Success		204		"Labels added"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/labels/add [post]
func (h *Handler) AddLabels(w http.ResponseWriter, r *http.Request) {
	var req LabelsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.AddLabels(r.Context(), req.IDs, req.Labels...); err != nil {
		writeError(w, "add labels", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveLabels handles POST /api/labels/remove.
//
//	@Summary		Untag notes
//	@Tags			labels
//	@Accept			json
//	@Param			body	body	LabelsRequest	true	"Notes and labels"
//	@Success		204		"Labels removed"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/labels/remove [post]
func (h *Handler) RemoveLabels(w http.ResponseWriter, r *http.Request) {
	var req LabelsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RemoveLabels(r.Context(), req.IDs, req.Labels...); err != nil {
		writeError(w, "remove labels", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Undo handles POST /api/undo.
//
//	@Summary		Revert the last delete or label change
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	UndoResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	name, err := h.svc.Undo(r.Context())
	if err != nil {
		if errors.Is(err, undo.ErrEmpty) {
			writeJSON(w, http.StatusConflict, errorBody("nothing to undo"))
			return
		}
		writeError(w, "undo", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResponse{Undone: name})
}

// Scan handles POST /api/scan.
//
//	@Summary		Reconcile the catalog with the note directory now
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	ScanResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Scan(r.Context())
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Flush handles POST /api/flush.
//
//	@Summary		Write every pending change now
//	@Tags			catalog
//	@Success		204	"Flushed"
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/flush [post]
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Flush(r.Context()); err != nil {
		slog.Warn("flush incomplete", slog.String("error", err.Error()))
		writeError(w, "flush", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/status.
//
//	@Summary		Report pending writes, tombstones and failures
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
