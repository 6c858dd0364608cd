package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notation/internal/catalog"
	"github.com/starford/notation/internal/notation"
	"github.com/starford/notation/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title  string   `json:"title" example:"Shopping list"`
	Body   string   `json:"body" example:"milk, eggs"`
	Labels []string `json:"labels" example:"home"`
}

// Validate checks the request.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, 255)),
		validation.Field(&r.Labels, validation.Each(validation.Required)),
	)
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Body *string `json:"body" example:"milk, eggs, bread" validate:"required"`
}

// Validate checks the request.
func (r *UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Body, validation.NotNil),
	)
}

// RenameNoteRequest is the request body for retitling a note.
type RenameNoteRequest struct {
	Title string `json:"title" example:"Groceries" validate:"required"`
}

// Validate checks the request.
func (r *RenameNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 255)),
	)
}

// DeleteNotesRequest removes several notes as one undoable action.
type DeleteNotesRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

// Validate checks the request.
func (r *DeleteNotesRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs, validation.Required, validation.Each(validation.Required)),
	)
}

// LabelsRequest tags or untags a set of notes.
type LabelsRequest struct {
	IDs    []string `json:"ids" validate:"required"`
	Labels []string `json:"labels" validate:"required"`
}

// Validate checks the request.
func (r *LabelsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs, validation.Required, validation.Each(validation.Required)),
		validation.Field(&r.Labels, validation.Required, validation.Each(validation.Required)),
	)
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// RenameResponse is returned after a rename.
type RenameResponse struct {
	Note     *NoteDetail `json:"note" validate:"required"`
	Relinked int         `json:"relinked" example:"2"`
}

// LabelsResponse lists labels with usage counts.
type LabelsResponse struct {
	Labels []notation.LabelCount `json:"labels" validate:"required"`
}

// UndoResponse names the action that was reverted.
type UndoResponse struct {
	Undone string `json:"undone" example:"Delete Note"`
}

// ScanResponse is the result of a directory scan.
type ScanResponse = catalog.Report

// StatusResponse reports pending work and failures.
type StatusResponse = noteservice.Status
