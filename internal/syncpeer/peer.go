// Package syncpeer pushes local changes to remote peers and records their
// acknowledgements so tombstones can be purged.
package syncpeer

import (
	"context"
	"time"

	"github.com/starford/notation/internal/models"
)

// Peer is one remote replica.
type Peer interface {
	// Name identifies the peer in tombstone acknowledgements.
	Name() string
	PushNote(ctx context.Context, n *Record) error
	PushDeletion(ctx context.Context, t *models.DeletedNote) error
	// Pull returns every note the peer holds.
	Pull(ctx context.Context) ([]*Record, error)
}

// Record is the form a note takes on the wire. Local file identity stays
// behind.
type Record struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Labels     []string  `json:"labels,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Version    uint64    `json:"version"`
}

// RecordOf copies the syncable fields of n.
func RecordOf(n *models.Note) *Record {
	return &Record{
		ID:         n.ID,
		Title:      n.Title,
		Body:       n.Body,
		Labels:     append([]string(nil), n.Labels...),
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
		Version:    n.Version,
	}
}

// Note converts r into a note without local file identity.
func (r *Record) Note() *models.Note {
	n := &models.Note{
		ID:         r.ID,
		Title:      r.Title,
		Body:       r.Body,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
		Version:    r.Version,
	}
	n.SetLabels(r.Labels)
	return n
}
