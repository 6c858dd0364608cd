package syncpeer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notation"
)

// Doer runs work on the goroutine that owns the Notation.
// notation.Runner implements it.
type Doer interface {
	Do(ctx context.Context, fn func(*notation.Notation) error) error
}

// Result summarizes one exchange with a peer.
type Result struct {
	Peer     string `json:"peer"`
	Pulled   int    `json:"pulled"`
	Pushed   int    `json:"pushed"`
	Deleted  int    `json:"deleted"`
	Failures int    `json:"failures"`
}

// Session exchanges changes with a fixed set of peers. The Notation is
// only touched through the Doer; network calls happen outside it.
type Session struct {
	doer   Doer
	peers  []Peer
	logger *slog.Logger

	mu sync.Mutex
	// sent holds the version of each note last delivered to a peer.
	sent map[string]map[string]uint64
}

// NewSession creates a session for peers.
func NewSession(doer Doer, peers []Peer, logger *slog.Logger) *Session {
	sent := make(map[string]map[string]uint64, len(peers))
	for _, p := range peers {
		sent[p.Name()] = make(map[string]uint64)
	}
	return &Session{
		doer:   doer,
		peers:  peers,
		logger: logger.With(slog.String("component", "syncpeer")),
		sent:   sent,
	}
}

// Register records every peer with the tombstone manager, so deletions are
// kept until each of them has seen them. Peers remembered from an earlier
// run but no longer configured are deauthorized.
func (s *Session) Register(ctx context.Context) error {
	return s.doer.Do(ctx, func(n *notation.Notation) error {
		configured := make(map[string]struct{}, len(s.peers))
		for _, p := range s.peers {
			configured[p.Name()] = struct{}{}
			n.Tombstones().RegisterPeer(p.Name())
		}
		for _, name := range n.Tombstones().Peers() {
			if _, ok := configured[name]; !ok {
				s.logger.Info("peer deauthorized", slog.String("peer", name))
				n.Tombstones().DeauthorizePeer(name)
			}
		}
		return nil
	})
}

// SyncAll exchanges changes with every peer. Failures of one peer do not
// stop the others.
func (s *Session) SyncAll(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		results []Result
		errs    []error
	)
	for _, p := range s.peers {
		res, err := s.sync(ctx, p)
		results = append(results, res)
		if err != nil {
			s.logger.Warn("sync failed", slog.String("peer", p.Name()), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

type outbox struct {
	notes     []*Record
	deletions []*models.DeletedNote
}

func (s *Session) sync(ctx context.Context, p Peer) (Result, error) {
	res := Result{Peer: p.Name()}
	sent := s.sent[p.Name()]

	incoming, err := p.Pull(ctx)
	if err != nil {
		return res, err
	}

	var out outbox
	err = s.doer.Do(ctx, func(n *notation.Notation) error {
		notes := make([]*models.Note, 0, len(incoming))
		for _, r := range incoming {
			notes = append(notes, r.Note())
		}
		imported, err := n.AddNotesFromSync(notes)
		for _, note := range imported {
			// Came from this peer; no need to send it back.
			sent[note.ID] = note.Version
		}
		res.Pulled = len(imported)
		if err != nil {
			return err
		}
		for _, note := range n.Store().All() {
			if v, ok := sent[note.ID]; ok && v == note.Version {
				continue
			}
			out.notes = append(out.notes, RecordOf(note))
		}
		for _, t := range n.Tombstones().Unacknowledged(p.Name()) {
			out.deletions = append(out.deletions, &models.DeletedNote{ID: t.ID, Filename: t.Filename, DeletedAt: t.DeletedAt})
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	var (
		delivered []*Record
		acked     []string
		errs      []error
	)
	for _, r := range out.notes {
		if err := p.PushNote(ctx, r); err != nil {
			res.Failures++
			errs = append(errs, err)
			continue
		}
		delivered = append(delivered, r)
	}
	for _, t := range out.deletions {
		if err := p.PushDeletion(ctx, t); err != nil {
			res.Failures++
			errs = append(errs, err)
			continue
		}
		acked = append(acked, t.ID)
	}
	res.Pushed, res.Deleted = len(delivered), len(acked)

	// Acknowledgements are recorded even if the context ended meanwhile.
	ackCtx := context.WithoutCancel(ctx)
	err = s.doer.Do(ackCtx, func(n *notation.Notation) error {
		for _, r := range delivered {
			sent[r.ID] = r.Version
		}
		for _, id := range acked {
			delete(sent, id)
			n.Tombstones().Acknowledge(id, p.Name())
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	if res.Pulled+res.Pushed+res.Deleted+res.Failures > 0 {
		s.logger.Info("peer synced",
			slog.String("peer", p.Name()),
			slog.Int("pulled", res.Pulled),
			slog.Int("pushed", res.Pushed),
			slog.Int("deleted", res.Deleted),
			slog.Int("failed", res.Failures))
	}
	return res, errors.Join(errs...)
}

// Run syncs every interval until ctx is done.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Register(ctx); err != nil {
		return err
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = s.SyncAll(ctx)
		}
	}
}
