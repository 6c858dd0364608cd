// Package watch turns directory notifications into rescan requests.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/storage"
)

// DefaultQuiet is how long the directory must stay quiet before a rescan
// is requested.
const DefaultQuiet = 200 * time.Millisecond

// Raiser receives rescan requests. notation.Signal implements it.
type Raiser interface {
	Raise()
}

// Watch observes root until ctx is cancelled and raises sig once a burst of
// changes to note files has settled. It never touches the notes itself;
// the owner of sig decides when to scan.
func Watch(ctx context.Context, root string, sig Raiser, quiet time.Duration, logger *slog.Logger) error {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	logger = logger.With(slog.String("component", "watch"))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("watcher started", slog.String("root", root))

	// settle delays the signal until events stop arriving.
	var settle *time.Timer
	var settleCh <-chan time.Time
	schedule := func() {
		if settle == nil {
			settle = time.NewTimer(quiet)
			settleCh = settle.C
			return
		}
		settle.Reset(quiet)
	}

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			logger.Info("watcher stopped")
			return nil

		case <-settleCh:
			sig.Raise()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(root) {
				// The directory itself moved or vanished; the scan reports it.
				sig.Raise()
				continue
			}
			if !Relevant(filepath.Base(ev.Name)) {
				continue
			}
			logger.Debug("note file changed", slog.String("path", filepath.Base(ev.Name)), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.String("error", watchErr.Error()))
			// Events may have been dropped.
			schedule()
		}
	}
}

// Relevant reports whether a change to name can affect the note catalog.
func Relevant(name string) bool {
	if strings.HasPrefix(name, ".") || storage.IsTemp(name) {
		return false
	}
	return models.FileTypeOf(name) != models.FileTypeUnknown
}
