package notation

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/notation/internal/prefs"
	"github.com/starford/notation/internal/storage"
)

// ResolveDirectory returns the note directory to open. When the configured
// path no longer exists but the persisted locator finds the same directory
// elsewhere, the moved location wins. The locator is re-persisted whenever
// its encoding changed.
func ResolveDirectory(p prefs.Store, configured string, logger *slog.Logger) (string, error) {
	abs, err := filepath.Abs(configured)
	if err != nil {
		return "", fmt.Errorf("notation: resolve directory: %w", err)
	}
	dir := abs
	if _, statErr := os.Stat(abs); errors.Is(statErr, os.ErrNotExist) {
		data, err := p.Locator()
		if err != nil {
			return "", fmt.Errorf("notation: read locator: %w", err)
		}
		if len(data) > 0 {
			if loc, err := storage.UnmarshalLocator(data); err == nil && loc.Path() == abs {
				if moved, err := loc.Resolve(); err == nil {
					logger.Warn("note directory moved",
						slog.String("from", abs), slog.String("to", moved))
					dir = moved
				}
			}
		}
	}

	loc, err := storage.NewLocator(dir)
	if err != nil {
		// Missing directory; the caller decides whether to create it.
		return dir, nil
	}
	defer loc.Close()

	data, err := loc.Marshal()
	if err != nil {
		return "", fmt.Errorf("notation: encode locator: %w", err)
	}
	if prev, _ := p.Locator(); bytes.Equal(prev, data) {
		return dir, nil
	}
	if err := p.SetLocator(data); err != nil {
		return "", fmt.Errorf("notation: persist locator: %w", err)
	}
	return dir, nil
}
