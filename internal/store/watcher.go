package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher surfaces on-disk feature record changes as feature ids. It exists
// for observers (the TUI, a future web layer) that want to refresh when an
// external process writes a record; the state manager itself never consumes
// it, since every operation re-reads from disk anyway.
type Watcher struct {
	projectPath string
	watcher     *fsnotify.Watcher
	changes     chan string
	logger      zerolog.Logger
}

// WatchFeatures watches the project's features directory. The directory is
// created if it does not exist yet so that a watcher can start before the
// first feature record appears.
func WatchFeatures(projectPath string, logger zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := FeaturesDir(projectPath)
	if err := ensureDir(dir); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	// Watch existing per-feature directories; new ones are added as their
	// create events arrive.
	ids, _ := ListFeatureIDs(projectPath)
	for _, id := range ids {
		if err := w.Add(filepath.Join(dir, id)); err != nil {
			logger.Warn().Err(err).Str("feature_id", id).Msg("Failed to watch feature directory")
		}
	}

	fw := &Watcher{
		projectPath: projectPath,
		watcher:     w,
		changes:     make(chan string, 32),
		logger:      logger.With().Str("component", "watcher").Logger(),
	}
	return fw, nil
}

// Changes delivers the id of each feature whose record changed on disk.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run pumps fsnotify events until ctx is canceled. Duplicate and unrelated
// events (temp files, backup rotation) are filtered out.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.changes)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)

	// A new feature directory: start watching inside it.
	if event.Op.Has(fsnotify.Create) && filepath.Dir(event.Name) == FeaturesDir(w.projectPath) && base != featureFileName {
		if err := w.watcher.Add(event.Name); err != nil {
			w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new feature directory")
		}
		return
	}

	if base != featureFileName {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	featureID := filepath.Base(filepath.Dir(event.Name))
	if strings.TrimSpace(featureID) == "" {
		return
	}

	select {
	case w.changes <- featureID:
	default:
		// Observer is behind; it will re-read everything on the next event.
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
