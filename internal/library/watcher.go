package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// SettleDelay is how long a new file is left alone before it is decoded
const SettleDelay = 500 * time.Millisecond

// Watcher acquires audio files as they appear under the library directory.
// The catalog is append-only, so a removed file only loses its index row.
type Watcher struct {
	acquirer *Acquirer
	index    Index
	root     string
	formats  []string
	settle   time.Duration
	watcher  *fsnotify.Watcher
	ready    chan struct{} // closed once the tree is watched
	logger   *logrus.Entry
}

// NewWatcher creates a watcher over root. idx may be nil.
func NewWatcher(a *Acquirer, idx Index, root string, formats []string) *Watcher {
	return &Watcher{
		acquirer: a,
		index:    idx,
		root:     root,
		formats:  formats,
		settle:   SettleDelay,
		ready:    make(chan struct{}),
		logger:   a.logger.WithField("watcher", root),
	}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	w.watcher = watcher

	if err := w.addDirectory(w.root); err != nil {
		return err
	}
	close(w.ready)
	w.logger.Info("File watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

// addDirectory recursively adds dir and its subdirectories
func (w *Watcher) addDirectory(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// Ignore temporary files and hidden files
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}

	isAudio := IsAudioFile(event.Name, w.formats)

	switch {
	case event.Has(fsnotify.Create) && isAudio:
		go func(path string) {
			select {
			case <-time.After(w.settle): // let the writer finish
			case <-ctx.Done():
				return
			}
			w.handleNewFile(ctx, path)
		}(event.Name)

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isAudio:
		go w.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.WithError(err).WithField("directory", event.Name).Warn("Could not watch new directory")
				return
			}
			w.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

func (w *Watcher) handleNewFile(ctx context.Context, path string) {
	w.logger.WithField("file_path", path).Info("New audio file detected")

	if w.index != nil {
		exists, err := w.index.TrackExists(path)
		if err != nil {
			w.logger.WithError(err).WithField("file_path", path).Error("Error checking if track exists")
			return
		}
		if exists {
			w.logger.WithField("file_path", path).Debug("Track already indexed")
			return
		}
	}
	// failures are reported by the acquirer
	_, _, _ = w.acquirer.AcquireFile(ctx, path)
}

func (w *Watcher) handleRemovedFile(path string) {
	if w.index == nil {
		return
	}
	if err := w.index.RemoveTrackByPath(path); err != nil {
		w.logger.WithError(err).WithField("file_path", path).Error("Error removing track from index")
		return
	}
	w.logger.WithField("file_path", path).Info("Removed track from index")
}
