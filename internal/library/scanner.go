package library

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crossdeck/pkg/models"
)

// Scanner loads every audio file under a directory into the catalog
type Scanner struct {
	acquirer *Acquirer
	root     string
	formats  []string
	workers  int
}

// NewScanner creates a scanner over root. workers <= 0 means one per CPU.
func NewScanner(a *Acquirer, root string, formats []string, workers int) *Scanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scanner{acquirer: a, root: root, formats: formats, workers: workers}
}

type scanResult struct {
	track *models.Track
	entry models.LibraryEntry
}

// Scan decodes files in parallel and appends them to the catalog in path
// order. Files that fail to decode are reported and skipped. It returns the
// number of tracks added.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	log := s.acquirer.logger.WithField("library_path", s.root)
	log.Info("Scanning library")

	var paths []string
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAudioFile(path, s.formats) {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return 0, walkErr
	}
	sort.Strings(paths)

	results := make([]*scanResult, len(paths))
	jobs := make(chan int, 100)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				track, entry, err := s.acquirer.load(gctx, paths[j])
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.acquirer.fail(paths[j], err)
					continue
				}
				results[j] = &scanResult{track: track, entry: entry}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		for j := range paths {
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	added := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		s.acquirer.admit(r.track, &r.entry)
		added++
	}
	log.WithFields(logrus.Fields{
		"found": len(paths),
		"added": added,
	}).Info("Library scan complete")
	return added, nil
}
