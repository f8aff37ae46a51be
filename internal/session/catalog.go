package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"crossdeck/pkg/models"
)

var (
	ErrEmptyCatalog = errors.New("catalog is empty")
	ErrOutOfRange   = errors.New("catalog index out of range")
)

// Catalog is the ordered, append-only list of tracks available to the decks.
// Readers never block each other and may run while a track is appended.
type Catalog struct {
	mutex  sync.RWMutex
	tracks []*models.Track
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{tracks: make([]*models.Track, 0)}
}

// Append adds a track to the end of the catalog and returns its index
func (c *Catalog) Append(track *models.Track) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.tracks = append(c.tracks, track)
	return len(c.tracks) - 1
}

// At returns the track at index i
func (c *Catalog) At(i int) (*models.Track, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if i < 0 || i >= len(c.tracks) {
		return nil, fmt.Errorf("index %d of %d: %w", i, len(c.tracks), ErrOutOfRange)
	}
	return c.tracks[i], nil
}

// Len returns the number of tracks
func (c *Catalog) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.tracks)
}

// Random picks a track uniformly at random
func (c *Catalog) Random(rng *rand.Rand) (*models.Track, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if len(c.tracks) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c.tracks[rng.Intn(len(c.tracks))], nil
}

// Snapshot returns a copy of the track list
func (c *Catalog) Snapshot() []*models.Track {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]*models.Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}
