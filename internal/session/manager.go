// Package session holds the state shared by the decks and the director: the
// catalog, the director-enabled flag and the deck table.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"crossdeck/internal/deck"
	"crossdeck/pkg/models"
)

// Session is owned by the application root and handed to the decks and the
// director at construction.
type Session struct {
	catalog *Catalog
	enabled atomic.Bool

	mutex sync.RWMutex
	decks map[models.ChannelID]*deck.Deck
}

// NewSession creates a session with an empty catalog and no decks
func NewSession() *Session {
	return &Session{
		catalog: NewCatalog(),
		decks:   make(map[models.ChannelID]*deck.Deck),
	}
}

// Catalog returns the shared track catalog
func (s *Session) Catalog() *Catalog {
	return s.catalog
}

// DirectorEnabled reports whether the autonomous director is engaged
func (s *Session) DirectorEnabled() bool {
	return s.enabled.Load()
}

// SetDirectorEnabled sets the director flag and returns the previous value
func (s *Session) SetDirectorEnabled(on bool) bool {
	return s.enabled.Swap(on)
}

// AddDeck registers a deck under its channel id
func (s *Session) AddDeck(d *deck.Deck) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.decks[d.ID()]; exists {
		return fmt.Errorf("deck %s already registered", d.ID())
	}
	s.decks[d.ID()] = d
	return nil
}

// Deck returns the deck for a channel id
func (s *Session) Deck(id models.ChannelID) (*deck.Deck, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	d, ok := s.decks[id]
	return d, ok
}

// Decks returns every registered deck in channel order
func (s *Session) Decks() []*deck.Deck {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*deck.Deck, 0, len(s.decks))
	for _, id := range models.Channels {
		if d, ok := s.decks[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Lead returns the first playing deck in channel order, or nil when every
// deck is silent
func (s *Session) Lead() *deck.Deck {
	for _, d := range s.Decks() {
		if d.State() == deck.Playing {
			return d
		}
	}
	return nil
}
