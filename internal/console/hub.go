// Package console keeps the UI-facing view of the decks and fans console
// events out to subscribers such as the server-sent event stream.
package console

import (
	"sync"
	"time"

	"crossdeck/internal/deck"
	"crossdeck/pkg/models"
)

// EventKind identifies a console event
type EventKind string

const (
	EventTitle      EventKind = "title"
	EventPlayback   EventKind = "playback"
	EventFailure    EventKind = "failure"
	EventDirector   EventKind = "director"
	EventTransition EventKind = "transition"
	EventCatalog    EventKind = "catalog"
)

// maxFailures is how many acquisition failures are kept for late subscribers
const maxFailures = 20

// Event is one notification for the UI
type Event struct {
	Kind       EventKind          `json:"kind"`
	Deck       models.ChannelID   `json:"deck,omitempty"`
	Title      string             `json:"title,omitempty"`
	Playing    bool               `json:"playing,omitempty"`
	Enabled    bool               `json:"enabled,omitempty"`
	Message    string             `json:"message,omitempty"`
	Source     string             `json:"source,omitempty"`
	Track      *models.TrackInfo  `json:"track,omitempty"`
	Transition *models.Transition `json:"transition,omitempty"`
	At         time.Time          `json:"at"`
}

// DeckView is the hub's record of one deck as the UI sees it
type DeckView struct {
	ID      models.ChannelID `json:"id"`
	Color   string           `json:"color"`
	Title   string           `json:"title"`
	Playing bool             `json:"playing"`
}

// Failure is a reported acquisition failure
type Failure struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Hub implements deck.Observer, director.Observer and the library's failure
// and catalog notifications
type Hub struct {
	mutex     sync.RWMutex
	decks     map[models.ChannelID]*DeckView
	failures  []Failure
	listeners []chan Event
	now       func() time.Time
}

// NewHub creates a hub with an empty view for every channel
func NewHub() *Hub {
	h := &Hub{
		decks:     make(map[models.ChannelID]*DeckView),
		listeners: make([]chan Event, 0),
		now:       time.Now,
	}
	for _, id := range models.Channels {
		h.decks[id] = &DeckView{ID: id, Color: deck.Colors[id]}
	}
	return h
}

// TitleChanged records a newly loaded title
func (h *Hub) TitleChanged(id models.ChannelID, title string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if v, ok := h.decks[id]; ok {
		v.Title = title
	}
	h.notifyListeners(Event{Kind: EventTitle, Deck: id, Title: title})
}

// PlaybackChanged records a deck starting or stopping
func (h *Hub) PlaybackChanged(id models.ChannelID, playing bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if v, ok := h.decks[id]; ok {
		v.Playing = playing
	}
	h.notifyListeners(Event{Kind: EventPlayback, Deck: id, Playing: playing})
}

// DirectorChanged publishes the director being switched on or off
func (h *Hub) DirectorChanged(enabled bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.notifyListeners(Event{Kind: EventDirector, Enabled: enabled})
}

// TransitionChanged publishes a transition starting or finishing
func (h *Hub) TransitionChanged(t models.Transition) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.notifyListeners(Event{Kind: EventTransition, Deck: t.From, Title: t.TrackTitle, Transition: &t})
}

// ReportFailure publishes an acquisition failure. It never touches deck state.
func (h *Hub) ReportFailure(source string, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	f := Failure{Source: source, Message: err.Error(), At: h.now()}
	h.failures = append(h.failures, f)
	if len(h.failures) > maxFailures {
		h.failures = h.failures[len(h.failures)-maxFailures:]
	}
	h.notifyListeners(Event{Kind: EventFailure, Source: source, Message: f.Message})
}

// TrackAdded publishes a catalog append
func (h *Hub) TrackAdded(index int, t *models.Track) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	info := t.Info(index)
	h.notifyListeners(Event{Kind: EventCatalog, Title: t.Title, Track: &info})
}

// Decks returns the deck views in channel order
func (h *Hub) Decks() []DeckView {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]DeckView, 0, len(models.Channels))
	for _, id := range models.Channels {
		out = append(out, *h.decks[id])
	}
	return out
}

// Failures returns the most recent acquisition failures, oldest first
func (h *Hub) Failures() []Failure {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]Failure, len(h.failures))
	copy(out, h.failures)
	return out
}

// Subscribe adds a listener for console events
func (h *Hub) Subscribe() <-chan Event {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := make(chan Event, 32) // Buffered channel to prevent blocking
	h.listeners = append(h.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent leaks)
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			close(listener)
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			break
		}
	}
}

// notifyListeners sends an event to all subscribers (must be called with lock held).
// A subscriber whose buffer is full is dropped.
func (h *Hub) notifyListeners(e Event) {
	e.At = h.now()
	kept := h.listeners[:0]
	for _, listener := range h.listeners {
		select {
		case listener <- e:
			kept = append(kept, listener)
		default:
			close(listener)
		}
	}
	h.listeners = kept
}
