package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"crossdeck/internal/console"
)

const (
	// keepAliveInterval is how often an idle event stream gets a comment line
	// or a websocket ping
	keepAliveInterval = 15 * time.Second
	wsWriteTimeout    = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is one frame on the websocket event feed
type wsMessage struct {
	Kind  console.EventKind  `json:"kind"`
	Decks []console.DeckView `json:"decks,omitempty"`
	Event *console.Event     `json:"event,omitempty"`
}

// handleEvents streams console events as server-sent events. The stream
// opens with a snapshot of every deck.
func (cs *ControlServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := cs.Hub.Subscribe()
	defer cs.Hub.Unsubscribe(events)

	if err := writeEvent(w, "snapshot", cs.Hub.Decks()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				// dropped as a slow subscriber; the client reconnects
				cs.logger.WithField("remote", r.RemoteAddr).Debug("Event subscriber dropped")
				return
			}
			if err := writeEvent(w, string(e.Kind), e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleEventsWS is the websocket twin of handleEvents. The first message is
// a snapshot of every deck; each later message wraps one console event.
// Anything the client sends is discarded.
func (cs *ControlServer) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cs.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := cs.Hub.Subscribe()
	defer cs.Hub.Unsubscribe(events)

	send := func(m wsMessage) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(m)
	}
	if err := send(wsMessage{Kind: "snapshot", Decks: cs.Hub.Decks()}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				cs.logger.WithField("remote", r.RemoteAddr).Debug("Websocket subscriber dropped")
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := send(wsMessage{Kind: e.Kind, Event: &e}); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// handleWebRTCOffer answers an SDP offer with a peer receiving the master mix
func (cs *ControlServer) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if cs.Streamer == nil {
		cs.respondWithError(w, r, http.StatusServiceUnavailable, "Streaming is disabled", nil)
		return
	}

	var offer webrtc.SessionDescription
	if verr := decodeBody(r, &offer); verr != nil {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, *verr)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		cs.respondWithValidationError(w, r, http.StatusBadRequest, ValidationError{
			Field:   "sdp",
			Message: "An SDP offer is required",
			Code:    "INVALID_SDP_OFFER",
		})
		return
	}

	answer, err := cs.Streamer.Answer(r.Context(), offer)
	if err != nil {
		cs.respondWithError(w, r, http.StatusBadRequest, "Negotiation failed", err)
		return
	}
	cs.logger.WithFields(logrus.Fields{
		"remote": r.RemoteAddr,
		"peers":  cs.Streamer.PeerCount(),
	}).Info("Monitor connected")
	cs.respondJSON(w, http.StatusOK, answer)
}
