package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"crossdeck/internal/config"
)

// frameDuration matches the output tee
const frameDuration = 20 * time.Millisecond

var ErrUnsupportedRate = errors.New("sample rate not supported by Opus")

// WebRTC negotiates monitor peers and streams the master mix to them as Opus
type WebRTC struct {
	broadcaster *Broadcaster
	sampleRate  int
	channels    int
	bitrate     int
	api         *webrtc.API
	iceServers  []webrtc.ICEServer
	logger      *logrus.Entry

	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

// NewWebRTC creates a WebRTC streamer fed by b
func NewWebRTC(b *Broadcaster, cfg *config.StreamConfig, sampleRate, channels int, logger *logrus.Logger) (*WebRTC, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRate, sampleRate)
	}

	var ice []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		ice = append(ice, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	return &WebRTC{
		broadcaster: b,
		sampleRate:  sampleRate,
		channels:    channels,
		bitrate:     cfg.BitrateKbps * 1000,
		api:         webrtc.NewAPI(),
		iceServers:  ice,
		logger:      logger.WithField("component", "webrtc"),
	}, nil
}

// PeerCount returns the number of active WebRTC peers.
func (s *WebRTC) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Answer accepts an SDP offer, starts streaming to the new peer and returns
// the local description once ICE gathering is complete.
func (s *WebRTC) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"crossdeck-master",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.peers = append(s.peers, pc)
	count := len(s.peers)
	s.mu.Unlock()
	s.logger.WithField("peers", count).Info("WebRTC peer connected")

	listener := s.broadcaster.Subscribe()
	go s.streamToPeer(listener, audioTrack)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed ||
			state == webrtc.PeerConnectionStateDisconnected {
			s.broadcaster.Unsubscribe(listener)
			if s.removePeer(pc) {
				pc.Close()
				s.logger.WithField("peers", s.PeerCount()).Info("WebRTC peer disconnected")
			}
		}
	})

	return pc.LocalDescription(), nil
}

func (s *WebRTC) streamToPeer(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	defer s.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(s.sampleRate, s.channels, opus.AppAudio)
	if err != nil {
		s.logger.WithError(err).Error("Opus encoder error")
		return
	}
	if err := enc.SetBitrate(s.bitrate); err != nil {
		s.logger.WithError(err).Warn("Could not set Opus bitrate")
	}

	opusBuf := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame := <-listener.C:
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				s.logger.WithError(err).Debug("Opus encode error")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: frameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (s *WebRTC) removePeer(pc *webrtc.PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.peers {
		if p == pc {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close disconnects every peer
func (s *WebRTC) Close() error {
	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	s.mu.Unlock()

	var errs []error
	for _, pc := range peers {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}
