package stream

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossdeck/internal/config"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	l1 := b.Subscribe()
	l2 := b.Subscribe()
	assert.Equal(t, 2, b.ListenerCount())

	pcm := []int16{1, 2, 3, 4}
	b.WriteFrame(pcm)
	pcm[0] = 99 // the caller may reuse its buffer

	for _, l := range []*Listener{l1, l2} {
		select {
		case f := <-l.C:
			assert.Equal(t, []int16{1, 2, 3, 4}, f)
		default:
			t.Fatal("expected a frame")
		}
	}
}

func TestBroadcasterDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	for i := 0; i < ListenerBuffer+10; i++ {
		b.WriteFrame([]int16{int16(i)})
	}
	assert.Len(t, l.C, ListenerBuffer)
	assert.Equal(t, int16(0), (<-l.C)[0], "oldest frames are kept")
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	b.Unsubscribe(l)
	b.Unsubscribe(l)

	assert.Zero(t, b.ListenerCount())
	select {
	case <-l.Done():
	default:
		t.Fatal("done should be closed")
	}
	b.WriteFrame([]int16{1})
	assert.Empty(t, l.C)
}

func TestNewWebRTCRejectsRate(t *testing.T) {
	_, err := NewWebRTC(NewBroadcaster(), &config.StreamConfig{BitrateKbps: 128}, 44100, 2, logrus.New())
	assert.ErrorIs(t, err, ErrUnsupportedRate)
}

func TestWebRTCAnswer(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	b := NewBroadcaster()
	s, err := NewWebRTC(b, &config.StreamConfig{BitrateKbps: 64}, 48000, 2, logger)
	require.NoError(t, err)
	defer s.Close()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(offer))
	<-webrtc.GatheringCompletePromise(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := s.Answer(ctx, *client.LocalDescription())
	require.NoError(t, err)

	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "opus")
	assert.Equal(t, 1, s.PeerCount())
	assert.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Zero(t, s.PeerCount())
}

func TestWebRTCRejectsBadOffer(t *testing.T) {
	s, err := NewWebRTC(NewBroadcaster(), &config.StreamConfig{BitrateKbps: 64}, 48000, 2, logrus.New())
	require.NoError(t, err)
	_, err = s.Answer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	assert.Error(t, err)
	assert.Zero(t, s.PeerCount())
}
