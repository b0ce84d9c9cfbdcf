package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), Options{
		ListenIP:       "0.0.0.0",
		AnnouncedIP:    "127.0.0.1",
		UDPPortMin:     40000,
		UDPPortMax:     40100,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCapabilities(t *testing.T) {
	e := newTestEngine(t)
	caps := e.Capabilities()
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, webrtc.MimeTypeOpus, caps.Codecs[0].MimeType)
	assert.EqualValues(t, 48000, caps.Codecs[0].ClockRate)
	assert.EqualValues(t, 2, caps.Codecs[0].Channels)
	assert.Equal(t, webrtc.MimeTypeVP8, caps.Codecs[1].MimeType)
	assert.EqualValues(t, 90000, caps.Codecs[1].ClockRate)
}

func TestPickCodec(t *testing.T) {
	c, err := pickCodec(domain.KindAudio, nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeOpus, c.MimeType)

	c, err = pickCodec(domain.KindVideo, []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H264"}, PayloadType: 102},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/vp8"}, PayloadType: 101},
	})
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeVP8, c.MimeType)
	assert.EqualValues(t, 101, c.PayloadType)

	_, err = pickCodec(domain.KindVideo, []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H264"}},
	})
	assert.Error(t, err)
}

func TestCodecSupported(t *testing.T) {
	vp8 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}

	assert.True(t, codecSupported(vp8, core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{MimeType: "video/VP8", ClockRate: 90000}}}))
	assert.True(t, codecSupported(vp8, core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{MimeType: "video/vp8"}}}))
	assert.False(t, codecSupported(vp8, core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{{MimeType: "video/H264", ClockRate: 90000}}}))
	assert.False(t, codecSupported(vp8, core.RTPCapabilities{}))
}

func TestDirectTransport(t *testing.T) {
	e := newTestEngine(t)
	tr, err := e.CreateDirectTransport(context.Background())
	require.NoError(t, err)
	assert.True(t, tr.Connected())
	assert.ErrorIs(t, tr.Connect(context.Background(), core.ConnectParams{}), core.ErrAlreadyConnected)

	_, err = tr.Produce(context.Background(), domain.KindVideo, webrtc.RTPSendParameters{})
	assert.ErrorIs(t, err, ErrDirectTransport)

	_, err = tr.Consume(context.Background(), "missing", e.Capabilities())
	assert.ErrorIs(t, err, ErrUnknownProducer)
	assert.False(t, e.CanConsume("missing", e.Capabilities()))

	tr.Close()
	tr.Close()
	assert.True(t, tr.Closed())
}

func TestClosedEngineRejectsTransports(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())

	_, err := e.CreateTransport(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.CreateDirectTransport(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestConsumerPreferredQuality(t *testing.T) {
	c := &consumer{id: "c1", logger: zerolog.Nop()}
	assert.Equal(t, core.QualityHigh, c.PreferredQuality())

	c.SetPreferredQuality(core.QualityLow)
	assert.Equal(t, core.QualityLow, c.PreferredQuality())
	c.SetPreferredQuality(core.QualityMedium)
	assert.Equal(t, core.QualityMedium, c.PreferredQuality())
}
