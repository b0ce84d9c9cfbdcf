package rtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type producer struct {
	id       string
	kind     domain.MediaKind
	codec    webrtc.RTPCodecParameters
	engine   *Engine
	receiver *webrtc.RTPReceiver
	logger   zerolog.Logger

	closed atomic.Bool
}

func newProducer(t *transport, kind domain.MediaKind, codec webrtc.RTPCodecParameters, params webrtc.RTPSendParameters) (*producer, error) {
	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.KindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.engine.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{RTPCodingParameters: params.Encodings[0].RTPCodingParameters}},
	}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}
	receiver.SetRTPParameters(webrtc.RTPParameters{
		HeaderExtensions: params.HeaderExtensions,
		Codecs:           []webrtc.RTPCodecParameters{codec},
	})

	p := &producer{
		id:       newID(),
		kind:     kind,
		codec:    codec,
		engine:   t.engine,
		receiver: receiver,
	}
	p.logger = t.logger.With().Str("producer_id", p.id).Str("kind", string(kind)).Logger()

	track := receiver.Track()
	if track == nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: no track")
	}
	t.engine.addProducer(p)
	t.engine.relays.StartRelay(t.engine.ctx, p.id, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	p.logger.Info().Str("codec", codec.MimeType).Uint32("ssrc", uint32(params.Encodings[0].SSRC)).Msg("producer started")
	return p, nil
}

func (p *producer) ID() string             { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }
func (p *producer) Closed() bool           { return p.closed.Load() }

func (p *producer) Pause() {
	_ = p.engine.relays.SetPaused(p.id, true)
}

func (p *producer) Resume() {
	_ = p.engine.relays.SetPaused(p.id, false)
}

func (p *producer) Paused() bool {
	r, ok := p.engine.relays.Relay(p.id)
	return ok && r.Paused()
}

// Close stops the relay, which notifies every consumer of this producer.
func (p *producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.engine.removeProducer(p.id)
	p.engine.relays.StopRelay(p.id)
	if err := p.receiver.Stop(); err != nil {
		p.logger.Debug().Err(err).Msg("receiver stop")
	}
	p.logger.Info().Msg("producer closed")
}

type consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	engine     *Engine
	sender     *webrtc.RTPSender
	params     webrtc.RTPSendParameters
	logger     zerolog.Logger

	quality atomic.Value
	onRTP   atomic.Pointer[func(*rtp.Packet)]
	tap     *sfu.QueueSink

	mu      sync.Mutex
	onClose func()
	gone    bool

	closed atomic.Bool
}

func newConsumer(t *transport, src *producer) (*consumer, error) {
	c := &consumer{
		id:         newID(),
		producerID: src.id,
		kind:       src.kind,
		engine:     t.engine,
	}
	c.logger = t.logger.With().Str("consumer_id", c.id).Str("producer_id", src.id).Logger()

	track, err := webrtc.NewTrackLocalStaticRTP(src.codec.RTPCodecCapability, c.id, "stream-"+src.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.engine.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	c.sender = sender
	c.params = sender.GetParameters()
	if err := sender.Send(c.params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		for {
			if _, _, err := sender.ReadRTCP(); err != nil {
				return
			}
		}
	}()

	if err := c.subscribe(track); err != nil {
		_ = sender.Stop()
		return nil, err
	}
	c.logger.Info().Msg("consumer started")
	return c, nil
}

// directQueueSize bounds the packets buffered for a slow OnRTP callback.
const directQueueSize = 512

// newDirectConsumer hands packets to the OnRTP callback instead of the network.
func newDirectConsumer(t *transport, src *producer) (*consumer, error) {
	c := &consumer{
		id:         newID(),
		producerID: src.id,
		kind:       src.kind,
		engine:     t.engine,
		params: webrtc.RTPSendParameters{
			RTPParameters: webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{src.codec}},
		},
	}
	c.logger = t.logger.With().Str("consumer_id", c.id).Str("producer_id", src.id).Logger()
	c.tap = sfu.NewQueueSink(sfu.SinkFunc(func(p *rtp.Packet) error {
		if fn := c.onRTP.Load(); fn != nil {
			(*fn)(p)
		}
		return nil
	}), directQueueSize)
	if err := c.subscribe(c.tap); err != nil {
		c.tap.Close()
		return nil, err
	}
	c.logger.Info().Msg("direct consumer started")
	return c, nil
}

func (c *consumer) subscribe(sink sfu.PacketSink) error {
	if _, err := c.engine.relays.AddSubscriber(c.producerID, c.id, sink, c.producerGone); err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.producerID, err)
	}
	return nil
}

func (c *consumer) ID() string                              { return c.id }
func (c *consumer) ProducerID() string                      { return c.producerID }
func (c *consumer) Kind() domain.MediaKind                  { return c.kind }
func (c *consumer) RTPParameters() webrtc.RTPSendParameters { return c.params }
func (c *consumer) Closed() bool                            { return c.closed.Load() }

// SetPreferredQuality is recorded only: there are no simulcast layers to pick from.
func (c *consumer) SetPreferredQuality(q core.StreamQuality) {
	prev := c.PreferredQuality()
	c.quality.Store(q)
	c.logger.Info().Str("quality", string(q)).Str("previous", string(prev)).Msg("preferred quality set")
}

func (c *consumer) PreferredQuality() core.StreamQuality {
	if q, ok := c.quality.Load().(core.StreamQuality); ok {
		return q
	}
	return core.QualityHigh
}

func (c *consumer) OnRTP(fn func(*rtp.Packet)) { c.onRTP.Store(&fn) }

func (c *consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	gone := c.gone
	c.mu.Unlock()
	if gone && fn != nil {
		go fn()
	}
}

// producerGone runs on a relay goroutine once the source stopped.
func (c *consumer) producerGone() {
	c.shutdown()
	c.mu.Lock()
	c.gone = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *consumer) Close() {
	if c.shutdown() {
		c.engine.relays.RemoveSubscriber(c.producerID, c.id)
	}
}

func (c *consumer) shutdown() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	if c.sender != nil {
		if err := c.sender.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("sender stop")
		}
	}
	if c.tap != nil {
		c.tap.Close()
		if n := c.tap.Dropped(); n > 0 {
			c.logger.Warn().Int64("dropped", n).Msg("direct consumer dropped packets")
		}
	}
	c.logger.Info().Msg("consumer closed")
	return true
}
