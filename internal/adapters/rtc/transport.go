package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// transport is one ICE/DTLS endpoint, or an in-process tap when direct.
type transport struct {
	engine *Engine
	id     string
	direct bool
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParams

	started  atomic.Bool
	ready    chan struct{}
	failed   chan struct{}
	failOnce sync.Once
	failErr  error

	mu        sync.Mutex
	producers []*producer
	consumers []*consumer
	closed    atomic.Bool
}

func newTransport(ctx context.Context, e *Engine) (_ *transport, err error) {
	t := &transport{
		engine: e,
		id:     newID(),
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	t.logger = log.With().Str("module", "rtc").Str("transport_id", t.id).Logger()

	t.gatherer, err = e.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	defer func() {
		if err != nil {
			t.Close()
		}
	}()
	t.ice = e.api.NewICETransport(t.gatherer)
	t.dtls, err = e.api.NewDTLSTransport(t.ice, nil)
	if err != nil {
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	gathered := make(chan struct{})
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gathered)
		}
	})
	if err = t.gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ConnectTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("ice gather: %w", waitCtx.Err())
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}
	t.params = core.TransportParams{
		ID:             t.id,
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
		ICEServers:     e.iceServers(),
	}

	t.ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	t.dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Info().Str("dtls_state", s.String()).Msg("DTLS state")
		if s == webrtc.DTLSTransportStateFailed {
			t.fail(fmt.Errorf("dtls %s", s))
		}
	})

	t.logger.Info().Int("candidates", len(candidates)).Msg("transport created")
	return t, nil
}

func newDirectTransport(e *Engine) *transport {
	t := &transport{
		engine: e,
		id:     newID(),
		direct: true,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	t.logger = log.With().Str("module", "rtc").Str("transport_id", t.id).Bool("direct", true).Logger()
	t.started.Store(true)
	close(t.ready)
	return t
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() core.TransportParams { return t.params }

// Connect starts ICE (controlled, lite) and DTLS in the background; both
// block until the remote side shows up. Produce and Consume wait for them.
func (t *transport) Connect(ctx context.Context, p core.ConnectParams) error {
	if t.closed.Load() {
		return fmt.Errorf("transport %s closed", t.id)
	}
	if p.ICEParameters == nil && !t.direct {
		return ErrMissingICEParams
	}
	if !t.started.CompareAndSwap(false, true) {
		return core.ErrAlreadyConnected
	}
	if len(p.ICECandidates) > 0 {
		if err := t.ice.SetRemoteCandidates(p.ICECandidates); err != nil {
			t.started.Store(false)
			return fmt.Errorf("remote candidates: %w", err)
		}
	}

	remoteICE := *p.ICEParameters
	remoteDTLS := p.DTLSParameters
	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(nil, remoteICE, &role); err != nil {
			t.fail(fmt.Errorf("ice start: %w", err))
			return
		}
		if err := t.dtls.Start(remoteDTLS); err != nil {
			t.fail(fmt.Errorf("dtls start: %w", err))
			return
		}
		close(t.ready)
		t.logger.Info().Msg("transport connected")
	}()
	return nil
}

func (t *transport) Connected() bool { return t.started.Load() }

func (t *transport) fail(err error) {
	t.failOnce.Do(func() {
		t.failErr = err
		close(t.failed)
		if !t.closed.Load() {
			t.logger.Error().Err(err).Msg("transport failed")
		}
	})
}

// waitReady blocks until DTLS is up, bounded by the connect timeout.
func (t *transport) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.engine.opts.ConnectTimeout)
	defer cancel()
	select {
	case <-t.ready:
		return nil
	case <-t.failed:
		return t.failErr
	case <-ctx.Done():
		return fmt.Errorf("transport %s not connected: %w", t.id, ctx.Err())
	}
}

func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, params webrtc.RTPSendParameters) (core.Producer, error) {
	if t.direct {
		return nil, ErrDirectTransport
	}
	if t.closed.Load() {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	if len(params.Encodings) == 0 {
		return nil, ErrNoEncodings
	}
	codec, err := pickCodec(kind, params.Codecs)
	if err != nil {
		return nil, err
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	p, err := newProducer(t, kind, codec, params)
	if err != nil {
		return nil, err
	}
	if !t.track(p, nil) {
		p.Close()
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	return p, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, caps core.RTPCapabilities) (core.Consumer, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	src, ok := t.engine.producer(producerID)
	if !ok || src.Closed() {
		return nil, ErrUnknownProducer
	}
	if !codecSupported(src.codec.RTPCodecCapability, caps) {
		return nil, fmt.Errorf("codec %s not in receive capabilities", src.codec.MimeType)
	}

	var (
		c   *consumer
		err error
	)
	if t.direct {
		c, err = newDirectConsumer(t, src)
	} else {
		if err := t.waitReady(ctx); err != nil {
			return nil, err
		}
		c, err = newConsumer(t, src)
	}
	if err != nil {
		return nil, err
	}
	if !t.track(nil, c) {
		c.Close()
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	return c, nil
}

func (t *transport) track(p *producer, c *consumer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return false
	}
	if p != nil {
		t.producers = append(t.producers, p)
	}
	if c != nil {
		t.consumers = append(t.consumers, c)
	}
	return true
}

// Close closes everything created on the transport, then the transport.
func (t *transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if t.dtls != nil {
		if err := t.dtls.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("dtls stop")
		}
	}
	if t.ice != nil {
		if err := t.ice.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("ice stop")
		}
	}
	if t.gatherer != nil {
		if err := t.gatherer.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("gatherer close")
		}
	}
	t.fail(fmt.Errorf("transport %s closed", t.id))
	t.logger.Info().Msg("transport closed")
}

func (t *transport) Closed() bool { return t.closed.Load() }
