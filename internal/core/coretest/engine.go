// Package coretest provides in-memory stand-ins for the media engine, the
// signaling connection and the recording muxer.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrInjected = errors.New("injected failure")

// Engine is a fake core.Engine. Producers are registered globally so
// consumers can reference them across transports.
type Engine struct {
	mu         sync.Mutex
	seq        atomic.Int64
	producers  map[string]*Producer
	consumers  map[string][]*Consumer
	transports []*Transport

	// Incompatible lists producer ids CanConsume rejects.
	Incompatible map[string]bool

	FailCreateTransport error
	FailDirectTransport error
	FailConsume         error
	FailProduce         error
	FailConnect         error

	died chan error
}

func NewEngine() *Engine {
	return &Engine{
		producers:    make(map[string]*Producer),
		consumers:    make(map[string][]*Consumer),
		Incompatible: make(map[string]bool),
		died:         make(chan error, 1),
	}
}

func (e *Engine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) Capabilities() core.RTPCapabilities {
	return core.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}}
}

func (e *Engine) CreateTransport(ctx context.Context) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreateTransport != nil {
		return nil, e.FailCreateTransport
	}
	return e.newTransportLocked(false), nil
}

func (e *Engine) CreateDirectTransport(ctx context.Context) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailDirectTransport != nil {
		return nil, e.FailDirectTransport
	}
	return e.newTransportLocked(true), nil
}

func (e *Engine) newTransportLocked(direct bool) *Transport {
	t := &Transport{engine: e, id: e.nextID("transport"), Direct: direct}
	e.transports = append(e.transports, t)
	return t
}

func (e *Engine) CanConsume(producerID string, caps core.RTPCapabilities) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.producers[producerID]; !ok {
		return false
	}
	return !e.Incompatible[producerID] && len(caps.Codecs) > 0
}

func (e *Engine) Died() <-chan error { return e.died }

// Kill reports a fatal engine failure.
func (e *Engine) Kill(err error) { e.died <- err }

func (e *Engine) Close() error { return nil }

// Producer returns a producer created through any transport.
func (e *Engine) Producer(id string) (*Producer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[id]
	return p, ok
}

// Consumers returns the consumers created for producerID.
func (e *Engine) Consumers(producerID string) []*Consumer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Consumer(nil), e.consumers[producerID]...)
}

// Transports returns every transport created so far.
func (e *Engine) Transports() []*Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Transport(nil), e.transports...)
}

// Push delivers a packet to every open direct consumer of producerID.
func (e *Engine) Push(producerID string, p *rtp.Packet) {
	for _, c := range e.Consumers(producerID) {
		if c.Closed() {
			continue
		}
		if fn := c.rtpFn.Load(); fn != nil {
			(*fn)(p)
		}
	}
}

func (e *Engine) producerClosed(id string) {
	e.mu.Lock()
	delete(e.producers, id)
	consumers := e.consumers[id]
	delete(e.consumers, id)
	e.mu.Unlock()
	for _, c := range consumers {
		c.sourceGone()
	}
}

type Transport struct {
	engine    *Engine
	id        string
	Direct    bool
	connected atomic.Bool
	closed    atomic.Bool
	CloseN    atomic.Int32
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{
		ID:            t.id,
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd"},
		ICECandidates: []webrtc.ICECandidate{{Foundation: "1", Protocol: webrtc.ICEProtocolUDP, Address: "127.0.0.1", Port: 40000, Typ: webrtc.ICECandidateTypeHost}},
		DTLSParameters: webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleServer,
			Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
		},
	}
}

func (t *Transport) Connect(ctx context.Context, p core.ConnectParams) error {
	if err := t.engine.FailConnect; err != nil {
		return err
	}
	if !t.connected.CompareAndSwap(false, true) {
		return core.ErrAlreadyConnected
	}
	return nil
}

func (t *Transport) Connected() bool { return t.connected.Load() }

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params webrtc.RTPSendParameters) (core.Producer, error) {
	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailProduce != nil {
		return nil, e.FailProduce
	}
	p := &Producer{engine: e, id: e.nextID("producer"), kind: kind}
	e.producers[p.id] = p
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps core.RTPCapabilities) (core.Consumer, error) {
	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailConsume != nil {
		return nil, e.FailConsume
	}
	p, ok := e.producers[producerID]
	if !ok {
		return nil, errors.New("unknown producer")
	}
	c := &Consumer{id: e.nextID("consumer"), producerID: producerID, kind: p.kind}
	e.consumers[producerID] = append(e.consumers[producerID], c)
	return c, nil
}

func (t *Transport) Close() {
	t.CloseN.Add(1)
	t.closed.Store(true)
}

func (t *Transport) Closed() bool { return t.closed.Load() }

type Producer struct {
	engine *Engine
	id     string
	kind   domain.MediaKind
	paused atomic.Bool
	closed atomic.Bool
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Pause()                 { p.paused.Store(true) }
func (p *Producer) Resume()                { p.paused.Store(false) }
func (p *Producer) Paused() bool           { return p.paused.Load() }
func (p *Producer) Closed() bool           { return p.closed.Load() }

func (p *Producer) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.engine.producerClosed(p.id)
	}
}

type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	closed     atomic.Bool
	quality    atomic.Value

	mu      sync.Mutex
	onClose func()
	gone    bool
	rtpFn   atomic.Pointer[func(*rtp.Packet)]
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind { return c.kind }
func (c *Consumer) Closed() bool           { return c.closed.Load() }
func (c *Consumer) Close()                 { c.closed.Store(true) }

func (c *Consumer) RTPParameters() webrtc.RTPSendParameters {
	return webrtc.RTPSendParameters{Encodings: []webrtc.RTPEncodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 1234}}}}
}

func (c *Consumer) SetPreferredQuality(q core.StreamQuality) { c.quality.Store(q) }

func (c *Consumer) PreferredQuality() core.StreamQuality {
	if q, ok := c.quality.Load().(core.StreamQuality); ok {
		return q
	}
	return core.QualityHigh
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
	if c.gone && fn != nil {
		go fn()
	}
}

func (c *Consumer) OnRTP(fn func(*rtp.Packet)) { c.rtpFn.Store(&fn) }

func (c *Consumer) sourceGone() {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gone = true
	if c.onClose != nil {
		go c.onClose()
	}
}
