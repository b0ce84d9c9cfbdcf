package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrEngineClosed     = errors.New("media engine closed")
	ErrUnknownProducer  = errors.New("unknown producer")
	ErrNoEncodings      = errors.New("rtp parameters carry no encodings")
	ErrMissingICEParams = errors.New("ice parameters required")
	ErrDirectTransport  = errors.New("operation not supported on a direct transport")
)

// Options configure the pion-backed engine.
type Options struct {
	ListenIP       string
	AnnouncedIP    string
	UDPPortMin     uint16
	UDPPortMax     uint16
	STUNServers    []string
	ConnectTimeout time.Duration
}

func OptionsFromConfig(c config.MediaConfig) Options {
	return Options{
		ListenIP:       c.ListenIP,
		AnnouncedIP:    c.AnnouncedIP,
		UDPPortMin:     c.UDPPortMin,
		UDPPortMax:     c.UDPPortMax,
		STUNServers:    c.STUNServers,
		ConnectTimeout: c.ConnectTimeout,
	}
}

// router codecs: opus for audio, VP8 for video.
var routerCodecs = []struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}{
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		},
		kind: webrtc.RTPCodecTypeAudio,
	},
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
				RTCPFeedback: []webrtc.RTCPFeedback{
					{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"},
				},
			},
			PayloadType: 96,
		},
		kind: webrtc.RTPCodecTypeVideo,
	},
}

// Engine is an in-process SFU built on pion's ORTC API. Every transport is
// an ICE-lite, DTLS-server endpoint; packets move between producers and
// consumers through the relay manager.
type Engine struct {
	api    *webrtc.API
	opts   Options
	relays *sfu.RelayManager

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	producers map[string]*producer

	died   chan error
	closed atomic.Bool
}

func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range routerCodecs {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", c.params.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	se.SetLite(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if opts.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if opts.UDPPortMin > 0 && opts.UDPPortMax >= opts.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}
	if ip := net.ParseIP(opts.ListenIP); ip != nil && !ip.IsUnspecified() {
		se.SetIPFilter(func(candidate net.IP) bool { return candidate.Equal(ip) })
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		opts:      opts,
		relays:    sfu.NewRelayManager(),
		ctx:       ctx,
		cancel:    cancel,
		producers: make(map[string]*producer),
		died:      make(chan error, 1),
	}
	log.Info().
		Str("module", "rtc").
		Str("announced_ip", opts.AnnouncedIP).
		Uint16("udp_port_min", opts.UDPPortMin).
		Uint16("udp_port_max", opts.UDPPortMax).
		Msg("media engine ready")
	return e, nil
}

func (e *Engine) Capabilities() core.RTPCapabilities {
	caps := core.RTPCapabilities{Codecs: make([]webrtc.RTPCodecCapability, 0, len(routerCodecs))}
	for _, c := range routerCodecs {
		caps.Codecs = append(caps.Codecs, c.params.RTPCodecCapability)
	}
	return caps
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	if len(e.opts.STUNServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.opts.STUNServers}}
}

func (e *Engine) CreateTransport(ctx context.Context) (core.Transport, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return newTransport(ctx, e)
}

func (e *Engine) CreateDirectTransport(ctx context.Context) (core.Transport, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return newDirectTransport(e), nil
}

// CanConsume reports whether caps can receive the producer's codec.
func (e *Engine) CanConsume(producerID string, caps core.RTPCapabilities) bool {
	p, ok := e.producer(producerID)
	if !ok || p.Closed() {
		return false
	}
	return codecSupported(p.codec.RTPCodecCapability, caps)
}

func codecSupported(c webrtc.RTPCodecCapability, caps core.RTPCapabilities) bool {
	for _, have := range caps.Codecs {
		if !strings.EqualFold(have.MimeType, c.MimeType) {
			continue
		}
		if have.ClockRate != 0 && have.ClockRate != c.ClockRate {
			continue
		}
		return true
	}
	return false
}

// Died never fires: the engine runs in-process and shares the fate of the server.
func (e *Engine) Died() <-chan error { return e.died }

func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	producers := make([]*producer, 0, len(e.producers))
	for _, p := range e.producers {
		producers = append(producers, p)
	}
	e.mu.Unlock()
	for _, p := range producers {
		p.Close()
	}
	e.relays.StopAll()
	e.cancel()
	log.Info().Str("module", "rtc").Msg("media engine closed")
	return nil
}

func (e *Engine) producer(id string) (*producer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.producers[id]
	return p, ok
}

func (e *Engine) addProducer(p *producer) {
	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()
}

func (e *Engine) removeProducer(id string) {
	e.mu.Lock()
	delete(e.producers, id)
	e.mu.Unlock()
}

// pickCodec selects the registered codec for kind, preferring the first one
// the client listed.
func pickCodec(kind domain.MediaKind, offered []webrtc.RTPCodecParameters) (webrtc.RTPCodecParameters, error) {
	want := webrtc.RTPCodecTypeAudio
	if kind == domain.KindVideo {
		want = webrtc.RTPCodecTypeVideo
	}
	var fallback *webrtc.RTPCodecParameters
	for i := range routerCodecs {
		c := &routerCodecs[i]
		if c.kind != want {
			continue
		}
		if fallback == nil {
			fallback = &c.params
		}
		for _, o := range offered {
			if strings.EqualFold(o.MimeType, c.params.MimeType) {
				chosen := c.params
				if o.PayloadType != 0 {
					chosen.PayloadType = o.PayloadType
				}
				return chosen, nil
			}
		}
	}
	if fallback == nil {
		return webrtc.RTPCodecParameters{}, fmt.Errorf("no codec registered for %s", kind)
	}
	if len(offered) > 0 {
		return webrtc.RTPCodecParameters{}, fmt.Errorf("no supported %s codec offered", kind)
	}
	return *fallback, nil
}

func newID() string { return uuid.NewString() }
