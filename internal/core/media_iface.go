package core

import (
	"context"
	"errors"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrAlreadyConnected = errors.New("transport already connected")

// RTPCapabilities is the codec set an endpoint can receive.
type RTPCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// TransportParams is what a client needs to set up its side of a transport.
type TransportParams struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEServers     []webrtc.ICEServer    `json:"iceServers,omitempty"`
}

// ConnectParams carries the remote side of a transport.
type ConnectParams struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *webrtc.ICEParameters `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates,omitempty"`
}

// Engine is the media engine facade. It performs the actual packet
// forwarding; the signaling core only sees opaque handles.
type Engine interface {
	Capabilities() RTPCapabilities
	// CreateTransport allocates a client-facing ICE/DTLS transport.
	CreateTransport(ctx context.Context) (Transport, error)
	// CreateDirectTransport allocates an in-process transport whose
	// consumers hand packets to OnRTP callbacks instead of the network.
	CreateDirectTransport(ctx context.Context) (Transport, error)
	CanConsume(producerID string, caps RTPCapabilities) bool
	// Died is signalled once if the engine can no longer serve any room.
	Died() <-chan error
	Close() error
}

type Transport interface {
	ID() string
	Params() TransportParams
	// Connect applies the remote parameters. Connecting an already
	// connected transport returns ErrAlreadyConnected.
	Connect(ctx context.Context, p ConnectParams) error
	Connected() bool
	Produce(ctx context.Context, kind domain.MediaKind, params webrtc.RTPSendParameters) (Producer, error)
	Consume(ctx context.Context, producerID string, caps RTPCapabilities) (Consumer, error)
	Close()
	Closed() bool
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Pause()
	Resume()
	Paused() bool
	Close()
	Closed() bool
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RTPParameters() webrtc.RTPSendParameters
	// SetPreferredQuality records the receiver's quality preference.
	SetPreferredQuality(q StreamQuality)
	// PreferredQuality is QualityHigh until a preference is set.
	PreferredQuality() StreamQuality
	// OnProducerClose is invoked at most once, from an engine goroutine,
	// when the referenced producer goes away. The consumer is closed by then.
	OnProducerClose(fn func())
	// OnRTP receives forwarded packets. Only direct-transport consumers call it.
	OnRTP(fn func(*rtp.Packet))
	Close()
	Closed() bool
}

type StreamQuality string

const (
	QualityLow    StreamQuality = "low"
	QualityMedium StreamQuality = "medium"
	QualityHigh   StreamQuality = "high"
)
