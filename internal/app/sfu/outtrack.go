package sfu

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketSink accepts forwarded packets. *webrtc.TrackLocalStaticRTP is one.
type PacketSink interface {
	WriteRTP(p *rtp.Packet) error
}

// SinkFunc adapts a function to PacketSink.
type SinkFunc func(p *rtp.Packet) error

func (f SinkFunc) WriteRTP(p *rtp.Packet) error { return f(p) }

// OutTrack represents a single outgoing track to a subscriber.
type OutTrack struct {
	Sink  PacketSink
	state atomic.Int32 // Zero by default (TrackStateOk)

	closeOnce sync.Once
	onClose   func()
}

func NewOutTrack(sink PacketSink, onClose func()) *OutTrack {
	return &OutTrack{Sink: sink, onClose: onClose}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.Store(int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.Store(int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

// sourceGone tells the subscriber that its source stopped. Runs at most once.
func (ot *OutTrack) sourceGone() {
	ot.MarkDelete()
	ot.closeOnce.Do(func() {
		if ot.onClose != nil {
			go ot.onClose()
		}
	})
}

// detach drops the subscriber without notifying it.
func (ot *OutTrack) detach() {
	ot.MarkDelete()
	ot.closeOnce.Do(func() {})
}
