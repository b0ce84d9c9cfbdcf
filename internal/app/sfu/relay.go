package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource yields packets from a producer until it returns an error.
type PacketSource func() (*rtp.Packet, error)

// Relay copies one producer's packets to all of its subscribers.
type Relay struct {
	ProducerID string
	src        PacketSource

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
	stopped   bool

	paused atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(producerID string, src PacketSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		ProducerID: producerID,
		src:        src,
		outTracks:  make(map[string]*OutTrack),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// loop reads RTP packets from the source and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, releasing subscribers")
			r.stop()
			return
		default:
		}
		pkt, err := r.src()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.stop()
			return
		}
		if r.paused.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for dstID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer_id", dstID).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

// stop releases every subscriber and notifies them that the source is gone.
func (r *Relay) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	tracks := make([]*OutTrack, 0, len(r.outTracks))
	for _, ot := range r.outTracks {
		tracks = append(tracks, ot)
	}
	clear(r.outTracks)
	r.mu.Unlock()

	for _, ot := range tracks {
		ot.sourceGone()
	}
}

// AddOutTrack subscribes dst. It reports false if the relay already stopped.
func (r *Relay) AddOutTrack(dst string, ot *OutTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.outTracks[dst] = ot
	return true
}

func (r *Relay) removeOutTrack(dst string) {
	r.mu.Lock()
	ot, ok := r.outTracks[dst]
	delete(r.outTracks, dst)
	r.mu.Unlock()
	if ok {
		ot.detach()
	}
}

func (r *Relay) SetPaused(paused bool) { r.paused.Store(paused) }

func (r *Relay) Paused() bool { return r.paused.Load() }

func (r *Relay) Stopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stopped
}

func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

// Done is closed when the forwarding loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }
