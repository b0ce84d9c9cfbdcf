package orch

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator applies signaling requests to the registry and the media engine.
type Orchestrator struct {
	Registry  *app.Registry
	Engine    core.Engine
	Recorder  *recording.Recorder
	Store     core.RecordingStore
	Policy    app.Policy
	MainVideo config.MainVideoConfig

	stats Stats
	bg    sync.WaitGroup
}

// Stats are process-wide counters exposed on /metrics.
type Stats struct {
	DroppedEvents     atomic.Int64
	RecordingsStarted atomic.Int64
	RecordingsStopped atomic.Int64
	RecordingsActive  atomic.Int64
	Uploads           atomic.Int64
	UploadFailures    atomic.Int64
}

func New(reg *app.Registry, engine core.Engine, rec *recording.Recorder, store core.RecordingStore, policy app.Policy, mv config.MainVideoConfig) *Orchestrator {
	return &Orchestrator{
		Registry:  reg,
		Engine:    engine,
		Recorder:  rec,
		Store:     store,
		Policy:    policy,
		MainVideo: mv,
	}
}

func (o *Orchestrator) Stats() *Stats { return &o.stats }

// Wait blocks until background work (recording stops, uploads, main-video
// polling) has finished.
func (o *Orchestrator) Wait() { o.bg.Wait() }

func (o *Orchestrator) goBackground(fn func()) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		fn()
	}()
}

func encodeEvent(typ domain.EventType, data any) (core.Frame, bool) {
	b, err := json.Marshal(domain.Event{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", string(typ)).Msg("event marshal")
		return nil, false
	}
	return b, true
}

// send queues an event for one peer. Caller holds the room lock, which keeps
// events of one room in order per peer. It never blocks.
func (o *Orchestrator) send(room *app.Room, p *app.Peer, typ domain.EventType, data any) {
	frame, ok := encodeEvent(typ, data)
	if !ok {
		return
	}
	o.deliver(room, p, typ, frame)
}

// broadcast queues an event for every peer except the one with sid
// (pass "" to reach everybody). Caller holds the room lock.
func (o *Orchestrator) broadcast(room *app.Room, except core.SessionID, typ domain.EventType, data any) {
	frame, ok := encodeEvent(typ, data)
	if !ok {
		return
	}
	for _, p := range room.Peers() {
		if p.SID == except {
			continue
		}
		o.deliver(room, p, typ, frame)
	}
}

func (o *Orchestrator) deliver(room *app.Room, p *app.Peer, typ domain.EventType, frame core.Frame) {
	if p.Conn == nil {
		return
	}
	err := p.Conn.TrySend(frame)
	if err == nil {
		return
	}
	o.stats.DroppedEvents.Add(1)
	log.Warn().
		Err(err).
		Str("module", "orch").
		Str("room", string(room.Name)).
		Str("sid", string(p.SID)).
		Str("event", string(typ)).
		Msg("event dropped")
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, p) {
	case app.KickMember:
		// Closing ends the read loop, which runs the disconnect path.
		go p.Conn.Close()
	case app.NoAction:
	}
}

// lockPeer resolves the caller's room and peer and returns with the room
// locked. The caller must Unlock.
func (o *Orchestrator) lockPeer(sid core.SessionID) (*app.Room, *app.Peer, error) {
	room, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, nil, domain.ErrPeerNotFound
	}
	room.Lock()
	peer, ok := room.Peer(sid)
	if !ok || room.Closed() {
		room.Unlock()
		return nil, nil, domain.ErrPeerNotFound
	}
	return room, peer, nil
}

// relock re-enters the room after an engine call and checks that peer is
// still the same member. On false the room is left unlocked.
func relock(room *app.Room, peer *app.Peer) bool {
	room.Lock()
	cur, ok := room.Peer(peer.SID)
	if !ok || cur != peer || room.Closed() {
		room.Unlock()
		return false
	}
	return true
}

func requireModerator(room *app.Room, peer *app.Peer) error {
	if !room.IsModerator(peer.UserID) {
		return domain.ErrNotAuthorized
	}
	return nil
}
