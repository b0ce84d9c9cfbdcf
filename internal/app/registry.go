package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps room names to rooms and connections to the room they are in.
// Lock order is Registry before Room; code holding a room lock never calls
// back into the registry.
type Registry struct {
	ctx context.Context

	mu    sync.RWMutex
	rooms map[domain.RoomName]*Room
	conns map[core.SessionID]*Room
}

func NewRegistry(ctx context.Context) *Registry {
	return &Registry{
		ctx:   ctx,
		rooms: make(map[domain.RoomName]*Room),
		conns: make(map[core.SessionID]*Room),
	}
}

// JoinFunc runs under the room lock right after the peer is inserted.
// replaced is the stale peer that held the same user id, if any.
type JoinFunc func(r *Room, p *Peer, created bool, replaced *Peer)

// Join creates the room if absent and inserts a peer for sid. The creator
// becomes the moderator. sid must not already be in a room.
func (reg *Registry) Join(sid core.SessionID, name domain.RoomName, uid domain.UserID, conn core.SignalConnection, fn JoinFunc) (*Room, *Peer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if cur, ok := reg.conns[sid]; ok {
		return nil, nil, fmt.Errorf("%w: connection already in room %q", domain.ErrInvalidRequest, cur.Name)
	}

	room, ok := reg.rooms[name]
	created := !ok
	if created {
		room = newRoom(reg.ctx, name, uid)
		reg.rooms[name] = room
		log.Info().Str("module", "app.registry").Str("room", string(name)).Str("moderator", string(uid)).Msg("room created")
	}

	room.Lock()
	defer room.Unlock()

	var replaced *Peer
	if old, ok := room.PeerByUser(uid); ok {
		replaced = old
		delete(room.peers, old.SID)
		delete(reg.conns, old.SID)
		log.Info().Str("module", "app.registry").Str("room", string(name)).Str("user", string(uid)).Str("stale_sid", string(old.SID)).Msg("replacing stale peer")
	}

	peer := NewPeer(sid, uid, conn)
	room.peers[sid] = peer
	reg.conns[sid] = room
	log.Info().Str("module", "app.registry").Str("room", string(name)).Str("sid", string(sid)).Str("user", string(uid)).Msg("peer joined")

	if fn != nil {
		fn(room, peer, created, replaced)
	}
	return room, peer, nil
}

// LeaveFunc runs under the room lock after the peer is removed. last is true
// when the room became empty and was deleted.
type LeaveFunc func(r *Room, p *Peer, last bool)

// Leave removes sid from its room. When expect is non-nil, nothing happens
// unless sid still maps to that exact peer. The last departure deletes the
// room in the same critical section.
func (reg *Registry) Leave(sid core.SessionID, expect *Peer, fn LeaveFunc) (*Room, *Peer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.conns[sid]
	if !ok {
		return nil, nil, domain.ErrPeerNotFound
	}

	room.Lock()
	defer room.Unlock()

	peer, ok := room.peers[sid]
	if !ok || (expect != nil && peer != expect) {
		return nil, nil, domain.ErrPeerNotFound
	}
	delete(room.peers, sid)
	delete(reg.conns, sid)

	last := len(room.peers) == 0
	if last {
		reg.dropRoomLocked(room)
	}
	log.Info().Str("module", "app.registry").Str("room", string(room.Name)).Str("sid", string(sid)).Bool("last", last).Msg("peer left")

	if fn != nil {
		fn(room, peer, last)
	}
	return room, peer, nil
}

// EndFunc runs under both locks before the room is deleted. Returning an
// error aborts the teardown.
type EndFunc func(r *Room, peers []*Peer) error

// End deletes the room unconditionally, detaching every peer. Joins racing
// with End either land before it (and are torn down) or create a fresh room.
func (reg *Registry) End(room *Room, fn EndFunc) ([]*Peer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if cur, ok := reg.rooms[room.Name]; !ok || cur != room {
		return nil, domain.ErrRoomNotFound
	}

	room.Lock()
	defer room.Unlock()

	peers := room.Peers()
	if fn != nil {
		if err := fn(room, peers); err != nil {
			return nil, err
		}
	}
	for _, p := range peers {
		delete(reg.conns, p.SID)
	}
	clear(room.peers)
	reg.dropRoomLocked(room)
	log.Info().Str("module", "app.registry").Str("room", string(room.Name)).Int("peers", len(peers)).Msg("room ended")
	return peers, nil
}

// dropRoomLocked requires reg.mu and room.mu.
func (reg *Registry) dropRoomLocked(room *Room) {
	room.closed = true
	room.cancel()
	if cur, ok := reg.rooms[room.Name]; ok && cur == room {
		delete(reg.rooms, room.Name)
	}
	log.Info().Str("module", "app.registry").Str("room", string(room.Name)).Msg("room deleted")
}

// RoomOf returns the room sid is in.
func (reg *Registry) RoomOf(sid core.SessionID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.conns[sid]
	return r, ok
}

func (reg *Registry) Get(name domain.RoomName) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[name]
	return r, ok
}

// Rooms returns a snapshot of live rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

func (reg *Registry) List() []domain.RoomInfo {
	rooms := reg.Rooms()
	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats reports the number of rooms and joined connections.
func (reg *Registry) Stats() (rooms, peers int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms), len(reg.conns)
}
