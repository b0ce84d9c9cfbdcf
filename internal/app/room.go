package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingStarting
	RecordingActive
	RecordingStopping
)

func (s RecordingState) String() string {
	switch s {
	case RecordingStarting:
		return "starting"
	case RecordingActive:
		return "recording"
	case RecordingStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Room is a named session. All mutations happen under its lock; methods
// documented as "caller holds lock" must only be called between Lock and Unlock.
type Room struct {
	Name      domain.RoomName
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	peers     map[core.SessionID]*Peer
	moderator domain.UserID
	mainVideo domain.MainVideo

	recState RecordingState
	rec      *recording.Session

	closed bool
}

func newRoom(parent context.Context, name domain.RoomName, moderator domain.UserID) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		Name:      name,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[core.SessionID]*Peer),
		moderator: moderator,
	}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// Context is cancelled when the room is torn down.
func (r *Room) Context() context.Context { return r.ctx }

// Closed reports whether the room left the registry. Caller holds lock.
func (r *Room) Closed() bool { return r.closed }

// Peer looks up a peer by connection. Caller holds lock.
func (r *Room) Peer(sid core.SessionID) (*Peer, bool) {
	p, ok := r.peers[sid]
	return p, ok
}

// PeerByUser looks up a peer by user id. Caller holds lock.
func (r *Room) PeerByUser(uid domain.UserID) (*Peer, bool) {
	for _, p := range r.peers {
		if p.UserID == uid {
			return p, true
		}
	}
	return nil, false
}

// Peers returns a snapshot of the peer set. Caller holds lock.
func (r *Room) Peers() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount is the number of peers. Caller holds lock.
func (r *Room) PeerCount() int { return len(r.peers) }

func (r *Room) Moderator() domain.UserID { return r.moderator }

// IsModerator is safe without the lock: the moderator never changes.
func (r *Room) IsModerator(uid domain.UserID) bool { return r.moderator == uid }

// MainVideo returns the promoted producer. Caller holds lock.
func (r *Room) MainVideo() domain.MainVideo { return r.mainVideo }

// SetMainVideo replaces the promoted producer. Caller holds lock.
func (r *Room) SetMainVideo(mv domain.MainVideo) { r.mainVideo = mv }

// FindProducer resolves a producer owned by any peer. Caller holds lock.
func (r *Room) FindProducer(id string) (*Peer, core.Producer, bool) {
	for _, p := range r.peers {
		if pr, ok := p.Producer(id); ok {
			return p, pr, true
		}
	}
	return nil, nil, false
}

// Members returns the read-only participant list. Caller holds lock.
func (r *Room) Members() []domain.Member {
	out := make([]domain.Member, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, domain.Member{
			UserID:      p.UserID,
			IsMuted:     p.muted,
			IsModerator: p.UserID == r.moderator,
			JoinedAt:    p.JoinedAt,
		})
	}
	return out
}

// ProducersExcept lists every open producer not owned by sid. Caller holds lock.
func (r *Room) ProducersExcept(sid core.SessionID) []domain.ProducerInfo {
	out := make([]domain.ProducerInfo, 0)
	for _, p := range r.peers {
		if p.SID == sid {
			continue
		}
		for _, pr := range p.Producers() {
			out = append(out, domain.ProducerInfo{ProducerID: pr.ID(), Kind: pr.Kind(), UserID: p.UserID})
		}
	}
	return out
}

// RecordingState reports the recorder state. Caller holds lock.
func (r *Room) RecordingState() RecordingState { return r.recState }

// Recording returns the active session, if any. Caller holds lock.
func (r *Room) Recording() *recording.Session { return r.rec }

// BeginRecording reserves the recorder. Caller holds lock.
func (r *Room) BeginRecording() bool {
	if r.recState != RecordingIdle {
		return false
	}
	r.recState = RecordingStarting
	return true
}

// CommitRecording publishes a started session. It reports false if the
// reservation was lost in the meantime. Caller holds lock.
func (r *Room) CommitRecording(s *recording.Session) bool {
	if r.closed || r.recState != RecordingStarting {
		return false
	}
	r.recState = RecordingActive
	r.rec = s
	return true
}

// AbortRecording drops a reservation taken by BeginRecording. Caller holds lock.
func (r *Room) AbortRecording() {
	if r.recState == RecordingStarting {
		r.recState = RecordingIdle
	}
}

// BeginStop moves an active session to stopping and returns it. When want is
// non-nil, only that session is stopped. Caller holds lock.
func (r *Room) BeginStop(want *recording.Session) (*recording.Session, bool) {
	if r.recState != RecordingActive || (want != nil && r.rec != want) {
		return nil, false
	}
	r.recState = RecordingStopping
	return r.rec, true
}

// FinishStop returns the recorder to idle. Caller holds lock.
func (r *Room) FinishStop(s *recording.Session) {
	if r.rec == s {
		r.rec = nil
		r.recState = RecordingIdle
	}
}

// Info is a snapshot for the HTTP surface. It takes the lock itself.
func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomInfo{
		Name:      r.Name,
		PeerCount: len(r.peers),
		Moderator: r.moderator,
		Recording: r.recState == RecordingActive,
	}
}
