package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	Joined      bool `json:"joined"`
	IsModerator bool `json:"isModerator"`
}

// Join puts the connection into a room, creating the room with the caller as
// moderator if needed. A connection already in a room leaves it first, and a
// stale peer holding the same user id is replaced.
func (o *Orchestrator) Join(sid core.SessionID, conn core.SignalConnection, rawRoom, rawUser string) (JoinResult, error) {
	name, err := domain.NewRoomName(rawRoom)
	if err != nil {
		return JoinResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	uid, err := domain.NewUserID(rawUser)
	if err != nil {
		return JoinResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	if prev, ok := o.Registry.RoomOf(sid); ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev.Name)).Str("to_room", string(name)).Msg("switching rooms")
		if err := o.Leave(sid); err != nil && !errors.Is(err, domain.ErrPeerNotFound) {
			return JoinResult{}, err
		}
	}

	var (
		stale      *app.Peer
		staleMedia app.Media
		isCreator  bool
	)
	room, peer, err := o.Registry.Join(sid, name, uid, conn, func(r *app.Room, p *app.Peer, created bool, replaced *app.Peer) {
		isCreator = created
		if replaced != nil {
			stale = replaced
			staleMedia, _ = o.departLocked(r, replaced, p.SID, false)
		}
		o.broadcast(r, p.SID, domain.EventParticipantJoined, domain.Member{
			UserID:      p.UserID,
			IsModerator: r.IsModerator(p.UserID),
			JoinedAt:    p.JoinedAt,
		})
		o.send(r, p, domain.EventExistingProducers, domain.ExistingProducersData{Producers: r.ProducersExcept(p.SID)})
	})
	if err != nil {
		return JoinResult{}, err
	}

	if stale != nil {
		staleMedia.Close()
		if stale.Conn != nil && stale.Conn != conn {
			go stale.Conn.Close()
		}
	}
	if isCreator {
		o.goBackground(func() { o.watchDefaultMainVideo(room) })
	}

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(name)).
		Str("user", string(uid)).
		Bool("moderator", room.IsModerator(peer.UserID)).
		Msg("joined room")
	return JoinResult{Joined: true, IsModerator: room.IsModerator(peer.UserID)}, nil
}

// Leave removes the caller from its room and closes everything it owned.
func (o *Orchestrator) Leave(sid core.SessionID) error {
	var (
		media app.Media
		stop  *recording.Session
	)
	room, _, err := o.Registry.Leave(sid, nil, func(r *app.Room, p *app.Peer, last bool) {
		media, stop = o.departLocked(r, p, "", last)
	})
	if err != nil {
		return err
	}
	o.afterDepart(room, media, stop)
	return nil
}

// OnDisconnect is the connection-loss path. It is a no-op for connections
// that already left, were kicked or whose call was ended.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	if err := o.Leave(sid); err != nil {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("disconnect without room")
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected peer removed")
}

// departLocked runs under the room lock once p is out of the peer set. It
// detaches p's media, tells the others and releases what p held in the room.
// A recording is returned for stopping when the room just emptied.
func (o *Orchestrator) departLocked(room *app.Room, p *app.Peer, except core.SessionID, last bool) (app.Media, *recording.Session) {
	media := p.DetachMedia()
	o.broadcast(room, except, domain.EventUserDisconnected, domain.UserData{UserID: p.UserID})

	if mv := room.MainVideo(); !mv.IsZero() && mv.UserID == p.UserID {
		if _, _, ok := room.FindProducer(mv.ProducerID); !ok {
			room.SetMainVideo(domain.MainVideo{})
			o.broadcast(room, except, domain.EventMainVideoChanged, domain.MainVideo{})
		}
	}

	if last {
		if sess, ok := room.BeginStop(nil); ok {
			return media, sess
		}
	}
	return media, nil
}

func (o *Orchestrator) afterDepart(room *app.Room, media app.Media, stop *recording.Session) {
	media.Close()
	if stop != nil {
		o.goBackground(func() { _, _ = o.finishRecording(context.Background(), room, stop) })
	}
}

// EndCallForAll tears the caller's room down. Only the moderator may do it.
func (o *Orchestrator) EndCallForAll(sid core.SessionID) error {
	room, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrPeerNotFound
	}

	var (
		medias []app.Media
		stop   *recording.Session
		by     domain.UserID
	)
	peers, err := o.Registry.End(room, func(r *app.Room, peers []*app.Peer) error {
		p, ok := r.Peer(sid)
		if !ok {
			return domain.ErrPeerNotFound
		}
		if err := requireModerator(r, p); err != nil {
			return err
		}
		by = p.UserID
		o.broadcast(r, "", domain.EventCallEndedForAll, domain.CallEndedData{By: by})
		for _, peer := range peers {
			medias = append(medias, peer.DetachMedia())
		}
		r.SetMainVideo(domain.MainVideo{})
		stop, _ = r.BeginStop(nil)
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range medias {
		m.Close()
	}
	if stop != nil {
		o.goBackground(func() { _, _ = o.finishRecording(context.Background(), room, stop) })
	}
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("by", string(by)).Int("peers", len(peers)).Msg("call ended for all")
	return nil
}

// Participants lists the members of the caller's room.
func (o *Orchestrator) Participants(sid core.SessionID) ([]domain.Member, error) {
	room, _, err := o.lockPeer(sid)
	if err != nil {
		return nil, err
	}
	members := room.Members()
	room.Unlock()
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

// RoomDetails describes one room for the HTTP API.
func (o *Orchestrator) RoomDetails(name domain.RoomName) (domain.RoomInfo, []domain.Member, error) {
	room, ok := o.Registry.Get(name)
	if !ok {
		return domain.RoomInfo{}, nil, domain.ErrRoomNotFound
	}
	info := room.Info()
	room.Lock()
	members := room.Members()
	room.Unlock()
	return info, members, nil
}
