package orch

import (
	"fmt"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// MuteAll force-mutes every peer except the moderator.
func (o *Orchestrator) MuteAll(sid core.SessionID) (int, error) {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return 0, err
	}
	defer room.Unlock()
	if err := requireModerator(room, peer); err != nil {
		return 0, err
	}

	n := 0
	for _, p := range room.Peers() {
		if p.UserID == room.Moderator() {
			continue
		}
		p.SetMuted(true)
		o.send(room, p, domain.EventForceAudioMute, domain.ForceMuteData{By: peer.UserID})
		n++
	}
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Int("muted", n).Msg("mute all")
	return n, nil
}

// MuteParticipant sets one participant's mute flag and tells only that peer.
func (o *Orchestrator) MuteParticipant(sid core.SessionID, target domain.UserID, mute bool) error {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()
	if err := requireModerator(room, peer); err != nil {
		return err
	}
	tp, ok := room.PeerByUser(target)
	if !ok {
		return domain.ErrParticipantNotFound
	}

	tp.SetMuted(mute)
	ev := domain.EventForceAudioUnmute
	if mute {
		ev = domain.EventForceAudioMute
	}
	o.send(room, tp, ev, domain.ForceMuteData{By: peer.UserID})
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("target", string(target)).Bool("mute", mute).Msg("participant mute")
	return nil
}

// Kick removes a participant. The target hears "kicked" before its connection
// is closed; the disconnect that follows finds nothing left to clean up.
func (o *Orchestrator) Kick(sid core.SessionID, target domain.UserID) error {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	if err := requireModerator(room, peer); err != nil {
		room.Unlock()
		return err
	}
	if target == peer.UserID {
		room.Unlock()
		return fmt.Errorf("%w: cannot kick yourself", domain.ErrInvalidRequest)
	}
	tp, ok := room.PeerByUser(target)
	if !ok {
		room.Unlock()
		return domain.ErrParticipantNotFound
	}
	o.send(room, tp, domain.EventKicked, domain.KickedData{By: peer.UserID})
	room.Unlock()

	var (
		media app.Media
		stop  *recording.Session
	)
	if _, _, err := o.Registry.Leave(tp.SID, tp, func(r *app.Room, p *app.Peer, last bool) {
		media, stop = o.departLocked(r, p, "", last)
	}); err == nil {
		o.afterDepart(room, media, stop)
	}
	if tp.Conn != nil {
		tp.Conn.Close()
	}
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("target", string(target)).Str("by", string(peer.UserID)).Msg("participant kicked")
	return nil
}

// PauseScreenShare pauses or resumes one of the caller's own producers and
// tells the others.
func (o *Orchestrator) PauseScreenShare(sid core.SessionID, producerID string, pause bool) error {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()
	pr, ok := peer.Producer(producerID)
	if !ok || pr.Closed() {
		return domain.ErrProducerNotFound
	}
	if pause {
		pr.Pause()
	} else {
		pr.Resume()
	}
	o.broadcast(room, peer.SID, domain.EventScreenSharePaused, domain.ScreenSharePausedData{
		UserID:     peer.UserID,
		ProducerID: producerID,
		Paused:     pause,
	})
	return nil
}

// SetStreamQuality records a receive preference on one of the caller's consumers.
func (o *Orchestrator) SetStreamQuality(sid core.SessionID, consumerID string, q core.StreamQuality) error {
	switch q {
	case core.QualityLow, core.QualityMedium, core.QualityHigh:
	default:
		return fmt.Errorf("%w: quality %q", domain.ErrInvalidRequest, q)
	}
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()
	c, ok := peer.Consumer(consumerID)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	if c.PreferredQuality() != q {
		c.SetPreferredQuality(q)
	}
	return nil
}

// SetMainVideo promotes the target's video producer. Any participant may do it.
func (o *Orchestrator) SetMainVideo(sid core.SessionID, target domain.UserID) (domain.MainVideo, error) {
	room, _, err := o.lockPeer(sid)
	if err != nil {
		return domain.MainVideo{}, err
	}
	defer room.Unlock()
	tp, ok := room.PeerByUser(target)
	if !ok {
		return domain.MainVideo{}, domain.ErrParticipantNotFound
	}
	pr, ok := tp.VideoProducer()
	if !ok {
		return domain.MainVideo{}, domain.ErrProducerNotFound
	}
	mv := domain.MainVideo{UserID: target, ProducerID: pr.ID()}
	room.SetMainVideo(mv)
	o.broadcast(room, "", domain.EventMainVideoChanged, mv)
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("user", string(target)).Str("producer_id", pr.ID()).Msg("main video set")
	return mv, nil
}

// SetMute is the self-service mute toggle.
func (o *Orchestrator) SetMute(sid core.SessionID, muted bool) error {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	defer room.Unlock()
	peer.SetMuted(muted)
	o.broadcast(room, peer.SID, domain.EventParticipantMuteChanged, domain.MuteChangedData{UserID: peer.UserID, IsMuted: muted})
	return nil
}
