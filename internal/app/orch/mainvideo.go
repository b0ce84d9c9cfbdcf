package orch

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	errNoModeratorVideo = errors.New("moderator has no video producer yet")
	errRoomClosed       = errors.New("room closed")
)

// watchDefaultMainVideo polls at a fixed interval for the moderator's first
// video producer and promotes it unless a main video was chosen meanwhile.
// It gives up after MaxAttempts or when the room goes away.
func (o *Orchestrator) watchDefaultMainVideo(room *app.Room) {
	attempts := max(o.MainVideo.MaxAttempts, 1)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.MainVideo.PollInterval), uint64(attempts-1)),
		room.Context(),
	)

	err := backoff.Retry(func() error { return o.tryDefaultMainVideo(room) }, b)
	switch {
	case err == nil:
	case errors.Is(err, errNoModeratorVideo):
		log.Info().Str("module", "orch").Str("room", string(room.Name)).Int("attempts", attempts).Msg("no default main video set")
	default:
		log.Debug().Err(err).Str("module", "orch").Str("room", string(room.Name)).Msg("default main video watch ended")
	}
}

func (o *Orchestrator) tryDefaultMainVideo(room *app.Room) error {
	room.Lock()
	defer room.Unlock()
	if room.Closed() {
		return backoff.Permanent(errRoomClosed)
	}
	if !room.MainVideo().IsZero() {
		return nil
	}
	mod, ok := room.PeerByUser(room.Moderator())
	if !ok {
		return errNoModeratorVideo
	}
	pr, ok := mod.VideoProducer()
	if !ok {
		return errNoModeratorVideo
	}
	mv := domain.MainVideo{UserID: mod.UserID, ProducerID: pr.ID()}
	room.SetMainVideo(mv)
	o.broadcast(room, "", domain.EventMainVideoChanged, mv)
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("producer_id", pr.ID()).Msg("default main video selected")
	return nil
}
