package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	RoomName string `json:"roomName" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"required,max=64"`
}

func (ctl *SignalWSController) handleJoin(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[joinPayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	res, err := ctl.Orch.Join(s.sid, s.conn, p.RoomName, p.UserID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "signal").
		Str("sid", string(s.sid)).
		Str("room", p.RoomName).
		Str("user", p.UserID).
		Bool("moderator", res.IsModerator).
		Msg("join")
	return res, nil
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(_ context.Context, s session, _ json.RawMessage) (any, error) {
	if err := ctl.Orch.Leave(s.sid); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("leave")
	return map[string]bool{"left": true}, nil
}

func (ctl *SignalWSController) handleParticipants(_ context.Context, s session, _ json.RawMessage) (any, error) {
	members, err := ctl.Orch.Participants(s.sid)
	if err != nil {
		return nil, err
	}
	return struct {
		Participants []domain.Member `json:"participants"`
	}{members}, nil
}

func (ctl *SignalWSController) handleEndCall(_ context.Context, s session, _ json.RawMessage) (any, error) {
	if err := ctl.Orch.EndCallForAll(s.sid); err != nil {
		return nil, err
	}
	return map[string]bool{"ended": true}, nil
}
