package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

type mutePayload struct {
	UserID string `json:"userId" validate:"required,max=64"`
	Mute   bool   `json:"mute"`
}

type kickPayload struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

type pausePayload struct {
	ProducerID string `json:"producerId" validate:"required"`
	Pause      bool   `json:"pause"`
}

type qualityPayload struct {
	ConsumerID string `json:"consumerId" validate:"required"`
	Quality    string `json:"quality" validate:"required,oneof=low medium high"`
}

func (ctl *SignalWSController) handleToggleRecording(ctx context.Context, s session, _ json.RawMessage) (any, error) {
	return ctl.Orch.ToggleRecording(ctx, s.sid)
}

func (ctl *SignalWSController) handleMuteAll(_ context.Context, s session, _ json.RawMessage) (any, error) {
	n, err := ctl.Orch.MuteAll(s.sid)
	if err != nil {
		return nil, err
	}
	return map[string]int{"muted": n}, nil
}

func (ctl *SignalWSController) handleMuteParticipant(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[mutePayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.MuteParticipant(s.sid, domain.UserID(p.UserID), p.Mute); err != nil {
		return nil, err
	}
	return map[string]bool{"muted": p.Mute}, nil
}

func (ctl *SignalWSController) handleKick(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[kickPayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.Kick(s.sid, domain.UserID(p.UserID)); err != nil {
		return nil, err
	}
	return map[string]bool{"kicked": true}, nil
}

func (ctl *SignalWSController) handlePauseScreenShare(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[pausePayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.PauseScreenShare(s.sid, p.ProducerID, p.Pause); err != nil {
		return nil, err
	}
	return map[string]bool{"paused": p.Pause}, nil
}

func (ctl *SignalWSController) handleStreamQuality(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[qualityPayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.SetStreamQuality(s.sid, p.ConsumerID, core.StreamQuality(p.Quality)); err != nil {
		return nil, err
	}
	return map[string]string{"quality": p.Quality}, nil
}

func (ctl *SignalWSController) handlePing(_ context.Context, _ session, _ json.RawMessage) (any, error) {
	return map[string]int64{"pong": time.Now().UnixMilli()}, nil
}
