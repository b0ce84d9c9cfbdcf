package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Conference/internal/domain"
)

type mainVideoPayload struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

type selfMutePayload struct {
	Muted bool `json:"muted"`
}

func (ctl *SignalWSController) handleSetMainVideo(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[mainVideoPayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.SetMainVideo(s.sid, domain.UserID(p.UserID))
}

func (ctl *SignalWSController) handleSetMute(_ context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[selfMutePayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	if err := ctl.Orch.SetMute(s.sid, p.Muted); err != nil {
		return nil, err
	}
	return map[string]bool{"muted": p.Muted}, nil
}
