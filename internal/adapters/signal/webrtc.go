package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
)

type connectPayload struct {
	TransportID    string                `json:"transportId" validate:"required"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *webrtc.ICEParameters `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates,omitempty"`
}

type producePayload struct {
	TransportID   string                   `json:"transportId" validate:"required"`
	Kind          string                   `json:"kind" validate:"required,oneof=audio video"`
	RTPParameters webrtc.RTPSendParameters `json:"rtpParameters"`
}

type consumePayload struct {
	TransportID     string               `json:"transportId" validate:"required"`
	ProducerID      string               `json:"producerId" validate:"required"`
	RTPCapabilities core.RTPCapabilities `json:"rtpCapabilities"`
}

func (ctl *SignalWSController) handleCapabilities(_ context.Context, _ session, _ json.RawMessage) (any, error) {
	return ctl.Orch.Capabilities(), nil
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, s session, _ json.RawMessage) (any, error) {
	return ctl.Orch.CreateTransport(ctx, s.sid)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[connectPayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	err = ctl.Orch.ConnectTransport(ctx, s.sid, p.TransportID, core.ConnectParams{
		DTLSParameters: p.DTLSParameters,
		ICEParameters:  p.ICEParameters,
		ICECandidates:  p.ICECandidates,
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"connected": true}, nil
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[producePayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	id, err := ctl.Orch.Produce(ctx, s.sid, p.TransportID, domain.MediaKind(p.Kind), p.RTPParameters)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, s session, data json.RawMessage) (any, error) {
	p, err := decode[consumePayload](ctl.validate, data)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.Consume(ctx, s.sid, p.TransportID, p.ProducerID, p.RTPCapabilities)
}

func (ctl *SignalWSController) handleExistingProducers(_ context.Context, s session, _ json.RawMessage) (any, error) {
	producers, err := ctl.Orch.ExistingProducers(s.sid)
	if err != nil {
		return nil, err
	}
	return domain.ExistingProducersData{Producers: producers}, nil
}
