package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Capabilities is the static receive capability set of the engine.
func (o *Orchestrator) Capabilities() core.RTPCapabilities {
	return o.Engine.Capabilities()
}

// CreateTransport allocates a transport for the caller. The engine round trip
// happens outside the room lock; the transport is closed again if the caller
// left in the meantime.
func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID) (core.TransportParams, error) {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return core.TransportParams{}, err
	}
	room.Unlock()

	t, err := o.Engine.CreateTransport(ctx)
	if err != nil {
		return core.TransportParams{}, domain.ExternalError("create transport", err)
	}
	if !relock(room, peer) {
		t.Close()
		return core.TransportParams{}, domain.ErrPeerNotFound
	}
	peer.AddTransport(t)
	room.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("transport_id", t.ID()).Msg("transport created")
	return t.Params(), nil
}

// ConnectTransport applies the remote DTLS (and ICE) parameters to one of the
// caller's own transports.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, p core.ConnectParams) error {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return err
	}
	t, ok := peer.Transport(transportID)
	room.Unlock()
	if !ok {
		return domain.ErrTransportNotFound
	}

	if t.Connected() {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("transport_id", transportID).Msg("transport already connected")
		return nil
	}
	if err := t.Connect(ctx, p); err != nil {
		if errors.Is(err, core.ErrAlreadyConnected) {
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("transport_id", transportID).Msg("transport already connected")
			return nil
		}
		return domain.ExternalError("connect transport", err)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("transport_id", transportID).Msg("transport connected")
	return nil
}

// Produce creates a producer on the caller's transport and announces it to
// the rest of the room. The announcement is queued under the same lock that
// registers the producer, so nobody hears of it before it can be consumed.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, transportID string, kind domain.MediaKind, params webrtc.RTPSendParameters) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: kind %q", domain.ErrInvalidRequest, kind)
	}
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return "", err
	}
	t, ok := peer.Transport(transportID)
	room.Unlock()
	if !ok {
		return "", domain.ErrTransportNotFound
	}

	pr, err := t.Produce(ctx, kind, params)
	if err != nil {
		return "", domain.ExternalError("produce", err)
	}
	if !relock(room, peer) {
		pr.Close()
		return "", domain.ErrPeerNotFound
	}
	peer.AddProducer(pr)
	o.broadcast(room, peer.SID, domain.EventNewProducer, domain.NewProducerData{
		ProducerID: pr.ID(),
		Kind:       kind,
		UserID:     peer.UserID,
	})
	room.Unlock()

	log.Info().
		Str("module", "orch").
		Str("room", string(room.Name)).
		Str("user", string(peer.UserID)).
		Str("producer_id", pr.ID()).
		Str("kind", string(kind)).
		Msg("producer created")
	return pr.ID(), nil
}

type ConsumeResult struct {
	ConsumerID     string                   `json:"id"`
	ProducerID     string                   `json:"producerId"`
	Kind           domain.MediaKind         `json:"kind"`
	RTPParameters  webrtc.RTPSendParameters `json:"rtpParameters"`
	ProducerUserID domain.UserID            `json:"producerUserId"`
}

// Consume subscribes the caller to a producer of the same room. The
// capability check happens once, here.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, transportID, producerID string, caps core.RTPCapabilities) (ConsumeResult, error) {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return ConsumeResult{}, err
	}
	t, ok := peer.Transport(transportID)
	if !ok {
		room.Unlock()
		return ConsumeResult{}, domain.ErrTransportNotFound
	}
	owner, pr, ok := room.FindProducer(producerID)
	if !ok || pr.Closed() {
		room.Unlock()
		return ConsumeResult{}, domain.ErrProducerNotFound
	}
	ownerID := owner.UserID
	room.Unlock()

	if !o.Engine.CanConsume(producerID, caps) {
		return ConsumeResult{}, domain.ErrIncompatibleCapabilities
	}

	c, err := t.Consume(ctx, producerID, caps)
	if err != nil {
		return ConsumeResult{}, domain.ExternalError("consume", err)
	}
	c.OnProducerClose(func() { o.onConsumerSourceGone(room, peer, c) })

	if !relock(room, peer) {
		c.Close()
		return ConsumeResult{}, domain.ErrPeerNotFound
	}
	if c.Closed() {
		room.Unlock()
		return ConsumeResult{}, domain.ErrProducerNotFound
	}
	peer.AddConsumer(c)
	room.Unlock()

	log.Info().
		Str("module", "orch").
		Str("room", string(room.Name)).
		Str("user", string(peer.UserID)).
		Str("consumer_id", c.ID()).
		Str("producer_id", producerID).
		Msg("consumer created")
	return ConsumeResult{
		ConsumerID:     c.ID(),
		ProducerID:     producerID,
		Kind:           c.Kind(),
		RTPParameters:  c.RTPParameters(),
		ProducerUserID: ownerID,
	}, nil
}

// onConsumerSourceGone drops a consumer whose producer closed and tells its owner.
func (o *Orchestrator) onConsumerSourceGone(room *app.Room, peer *app.Peer, c core.Consumer) {
	room.Lock()
	defer room.Unlock()
	cur, ok := room.Peer(peer.SID)
	if !ok || cur != peer {
		return
	}
	if !peer.RemoveConsumer(c.ID()) {
		return
	}
	o.send(room, peer, domain.EventProducerClosed, domain.ProducerClosedData{
		ConsumerID: c.ID(),
		ProducerID: c.ProducerID(),
	})
	log.Debug().Str("module", "orch").Str("consumer_id", c.ID()).Str("producer_id", c.ProducerID()).Msg("consumer released after producer close")
}

// ExistingProducers snapshots every other peer's open producers.
func (o *Orchestrator) ExistingProducers(sid core.SessionID) ([]domain.ProducerInfo, error) {
	room, _, err := o.lockPeer(sid)
	if err != nil {
		return nil, err
	}
	defer room.Unlock()
	return room.ProducersExcept(sid), nil
}
