package app

import (
	"slices"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

// Peer is one connection's state inside a room. Every method except the
// constructor expects the owning room's lock to be held.
type Peer struct {
	SID      core.SessionID
	UserID   domain.UserID
	Conn     core.SignalConnection
	JoinedAt time.Time

	transports []core.Transport
	producers  []core.Producer
	consumers  []core.Consumer
	muted      bool
}

func NewPeer(sid core.SessionID, uid domain.UserID, conn core.SignalConnection) *Peer {
	return &Peer{
		SID:      sid,
		UserID:   uid,
		Conn:     conn,
		JoinedAt: time.Now(),
	}
}

func (p *Peer) Muted() bool { return p.muted }

func (p *Peer) SetMuted(m bool) { p.muted = m }

func (p *Peer) AddTransport(t core.Transport) { p.transports = append(p.transports, t) }

func (p *Peer) AddProducer(pr core.Producer) { p.producers = append(p.producers, pr) }

func (p *Peer) AddConsumer(c core.Consumer) { p.consumers = append(p.consumers, c) }

// Transport resolves a transport among this peer's own transports only.
func (p *Peer) Transport(id string) (core.Transport, bool) {
	for _, t := range p.transports {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

func (p *Peer) Producer(id string) (core.Producer, bool) {
	for _, pr := range p.producers {
		if pr.ID() == id {
			return pr, true
		}
	}
	return nil, false
}

func (p *Peer) Consumer(id string) (core.Consumer, bool) {
	for _, c := range p.consumers {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// RemoveConsumer drops the consumer from the peer. It reports whether the
// consumer was still registered.
func (p *Peer) RemoveConsumer(id string) bool {
	i := slices.IndexFunc(p.consumers, func(c core.Consumer) bool { return c.ID() == id })
	if i < 0 {
		return false
	}
	p.consumers = slices.Delete(p.consumers, i, i+1)
	return true
}

// Producers returns the open producers.
func (p *Peer) Producers() []core.Producer {
	out := make([]core.Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		if !pr.Closed() {
			out = append(out, pr)
		}
	}
	return out
}

// VideoProducer returns the first open video producer, if any.
func (p *Peer) VideoProducer() (core.Producer, bool) {
	for _, pr := range p.producers {
		if pr.Kind() == domain.KindVideo && !pr.Closed() {
			return pr, true
		}
	}
	return nil, false
}

func (p *Peer) Counts() (transports, producers, consumers int) {
	return len(p.transports), len(p.producers), len(p.consumers)
}

// Media holds engine objects detached from a peer, ready to be closed
// without any lock held.
type Media struct {
	Transports []core.Transport
	Producers  []core.Producer
	Consumers  []core.Consumer
}

// DetachMedia empties the peer and hands its engine objects to the caller.
func (p *Peer) DetachMedia() Media {
	m := Media{Transports: p.transports, Producers: p.producers, Consumers: p.consumers}
	p.transports, p.producers, p.consumers = nil, nil, nil
	return m
}

// Close closes consumers, then producers, then transports. Engine objects
// tolerate repeated Close calls.
func (m Media) Close() {
	for _, c := range m.Consumers {
		c.Close()
	}
	for _, pr := range m.Producers {
		pr.Close()
	}
	for _, t := range m.Transports {
		t.Close()
	}
}

func (m Media) Empty() bool {
	return len(m.Transports) == 0 && len(m.Producers) == 0 && len(m.Consumers) == 0
}
