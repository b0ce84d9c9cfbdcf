package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrRelayNotFound = errors.New("relay not found")

// RelayManager owns the relays of every producer, keyed by producer id.
// Subscribers only ever hold the id, never the relay itself.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the given producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, producerID string, src PacketSource) *Relay {
	logger := log.With().
		Str("module", "sfu").
		Str("producer_id", producerID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(producerID, src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[producerID]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.stop()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[producerID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go func() {
		relay.loop(relayCtx, &logger)
		m.forget(producerID, relay)
	}()
	return relay
}

// AddSubscriber attaches sink to the relay of producerID under dstID.
// onSourceGone runs once if the producer stops while dst is subscribed.
func (m *RelayManager) AddSubscriber(producerID, dstID string, sink PacketSink, onSourceGone func()) (*OutTrack, error) {
	relay, ok := m.Relay(producerID)
	if !ok {
		return nil, ErrRelayNotFound
	}
	ot := NewOutTrack(sink, onSourceGone)
	if !relay.AddOutTrack(dstID, ot) {
		return nil, ErrRelayNotFound
	}
	return ot, nil
}

// RemoveSubscriber detaches dstID from the relay of producerID.
func (m *RelayManager) RemoveSubscriber(producerID, dstID string) {
	relay, ok := m.Relay(producerID)
	if !ok {
		return
	}
	relay.removeOutTrack(dstID)
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if ok {
		delete(m.relays, producerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.stop()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// SetPaused pauses or resumes forwarding for producerID.
func (m *RelayManager) SetPaused(producerID string, paused bool) error {
	relay, ok := m.Relay(producerID)
	if !ok {
		return ErrRelayNotFound
	}
	relay.SetPaused(paused)
	return nil
}

// HasRelay reports whether a relay exists for producerID.
func (m *RelayManager) HasRelay(producerID string) bool {
	_, ok := m.Relay(producerID)
	return ok
}

func (m *RelayManager) Relay(producerID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[producerID]
	return relay, ok
}

func (m *RelayManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.stop()
		if r.cancel != nil {
			r.cancel()
		}
	}
}

func (m *RelayManager) forget(producerID string, relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.relays[producerID]; ok && cur == relay {
		delete(m.relays, producerID)
	}
}
