package sfu

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource feeds packets from a channel and ends with io.EOF when closed.
func chanSource(ch <-chan *rtp.Packet) PacketSource {
	return func() (*rtp.Packet, error) {
		p, ok := <-ch
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	}
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint16
	fail bool
}

func (s *recordingSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink broken")
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func TestRelayForwardsToSubscribers(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	m.StartRelay(context.Background(), "p1", chanSource(ch))

	a, b := &recordingSink{}, &recordingSink{}
	_, err := m.AddSubscriber("p1", "c1", a, nil)
	require.NoError(t, err)
	_, err = m.AddSubscriber("p1", "c2", b, nil)
	require.NoError(t, err)

	ch <- pkt(1)
	ch <- pkt(2)
	require.Eventually(t, func() bool { return a.count() == 2 && b.count() == 2 }, time.Second, time.Millisecond)

	m.RemoveSubscriber("p1", "c2")
	ch <- pkt(3)
	require.Eventually(t, func() bool { return a.count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, b.count())

	close(ch)
}

func TestRelayPause(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	m.StartRelay(context.Background(), "p1", chanSource(ch))
	sink := &recordingSink{}
	_, err := m.AddSubscriber("p1", "c1", sink, nil)
	require.NoError(t, err)

	require.NoError(t, m.SetPaused("p1", true))
	ch <- pkt(1)
	// The second send only completes once the first packet was dropped.
	ch <- pkt(2)
	require.NoError(t, m.SetPaused("p1", false))
	ch <- pkt(3)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return slices.Contains(sink.seqs, 3)
	}, time.Second, time.Millisecond)
	sink.mu.Lock()
	assert.NotContains(t, sink.seqs, uint16(1))
	sink.mu.Unlock()

	assert.ErrorIs(t, m.SetPaused("missing", true), ErrRelayNotFound)
	close(ch)
}

func TestRelaySourceEndNotifiesSubscribers(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	relay := m.StartRelay(context.Background(), "p1", chanSource(ch))

	var gone atomic.Int32
	_, err := m.AddSubscriber("p1", "c1", &recordingSink{}, func() { gone.Add(1) })
	require.NoError(t, err)
	_, err = m.AddSubscriber("p1", "c2", &recordingSink{}, func() { gone.Add(1) })
	require.NoError(t, err)

	close(ch)
	<-relay.Done()

	require.Eventually(t, func() bool { return gone.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !m.HasRelay("p1") }, time.Second, time.Millisecond)

	_, err = m.AddSubscriber("p1", "c3", &recordingSink{}, nil)
	assert.ErrorIs(t, err, ErrRelayNotFound)
}

func TestStopRelayNotifiesButRemovedSubscriberIsSilent(t *testing.T) {
	m := NewRelayManager()
	block := make(chan *rtp.Packet)
	m.StartRelay(context.Background(), "p1", chanSource(block))

	var kept, removed atomic.Int32
	_, err := m.AddSubscriber("p1", "c1", &recordingSink{}, func() { kept.Add(1) })
	require.NoError(t, err)
	_, err = m.AddSubscriber("p1", "c2", &recordingSink{}, func() { removed.Add(1) })
	require.NoError(t, err)
	m.RemoveSubscriber("p1", "c2")

	m.StopRelay("p1")
	assert.False(t, m.HasRelay("p1"))
	require.Eventually(t, func() bool { return kept.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, removed.Load())

	close(block)
}

func TestRelayDropsBrokenSink(t *testing.T) {
	m := NewRelayManager()
	ch := make(chan *rtp.Packet)
	relay := m.StartRelay(context.Background(), "p1", chanSource(ch))
	broken := &recordingSink{fail: true}
	ok := &recordingSink{}
	_, err := m.AddSubscriber("p1", "bad", broken, nil)
	require.NoError(t, err)
	_, err = m.AddSubscriber("p1", "good", ok, nil)
	require.NoError(t, err)

	ch <- pkt(1)
	require.Eventually(t, func() bool { return relay.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, ok.count())
	close(ch)
}

func TestOutTrackStates(t *testing.T) {
	ot := NewOutTrack(SinkFunc(func(*rtp.Packet) error { return nil }), nil)
	assert.Equal(t, TrackStateOk, ot.GetState())
	ot.MarkMuted()
	assert.Equal(t, TrackStateMuted, ot.GetState())
	ot.MarkOk()
	assert.Equal(t, TrackStateOk, ot.GetState())
	ot.MarkDelete()
	assert.Equal(t, TrackStateDelete, ot.GetState())
}
