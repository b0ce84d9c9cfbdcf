package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/core/coretest"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinLeave(t *testing.T) {
	reg := NewRegistry(context.Background())

	room, peer, err := reg.Join("s1", "r1", "alice", coretest.NewConn(), func(r *Room, p *Peer, created bool, replaced *Peer) {
		assert.True(t, created)
		assert.Nil(t, replaced)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), room.Moderator())
	assert.Equal(t, domain.UserID("alice"), peer.UserID)

	_, _, err = reg.Join("s2", "r1", "bob", coretest.NewConn(), func(r *Room, p *Peer, created bool, replaced *Peer) {
		assert.False(t, created)
	})
	require.NoError(t, err)

	_, _, err = reg.Join("s2", "r2", "bob", coretest.NewConn(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, _, err = reg.Leave("s1", nil, func(r *Room, p *Peer, last bool) { assert.False(t, last) })
	require.NoError(t, err)
	_, _, err = reg.Leave("s1", nil, nil)
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	var wasLast bool
	_, _, err = reg.Leave("s2", nil, func(r *Room, p *Peer, last bool) { wasLast = last })
	require.NoError(t, err)
	assert.True(t, wasLast)

	_, ok := reg.Get("r1")
	assert.False(t, ok)
	assert.True(t, room.Closed())
	assert.Error(t, room.Context().Err())
}

func TestRegistryLeaveExpect(t *testing.T) {
	reg := NewRegistry(context.Background())
	_, first, err := reg.Join("s1", "r1", "alice", coretest.NewConn(), nil)
	require.NoError(t, err)
	_, _, err = reg.Leave("s1", nil, nil)
	require.NoError(t, err)
	_, _, err = reg.Join("s1", "r1", "alice", coretest.NewConn(), nil)
	require.NoError(t, err)

	_, _, err = reg.Leave("s1", first, nil)
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
	_, ok := reg.RoomOf("s1")
	assert.True(t, ok)
}

func TestRegistryReplacesDuplicateUser(t *testing.T) {
	reg := NewRegistry(context.Background())
	_, stale, err := reg.Join("s1", "r1", "alice", coretest.NewConn(), nil)
	require.NoError(t, err)

	_, _, err = reg.Join("s2", "r1", "alice", coretest.NewConn(), func(r *Room, p *Peer, created bool, replaced *Peer) {
		assert.Same(t, stale, replaced)
		assert.Equal(t, 1, r.PeerCount())
	})
	require.NoError(t, err)

	_, ok := reg.RoomOf("s1")
	assert.False(t, ok)
}

func TestRegistryEnd(t *testing.T) {
	reg := NewRegistry(context.Background())
	room, _, err := reg.Join("s1", "r1", "alice", coretest.NewConn(), nil)
	require.NoError(t, err)
	_, _, err = reg.Join("s2", "r1", "bob", coretest.NewConn(), nil)
	require.NoError(t, err)

	_, err = reg.End(room, func(r *Room, peers []*Peer) error { return domain.ErrNotAuthorized })
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, ok := reg.Get("r1")
	assert.True(t, ok)

	peers, err := reg.End(room, nil)
	require.NoError(t, err)
	assert.Len(t, peers, 2)
	rooms, joined := reg.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, joined)

	_, err = reg.End(room, nil)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry(context.Background())
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := core.SessionID(fmt.Sprintf("s%d", i))
			name := domain.RoomName(fmt.Sprintf("r%d", i%3))
			_, _, err := reg.Join(sid, name, domain.UserID(sid), coretest.NewConn(), nil)
			assert.NoError(t, err)
			_, _, err = reg.Leave(sid, nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Empty(t, reg.List())
}

func TestRegistryEndRacesJoin(t *testing.T) {
	for iter := range 20 {
		reg := NewRegistry(context.Background())
		original, _, err := reg.Join("host", "r1", "host", coretest.NewConn(), nil)
		require.NoError(t, err)

		const joiners = 16
		var (
			wg     sync.WaitGroup
			ended  []*Peer
			joined [joiners]*Peer
			rooms  [joiners]*Room
		)
		wg.Add(joiners + 1)
		go func() {
			defer wg.Done()
			ended, err = reg.End(original, nil)
		}()
		for i := range joiners {
			go func() {
				defer wg.Done()
				sid := core.SessionID(fmt.Sprintf("s%d-%d", iter, i))
				r, p, err := reg.Join(sid, "r1", domain.UserID(sid), coretest.NewConn(), nil)
				assert.NoError(t, err)
				rooms[i], joined[i] = r, p
			}()
		}
		wg.Wait()
		require.NoError(t, err)
		assert.True(t, original.Closed())
		mustPeer(t, ended, "host")

		for i, p := range joined {
			require.NotNil(t, p)
			if rooms[i] == original {
				assert.Contains(t, ended, p)
				_, ok := reg.RoomOf(p.SID)
				assert.False(t, ok)
				continue
			}
			assert.NotContains(t, ended, p)
			cur, ok := reg.RoomOf(p.SID)
			require.True(t, ok)
			assert.Same(t, rooms[i], cur)
			cur.Lock()
			assert.False(t, cur.Closed())
			cur.Unlock()
		}

		nRooms, nPeers := reg.Stats()
		sum := 0
		for _, r := range reg.Rooms() {
			assert.NotSame(t, original, r)
			r.Lock()
			sum += r.PeerCount()
			r.Unlock()
		}
		assert.Equal(t, nPeers, sum)
		assert.Equal(t, nPeers, joiners+1-len(ended))
		assert.LessOrEqual(t, nRooms, 1)
	}
}

func mustPeer(t *testing.T, peers []*Peer, uid domain.UserID) *Peer {
	t.Helper()
	for _, p := range peers {
		if p.UserID == uid {
			return p
		}
	}
	t.Fatalf("peer %s not found", uid)
	return nil
}

func TestRoomRecordingStates(t *testing.T) {
	room := newRoom(context.Background(), "r1", "alice")
	room.Lock()
	defer room.Unlock()

	assert.True(t, room.BeginRecording())
	assert.False(t, room.BeginRecording())
	room.AbortRecording()
	assert.Equal(t, RecordingIdle, room.RecordingState())

	_, ok := room.BeginStop(nil)
	assert.False(t, ok)
}
