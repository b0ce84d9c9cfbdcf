package app

import "fmt"

type BackpressureAction int

const (
	// NoAction drops the event and keeps the connection.
	NoAction BackpressureAction = iota
	// KickMember closes the connection; the disconnect path removes the peer.
	KickMember
)

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(room *Room, peer *Peer) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room *Room, peer *Peer) BackpressureAction {
	return KickMember
}

// DropPolicy tolerates slow peers: they miss the event and stay joined.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(room *Room, peer *Peer) BackpressureAction {
	return NoAction
}

// NewPolicy maps a configured name ("kick" or "drop") to a Policy.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
