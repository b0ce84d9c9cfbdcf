package domain

import "errors"

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

// RoomName is the case-sensitive key of a room.
type RoomName string

func NewRoomName(raw string) (RoomName, error) {
	if len(raw) == 0 {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(raw), nil
}

// MainVideo points at the video producer promoted as the room's primary stream.
type MainVideo struct {
	UserID     UserID `json:"userId"`
	ProducerID string `json:"producerId"`
}

func (m MainVideo) IsZero() bool { return m.ProducerID == "" }

type RoomInfo struct {
	Name      RoomName `json:"name"`
	PeerCount int      `json:"peer_count"`
	Moderator UserID   `json:"moderator"`
	Recording bool     `json:"recording"`
}
