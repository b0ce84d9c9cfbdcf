package domain

import "time"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Member is a read-only view of a participant for APIs (no transport fields).
type Member struct {
	UserID      UserID    `json:"userId"`
	IsMuted     bool      `json:"isMuted"`
	IsModerator bool      `json:"isModerator"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ProducerInfo describes a producer to peers that may want to consume it.
type ProducerInfo struct {
	ProducerID string    `json:"producerId"`
	Kind       MediaKind `json:"kind"`
	UserID     UserID    `json:"userId"`
}
