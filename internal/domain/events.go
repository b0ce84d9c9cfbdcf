package domain

import "time"

type EventType string

const (
	EventNewProducer            EventType = "newProducer"
	EventExistingProducers      EventType = "existingProducers"
	EventParticipantJoined      EventType = "participantJoined"
	EventUserDisconnected       EventType = "user-disconnected"
	EventProducerClosed         EventType = "producerClosed"
	EventRecordingStarted       EventType = "recordingStarted"
	EventRecordingStopped       EventType = "recordingStopped"
	EventForceAudioMute         EventType = "forceAudioMute"
	EventForceAudioUnmute       EventType = "forceAudioUnmute"
	EventParticipantMuteChanged EventType = "participantMuteChanged"
	EventScreenSharePaused      EventType = "screenSharePaused"
	EventMainVideoChanged       EventType = "mainVideoChanged"
	EventCallEndedForAll        EventType = "callEndedForAll"
	EventKicked                 EventType = "kicked"
)

// Event is a fire-and-forget message pushed to a connection.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type NewProducerData struct {
	ProducerID string    `json:"producerId"`
	Kind       MediaKind `json:"kind"`
	UserID     UserID    `json:"userId"`
}

type UserData struct {
	UserID UserID `json:"userId"`
}

type ProducerClosedData struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

type RecordingStartedData struct {
	RecordingID     string    `json:"recordingId"`
	StartTime       time.Time `json:"startTime"`
	MainVideoUserID UserID    `json:"mainVideoUserId"`
}

type RecordingStoppedData struct {
	RecordingID     string  `json:"recordingId"`
	Duration        float64 `json:"duration"` // seconds
	MainVideoUserID UserID  `json:"mainVideoUserId"`
}

type ForceMuteData struct {
	By UserID `json:"by"`
}

type MuteChangedData struct {
	UserID  UserID `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}

type ScreenSharePausedData struct {
	UserID     UserID `json:"userId"`
	ProducerID string `json:"producerId"`
	Paused     bool   `json:"paused"`
}

type CallEndedData struct {
	By UserID `json:"by"`
}

type KickedData struct {
	By UserID `json:"by"`
}

type ExistingProducersData struct {
	Producers []ProducerInfo `json:"producers"`
}
