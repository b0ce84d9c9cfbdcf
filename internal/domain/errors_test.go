package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"peer miss", ErrPeerNotFound, CodeNotFound},
		{"wrapped transport miss", fmt.Errorf("connect: %w", ErrTransportNotFound), CodeNotFound},
		{"not authorized", ErrNotAuthorized, CodeNotAuthorized},
		{"incompatible", ErrIncompatibleCapabilities, CodeIncompatibleCapabilities},
		{"in progress", ErrAlreadyInProgress, CodeAlreadyInProgress},
		{"external", ExternalError("produce", errors.New("boom")), CodeExternalEngineFailure},
		{"no main video", ErrNoMainVideo, CodeNoMainVideo},
		{"main video gone", fmt.Errorf("%w: %w", ErrMainVideoUnavailable, ErrProducerNotFound), CodeMainVideoUnavailable},
		{"invalid", ErrInvalidRequest, CodeInvalidRequest},
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"unknown", errors.New("whatever"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestExternalErrorKeepsCause(t *testing.T) {
	cause := errors.New("dtls failed")
	err := ExternalError("connect", cause)
	assert.ErrorIs(t, err, ErrExternalEngine)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connect")
}

func TestNewRoomNameAndUserID(t *testing.T) {
	_, err := NewRoomName("")
	assert.ErrorIs(t, err, ErrRoomNameEmpty)
	long := make([]byte, MaxRoomNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewRoomName(string(long))
	assert.ErrorIs(t, err, ErrRoomNameTooLong)
	name, err := NewRoomName("R1")
	assert.NoError(t, err)
	assert.Equal(t, RoomName("R1"), name)

	_, err = NewUserID("")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
	_, err = NewUserID(string(long))
	assert.ErrorIs(t, err, ErrUserIDTooLong)
}
