package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrNotAuthorized            = errors.New("not authorized")
	ErrIncompatibleCapabilities = errors.New("incompatible capabilities")
	ErrAlreadyInProgress        = errors.New("already in progress")
	ErrExternalEngine           = errors.New("external engine failure")
	ErrNoMainVideo              = errors.New("no main video selected")
	ErrMainVideoUnavailable     = errors.New("main video unavailable")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrRateLimited              = errors.New("rate limited")
)

var (
	ErrRoomNotFound        = fmt.Errorf("room %w", ErrNotFound)
	ErrPeerNotFound        = fmt.Errorf("peer %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrTransportNotFound   = fmt.Errorf("transport %w", ErrNotFound)
	ErrProducerNotFound    = fmt.Errorf("producer %w", ErrNotFound)
	ErrConsumerNotFound    = fmt.Errorf("consumer %w", ErrNotFound)
)

// Error codes sent back to clients.
const (
	CodeNotFound                 = "NotFound"
	CodeNotAuthorized            = "NotAuthorized"
	CodeIncompatibleCapabilities = "IncompatibleCapabilities"
	CodeAlreadyInProgress        = "AlreadyInProgress"
	CodeExternalEngineFailure    = "ExternalEngineFailure"
	CodeNoMainVideo              = "NoMainVideo"
	CodeMainVideoUnavailable     = "MainVideoUnavailable"
	CodeInvalidRequest           = "InvalidRequest"
	CodeRateLimited              = "RateLimited"
	CodeInternal                 = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	// NoMainVideo and MainVideoUnavailable are checked before NotFound so a
	// wrapped lookup miss inside them keeps the specific code.
	{ErrNoMainVideo, CodeNoMainVideo},
	{ErrMainVideoUnavailable, CodeMainVideoUnavailable},
	{ErrNotFound, CodeNotFound},
	{ErrNotAuthorized, CodeNotAuthorized},
	{ErrIncompatibleCapabilities, CodeIncompatibleCapabilities},
	{ErrAlreadyInProgress, CodeAlreadyInProgress},
	{ErrExternalEngine, CodeExternalEngineFailure},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrRateLimited, CodeRateLimited},
}

// Code maps an error onto its wire code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ExternalError wraps a failure reported by the media engine or the muxer.
func ExternalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalEngine, op, err)
}
