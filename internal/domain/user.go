// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxRoomNameLen = 64
)

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

// UserID is the caller-supplied application identity. It is opaque to the
// server; no authentication is performed on it.
type UserID string

func NewUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}
