package core

// SessionID identifies one signaling connection. A connection belongs to at
// most one room at a time.
type SessionID string
