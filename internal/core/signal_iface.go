package core

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a frame without blocking. Frames sent on one connection
	// are delivered in order.
	TrySend(Frame) error
	// Close flushes queued frames and terminates the connection.
	Close()
}
