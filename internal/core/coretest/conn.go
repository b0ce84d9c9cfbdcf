package coretest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Conference/internal/core"
)

var ErrFull = errors.New("queue full")

// Conn records every frame sent to it.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool

	// Full makes TrySend report backpressure.
	Full bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.Full {
		return ErrFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	c.Full = full
	c.mu.Unlock()
}

// Message is a decoded frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Conn) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.frames))
	for _, f := range c.frames {
		var m Message
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Events returns the messages of the given type.
func (c *Conn) Events(typ string) []Message {
	var out []Message
	for _, m := range c.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Count returns how many messages of the given type were sent.
func (c *Conn) Count(typ string) int { return len(c.Events(typ)) }

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
