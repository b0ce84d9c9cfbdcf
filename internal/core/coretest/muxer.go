package coretest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Conference/internal/core"
	"github.com/pion/rtp"
)

// Launcher starts fake muxers and remembers them.
type Launcher struct {
	mu     sync.Mutex
	muxers []*Muxer

	FailLaunch error
	// ExitErr is returned by Wait of every muxer launched afterwards.
	ExitErr error
	// Hang keeps Wait blocked until its context ends.
	Hang bool
	// BlockWrites holds every WriteRTP until Close, like a stalled pipe.
	BlockWrites bool
}

func (l *Launcher) Launch(ctx context.Context, outputPath string) (core.Muxer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailLaunch != nil {
		return nil, l.FailLaunch
	}
	m := &Muxer{
		path:    outputPath,
		exitErr: l.ExitErr,
		hang:    l.Hang,
		block:   l.BlockWrites,
		exited:  make(chan struct{}),
		release: make(chan struct{}),
	}
	l.muxers = append(l.muxers, m)
	return m, nil
}

func (l *Launcher) Muxers() []*Muxer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Muxer(nil), l.muxers...)
}

type Muxer struct {
	path    string
	exitErr error
	hang    bool
	block   bool

	Packets atomic.Int64
	Blocked atomic.Int64
	closed  atomic.Bool
	once    sync.Once
	exited  chan struct{}

	releaseOnce sync.Once
	release     chan struct{}
}

func (m *Muxer) WriteRTP(p *rtp.Packet) error {
	if m.block {
		m.Blocked.Add(1)
		<-m.release
	}
	if m.closed.Load() {
		return errors.New("muxer input closed")
	}
	m.Packets.Add(1)
	return nil
}

func (m *Muxer) Close() error {
	m.closed.Store(true)
	m.releaseOnce.Do(func() { close(m.release) })
	if !m.hang {
		m.once.Do(func() { close(m.exited) })
	}
	return nil
}

func (m *Muxer) Wait(ctx context.Context) error {
	select {
	case <-m.exited:
		return m.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Muxer) OutputPath() string { return m.path }

func (m *Muxer) Closed() bool { return m.closed.Load() }

// Store records saved recordings.
type Store struct {
	mu    sync.Mutex
	paths []string
}

func (s *Store) Save(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return "mem://" + path, nil
}

func (s *Store) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}
