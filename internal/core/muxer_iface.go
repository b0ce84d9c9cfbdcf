package core

import (
	"context"

	"github.com/pion/rtp"
)

// Muxer is a running external encoding process fed with media packets.
type Muxer interface {
	WriteRTP(pkt *rtp.Packet) error
	// Close signals end of input.
	Close() error
	// Wait blocks until the process exits. A non-zero exit is an error.
	Wait(ctx context.Context) error
	OutputPath() string
}

type MuxerLauncher interface {
	Launch(ctx context.Context, outputPath string) (Muxer, error)
}

// RecordingStore receives finished recording files.
type RecordingStore interface {
	Save(ctx context.Context, path string) (string, error)
}
