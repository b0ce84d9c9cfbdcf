package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Local leaves recordings where the muxer wrote them.
type Local struct {
	Dir string
}

func NewLocal(dir string) *Local { return &Local{Dir: dir} }

func (l *Local) Save(_ context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	log.Info().Str("module", "storage").Str("path", abs).Int64("size", info.Size()).Msg("recording kept locally")
	return abs, nil
}
