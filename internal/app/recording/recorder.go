package recording

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// Recorder taps a producer through a direct transport and feeds the packets
// to an external muxer.
type Recorder struct {
	Engine      core.Engine
	Launcher    core.MuxerLauncher
	Dir         string
	StopTimeout time.Duration

	now func() time.Time

	mu     sync.Mutex
	lastMs int64
}

func NewRecorder(engine core.Engine, launcher core.MuxerLauncher, dir string, stopTimeout time.Duration) *Recorder {
	return &Recorder{
		Engine:      engine,
		Launcher:    launcher,
		Dir:         dir,
		StopTimeout: stopTimeout,
		now:         time.Now,
	}
}

// Session is one running recording. Its target producer is fixed at start.
type Session struct {
	ID               string
	RoomName         domain.RoomName
	StartTime        time.Time
	TargetProducerID string
	MainVideoUserID  domain.UserID
	OutputPath       string

	transport core.Transport
	consumer  core.Consumer
	muxer     core.Muxer

	now         func() time.Time
	stopTimeout time.Duration

	written  atomic.Int64
	failed   atomic.Bool
	stopOnce sync.Once
	duration time.Duration
	stopErr  error
}

// Start launches the muxer and subscribes it to target. onSourceGone runs
// once, from an engine goroutine, if the target producer closes while the
// session is running. Nothing is left behind when Start fails.
func (r *Recorder) Start(ctx context.Context, room domain.RoomName, target domain.MainVideo, onSourceGone func(*Session)) (s *Session, err error) {
	logger := log.With().Str("module", "recording").Str("room", string(room)).Str("producer_id", target.ProducerID).Logger()

	start := r.now()
	path := r.outputPath(room, start)

	muxer, err := r.Launcher.Launch(ctx, path)
	if err != nil {
		return nil, domain.ExternalError("launch muxer", err)
	}
	defer func() {
		if err != nil {
			_ = muxer.Close()
			_ = muxer.Wait(context.Background())
		}
	}()

	transport, err := r.Engine.CreateDirectTransport(ctx)
	if err != nil {
		return nil, domain.ExternalError("create recording transport", err)
	}
	defer func() {
		if err != nil {
			transport.Close()
		}
	}()

	consumer, err := transport.Consume(ctx, target.ProducerID, r.Engine.Capabilities())
	if err != nil {
		return nil, domain.ExternalError("create recording consumer", err)
	}

	s = &Session{
		ID:               ulid.Make().String(),
		RoomName:         room,
		StartTime:        start,
		TargetProducerID: target.ProducerID,
		MainVideoUserID:  target.UserID,
		OutputPath:       path,
		transport:        transport,
		consumer:         consumer,
		muxer:            muxer,
		now:              r.now,
		stopTimeout:      r.StopTimeout,
	}
	consumer.OnRTP(func(p *rtp.Packet) {
		if err := muxer.WriteRTP(p); err != nil {
			if s.failed.CompareAndSwap(false, true) {
				logger.Warn().Err(err).Str("recording_id", s.ID).Msg("muxer write failed")
			}
			return
		}
		s.written.Add(1)
	})
	if onSourceGone != nil {
		consumer.OnProducerClose(func() { onSourceGone(s) })
	}

	logger.Info().Str("recording_id", s.ID).Str("output", path).Msg("recording started")
	return s, nil
}

// outputPath derives <dir>/<room>_<unix ms>.webm with a strictly increasing
// timestamp so two recordings never share a file.
func (r *Recorder) outputPath(room domain.RoomName, t time.Time) string {
	r.mu.Lock()
	ms := t.UnixMilli()
	if ms <= r.lastMs {
		ms = r.lastMs + 1
	}
	r.lastMs = ms
	r.mu.Unlock()
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%d.webm", sanitize(string(room)), ms))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Stop closes the tap, ends the muxer input and waits for the muxer to exit.
// The returned duration is never negative; the error reports a muxer that
// failed or did not exit in time. Repeated calls return the first result.
func (s *Session) Stop(ctx context.Context) (time.Duration, error) {
	s.stopOnce.Do(func() {
		logger := log.With().Str("module", "recording").Str("room", string(s.RoomName)).Str("recording_id", s.ID).Logger()

		s.consumer.Close()
		s.transport.Close()
		closeErr := s.muxer.Close()

		waitCtx := ctx
		if s.stopTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, s.stopTimeout)
			defer cancel()
		}
		waitErr := s.muxer.Wait(waitCtx)

		s.duration = max(s.now().Sub(s.StartTime), 0)
		if err := errors.Join(closeErr, waitErr); err != nil {
			s.stopErr = domain.ExternalError("muxer exit", err)
			logger.Warn().Err(err).Dur("duration", s.duration).Msg("recording stopped with muxer error")
			return
		}
		logger.Info().Dur("duration", s.duration).Int64("packets", s.written.Load()).Str("output", s.OutputPath).Msg("recording stopped")
	})
	return s.duration, s.stopErr
}

// Packets is the number of packets handed to the muxer.
func (s *Session) Packets() int64 { return s.written.Load() }
