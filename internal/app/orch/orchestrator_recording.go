package orch

import (
	"context"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/recording"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

type RecordingResult struct {
	Recording       bool          `json:"recording"`
	RecordingID     string        `json:"recordingId"`
	StartTime       time.Time     `json:"startTime,omitzero"`
	Duration        float64       `json:"duration"`
	MainVideoUserID domain.UserID `json:"mainVideoUserId"`
	MuxerError      string        `json:"muxerError,omitempty"`
}

// ToggleRecording starts a recording of the current main video, or stops the
// running one. Moderator only.
func (o *Orchestrator) ToggleRecording(ctx context.Context, sid core.SessionID) (RecordingResult, error) {
	room, peer, err := o.lockPeer(sid)
	if err != nil {
		return RecordingResult{}, err
	}
	if err := requireModerator(room, peer); err != nil {
		room.Unlock()
		return RecordingResult{}, err
	}

	switch room.RecordingState() {
	case app.RecordingIdle:
		return o.startRecording(ctx, room)
	case app.RecordingActive:
		sess, _ := room.BeginStop(nil)
		room.Unlock()
		d, err := o.finishRecording(ctx, room, sess)
		res := RecordingResult{
			RecordingID:     sess.ID,
			Duration:        d.Seconds(),
			MainVideoUserID: sess.MainVideoUserID,
		}
		if err != nil {
			res.MuxerError = err.Error()
		}
		return res, nil
	default:
		state := room.RecordingState()
		room.Unlock()
		log.Warn().Str("module", "orch").Str("room", string(room.Name)).Stringer("state", state).Msg("recording toggle while transitioning")
		return RecordingResult{}, domain.ErrAlreadyInProgress
	}
}

// startRecording is entered with the room locked and returns with it unlocked.
func (o *Orchestrator) startRecording(ctx context.Context, room *app.Room) (RecordingResult, error) {
	mv := room.MainVideo()
	if mv.IsZero() {
		room.Unlock()
		return RecordingResult{}, domain.ErrNoMainVideo
	}
	if _, pr, ok := room.FindProducer(mv.ProducerID); !ok || pr.Closed() {
		room.Unlock()
		return RecordingResult{}, domain.ErrMainVideoUnavailable
	}
	room.BeginRecording()
	room.Unlock()

	sess, err := o.Recorder.Start(ctx, room.Name, mv, func(s *recording.Session) { o.onRecordingSourceGone(room, s) })

	room.Lock()
	if err != nil {
		room.AbortRecording()
		room.Unlock()
		log.Error().Err(err).Str("module", "orch").Str("room", string(room.Name)).Msg("recording start failed")
		return RecordingResult{}, err
	}
	if !room.CommitRecording(sess) {
		room.Unlock()
		o.goBackground(func() { _, _ = sess.Stop(context.Background()) })
		return RecordingResult{}, domain.ErrRoomNotFound
	}
	o.stats.RecordingsStarted.Add(1)
	o.stats.RecordingsActive.Add(1)
	o.broadcast(room, "", domain.EventRecordingStarted, domain.RecordingStartedData{
		RecordingID:     sess.ID,
		StartTime:       sess.StartTime,
		MainVideoUserID: sess.MainVideoUserID,
	})

	// The target may have closed before the close callback was armed.
	if _, pr, ok := room.FindProducer(sess.TargetProducerID); !ok || pr.Closed() {
		if s, ok := room.BeginStop(sess); ok {
			o.goBackground(func() { _, _ = o.finishRecording(context.Background(), room, s) })
		}
	}
	room.Unlock()

	return RecordingResult{
		Recording:       true,
		RecordingID:     sess.ID,
		StartTime:       sess.StartTime,
		MainVideoUserID: sess.MainVideoUserID,
	}, nil
}

// finishRecording stops a session already moved to stopping, returns the room
// to idle and announces the result. It always reaches idle.
func (o *Orchestrator) finishRecording(ctx context.Context, room *app.Room, sess *recording.Session) (time.Duration, error) {
	d, err := sess.Stop(ctx)

	room.Lock()
	room.FinishStop(sess)
	if !room.Closed() {
		o.broadcast(room, "", domain.EventRecordingStopped, domain.RecordingStoppedData{
			RecordingID:     sess.ID,
			Duration:        d.Seconds(),
			MainVideoUserID: sess.MainVideoUserID,
		})
	}
	room.Unlock()
	o.stats.RecordingsStopped.Add(1)
	o.stats.RecordingsActive.Add(-1)

	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room.Name)).Str("recording_id", sess.ID).Msg("recording finished with error")
		return d, err
	}
	if o.Store != nil {
		o.goBackground(func() { o.upload(sess) })
	}
	return d, nil
}

func (o *Orchestrator) upload(sess *recording.Session) {
	loc, err := o.Store.Save(context.Background(), sess.OutputPath)
	if err != nil {
		o.stats.UploadFailures.Add(1)
		log.Error().Err(err).Str("module", "orch").Str("recording_id", sess.ID).Str("file", sess.OutputPath).Msg("recording upload failed")
		return
	}
	o.stats.Uploads.Add(1)
	log.Info().Str("module", "orch").Str("recording_id", sess.ID).Str("location", loc).Msg("recording stored")
}

// onRecordingSourceGone stops a recording whose target producer closed.
func (o *Orchestrator) onRecordingSourceGone(room *app.Room, sess *recording.Session) {
	room.Lock()
	s, ok := room.BeginStop(sess)
	room.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("room", string(room.Name)).Str("recording_id", s.ID).Msg("recorded producer closed, stopping recording")
	_, _ = o.finishRecording(context.Background(), room, s)
}

// Shutdown stops every active recording so their files are complete, then
// waits for background work.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, room := range o.Registry.Rooms() {
		room.Lock()
		sess, ok := room.BeginStop(nil)
		room.Unlock()
		if ok {
			_, _ = o.finishRecording(ctx, room, sess)
		}
	}
	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("module", "orch").Msg("shutdown timed out waiting for background work")
	}
}
