package avatar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pelatih-ai/pelatih/server/domain/repositories"
)

// FrameSender is the slice of the connection manager the pacer uses. It
// never touches a connection handle directly.
type FrameSender interface {
	Send(sessionID string, header Header, body interface{}) error
	SendBinary(sessionID string, payload []byte) error
}

// ErrStreamActive is returned by Stream when the session already has a
// run in flight. The caller interrupts the current run first if it wants
// to supersede it.
var ErrStreamActive = errors.New("avatar: session already has an active audio stream")

// SynthesisError reports a failed synthesis run for a session. The avatar
// service has already been sent a best-effort end-of-stream by the time
// the caller sees it.
type SynthesisError struct {
	SessionID string
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("avatar session %s: synthesis failed: %v", e.SessionID, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Pacer drives one outbound audio stream at real-time playback rate:
// PCM from the synthesizer is sliced into fixed frames and sent through
// the connection manager at one frame per 40 ms, so the rendering
// service lip-syncs against a steady feed instead of a burst.
type Pacer struct {
	sender     FrameSender
	tts        repositories.SpeechSynthesizer
	interrupts *InterruptStore
	logger     *zap.Logger

	// frameInterval is the nominal spacing between frames. Tests shrink it.
	frameInterval time.Duration
}

// NewPacer creates a pacer sending through sender.
func NewPacer(sender FrameSender, tts repositories.SpeechSynthesizer, interrupts *InterruptStore, logger *zap.Logger) *Pacer {
	return &Pacer{
		sender:        sender,
		tts:           tts,
		interrupts:    interrupts,
		logger:        logger,
		frameInterval: FrameMillis * time.Millisecond,
	}
}

// Stream synthesizes text and feeds the session the result as paced
// binary frames, until the provider stream ends or the session's
// interrupt flag is raised. A session carries at most one run at a
// time; a second call while one is in flight returns ErrStreamActive.
// A barge-in is a normal outcome, not an
// error: the pacer stops within one pacing interval, sends nothing
// further, and returns nil. Only frames, never a partial buffer, are
// sent after an interrupt; a trailing partial frame is zero-padded and
// sent only when the stream ends cleanly.
func (p *Pacer) Stream(ctx context.Context, sessionID string, text string, voiceID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One stream per session: the slot claim also clears stale flags
	// from the previous run.
	if !p.interrupts.BeginStream(sessionID) {
		return ErrStreamActive
	}
	defer p.interrupts.EndStream(sessionID)

	if err := p.sender.Send(sessionID, HeaderPCMStart, nil); err != nil {
		return &SynthesisError{SessionID: sessionID, Err: err}
	}

	audioCh, errCh, err := p.tts.SynthesizeStream(ctx, text, voiceID)
	if err != nil {
		p.endOfStream(sessionID)
		return &SynthesisError{SessionID: sessionID, Err: err}
	}

	p.logger.Info("Audio stream started",
		zap.String("sessionID", sessionID),
		zap.String("voiceID", voiceID),
		zap.Int("textLen", len(text)))

	var (
		buffer  []byte
		frames  int
		aborted bool
	)

receive:
	for chunk := range audioCh {
		buffer = append(buffer, chunk...)

		for len(buffer) >= FrameBytes {
			if p.interrupts.StopRequested(sessionID) {
				aborted = true
				break receive
			}

			frame := buffer[:FrameBytes]
			buffer = buffer[FrameBytes:]
			if err := p.sender.SendBinary(sessionID, frame); err != nil {
				p.endOfStream(sessionID)
				return &SynthesisError{SessionID: sessionID, Err: err}
			}
			frames++

			select {
			case <-time.After(p.frameInterval):
			case <-ctx.Done():
				p.logger.Warn("Audio stream cancelled",
					zap.String("sessionID", sessionID),
					zap.Int("framesSent", frames))
				return ctx.Err()
			}

			if p.interrupts.StopRequested(sessionID) {
				aborted = true
				break receive
			}
		}
	}

	// An interrupt raised while waiting on the provider, with no full
	// frame in flight, still cancels the run.
	if !aborted && p.interrupts.StopRequested(sessionID) {
		aborted = true
	}

	if aborted {
		cancel()
		p.logger.Info("Audio stream interrupted",
			zap.String("sessionID", sessionID),
			zap.Int("framesSent", frames),
			zap.Int("bytesDropped", len(buffer)))
		return nil
	}

	select {
	case err := <-errCh:
		if err != nil {
			p.endOfStream(sessionID)
			return &SynthesisError{SessionID: sessionID, Err: err}
		}
	default:
	}

	// Clean end: flush the remainder as one zero-padded final frame.
	if len(buffer) > 0 {
		frame := make([]byte, FrameBytes)
		copy(frame, buffer)
		if err := p.sender.SendBinary(sessionID, frame); err != nil {
			p.endOfStream(sessionID)
			return &SynthesisError{SessionID: sessionID, Err: err}
		}
		frames++
	}

	if err := p.sender.Send(sessionID, HeaderAudioEnd, nil); err != nil {
		return &SynthesisError{SessionID: sessionID, Err: err}
	}

	p.logger.Info("Audio stream completed",
		zap.String("sessionID", sessionID),
		zap.Int("framesSent", frames))
	return nil
}

// Busy reports whether the session currently has an active stream run.
func (p *Pacer) Busy(sessionID string) bool {
	return p.interrupts.State(sessionID).Streaming
}

// endOfStream tells the rendering service the stream is over after a
// failure, so the avatar does not hang mid-gesture. Best effort.
func (p *Pacer) endOfStream(sessionID string) {
	if err := p.sender.Send(sessionID, HeaderAudioEnd, nil); err != nil {
		p.logger.Warn("Failed to send end-of-stream after error",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}
}
